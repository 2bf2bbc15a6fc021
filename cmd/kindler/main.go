// Command kindler is a CLI client for the note synchronization service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/majkowska/kindler/internal/api"
	"github.com/majkowska/kindler/internal/config"
	"github.com/majkowska/kindler/internal/engine"
	"github.com/majkowska/kindler/internal/errs"
	"github.com/majkowska/kindler/internal/keep"
	"github.com/majkowska/kindler/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, `kindler CLI
Usage:
  kindler [-v] <cmd> [args]

Environment:
  KINDLER_SERVER_URL   changes endpoint (required)
  KINDLER_STATE_PATH   session store file (default ~/.config/kindler/state.db)
  KINDLER_TOKEN        bearer token
  KINDLER_RETRIES      retry budget per send

Commands:
  version
  sync                                 (incremental sync)
  resync                               (discard local state and fetch everything)
  list                                 (print top-level notes and lists)
  labels                               (print labels)
  add-note   -title <t> -text <body>   (create a note and sync)
  add-list   -title <t>
  add-label  -name <n>
  dump       -file <out> ('-'=stdout)  (snapshot session state)
  restore    -file <in>  ('-'=stdin)
`)
	os.Exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands over a session restored from the local store.
func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	if cmd == "version" {
		fmt.Printf("kindler %s (%s)\n", version, buildDate)
		return
	}

	log, err := buildLogger(*verbose)
	if err != nil {
		fail(err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o700); err != nil {
		fail(err)
	}
	st, err := store.Open(cfg.StatePath)
	if err != nil {
		fail(err)
	}
	defer st.Close()

	tokens, err := tokenSource(cfg, st)
	if err != nil {
		fail(err)
	}
	client := api.New(cfg.ServerURL, tokens, log)
	client.SetRetries(cfg.Retries)

	eng := engine.New(client, log)
	if blob, err := st.LoadState(); err == nil {
		if err := eng.Restore(blob); err != nil {
			fail(fmt.Errorf("restore session: %w", err))
		}
	} else if !errors.Is(err, errs.ErrNotFound) {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch cmd {

	case "sync":
		runSync(ctx, eng, st, false)

	case "resync":
		runSync(ctx, eng, st, true)

	case "list":
		type row struct{ ID, Type, Title string }
		rows := []row{}
		for _, top := range eng.Root().Children() {
			r := row{ID: top.Base().ID(), Type: string(top.Type())}
			switch n := top.(type) {
			case *keep.Note:
				r.Title = n.Title()
			case *keep.List:
				r.Title = n.Title()
			}
			rows = append(rows, r)
		}
		printJSON(rows)

	case "labels":
		type row struct{ ID, Name string }
		rows := []row{}
		for _, l := range eng.Labels() {
			if l.Timestamps().Deleted() {
				continue
			}
			rows = append(rows, row{ID: l.ID(), Name: l.Name()})
		}
		printJSON(rows)

	case "add-note":
		fs := flag.NewFlagSet("add-note", flag.ExitOnError)
		title := fs.String("title", "", "note title")
		text := fs.String("text", "", "note body")
		_ = fs.Parse(flag.Args()[1:])
		if *title == "" && *text == "" {
			fmt.Fprintln(os.Stderr, "need -title or -text")
			os.Exit(1)
		}
		n, err := eng.CreateNote(*title, *text, "")
		if err != nil {
			fail(err)
		}
		runSync(ctx, eng, st, false)
		fmt.Println(n.ID())

	case "add-list":
		fs := flag.NewFlagSet("add-list", flag.ExitOnError)
		title := fs.String("title", "", "list title")
		_ = fs.Parse(flag.Args()[1:])
		if *title == "" {
			fmt.Fprintln(os.Stderr, "need -title")
			os.Exit(1)
		}
		l, err := eng.CreateList(*title)
		if err != nil {
			fail(err)
		}
		runSync(ctx, eng, st, false)
		fmt.Println(l.ID())

	case "add-label":
		fs := flag.NewFlagSet("add-label", flag.ExitOnError)
		name := fs.String("name", "", "label name")
		_ = fs.Parse(flag.Args()[1:])
		if *name == "" {
			fmt.Fprintln(os.Stderr, "need -name")
			os.Exit(1)
		}
		l, err := eng.CreateLabel(*name)
		if err != nil {
			fail(err)
		}
		runSync(ctx, eng, st, false)
		fmt.Println(l.ID())

	case "dump":
		fs := flag.NewFlagSet("dump", flag.ExitOnError)
		file := fs.String("file", "-", "output file ('-'=stdout)")
		_ = fs.Parse(flag.Args()[1:])
		blob, err := eng.Dump()
		if err != nil {
			fail(err)
		}
		if *file == "-" {
			fmt.Println(string(blob))
			break
		}
		if err := os.WriteFile(*file, blob, 0o600); err != nil {
			fail(err)
		}

	case "restore":
		fs := flag.NewFlagSet("restore", flag.ExitOnError)
		file := fs.String("file", "", "input file ('-'=stdin)")
		_ = fs.Parse(flag.Args()[1:])
		if *file == "" {
			fmt.Fprintln(os.Stderr, "need -file")
			os.Exit(1)
		}
		blob, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		if err := eng.Restore(blob); err != nil {
			fail(err)
		}
		persist(eng, st)
		fmt.Println("ok")

	default:
		usage()
	}
}

// runSync syncs, persists the snapshot, and reports sync-level failures.
// A server-forced resync is surfaced as an instruction, not retried blindly.
func runSync(ctx context.Context, eng *engine.Engine, st *store.Store, resync bool) {
	if err := eng.Sync(ctx, resync); err != nil {
		if errors.Is(err, errs.ErrResyncRequired) {
			fmt.Fprintln(os.Stderr, "server requires a full resync: run `kindler resync`")
			os.Exit(1)
		}
		fail(err)
	}
	if eng.UpgradeRecommended() {
		fmt.Fprintln(os.Stderr, "note: server recommends a client upgrade")
	}
	persist(eng, st)
}

func persist(eng *engine.Engine, st *store.Store) {
	blob, err := eng.Dump()
	if err != nil {
		fail(err)
	}
	if err := st.SaveState(blob); err != nil {
		fail(err)
	}
}

// tokenSource prefers an explicit token from the environment, falling back
// to the cached one in the store. The cached path renews by re-reading the
// store, so a token refreshed by another process is picked up near expiry
// instead of failing the run.
func tokenSource(cfg *config.Config, st *store.Store) (api.TokenSource, error) {
	if cfg.Token != "" {
		if exp := api.TokenExpiry(cfg.Token); !exp.IsZero() {
			_ = st.SaveToken(cfg.Token, exp)
		}
		return api.StaticToken(cfg.Token), nil
	}
	if _, _, err := st.LoadToken(); err != nil {
		return nil, errors.New("no valid token: set KINDLER_TOKEN")
	}
	return api.NewRefreshingToken(func(context.Context) (string, error) {
		tok, _, err := st.LoadToken()
		if err != nil {
			return "", fmt.Errorf("cached token expired, set KINDLER_TOKEN: %w", err)
		}
		return tok, nil
	}), nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
