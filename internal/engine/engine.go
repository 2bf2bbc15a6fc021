// Package engine orchestrates synchronization between the local object
// graph and the remote changes endpoint: dirty collection, change rounds,
// delta reconciliation and session-state snapshots.
//
// The engine is single-threaded: callers must serialize all graph mutation
// and all engine calls through one logical owner per session.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/majkowska/kindler/internal/errs"
	"github.com/majkowska/kindler/internal/keep"
	"github.com/majkowska/kindler/internal/wire"
)

// Changer performs one request/response round against the changes endpoint.
type Changer interface {
	Changes(ctx context.Context, req *wire.ChangesRequest) (*wire.ChangesResponse, error)
}

// clientPlatform and clientVersion identify this client in request headers.
const clientPlatform = "ANDROID"

var clientVersion = wire.ClientVersion{Major: "9", Minor: "9", Build: "9", Revision: "9"}

// capabilities is the fixed advertised feature set.
var capabilities = []string{"NC", "PI", "LB", "AN", "SH", "DR", "TR", "IN", "SNB", "MI", "CO"}

// topLeveler is satisfied by Note and List.
type topLeveler interface {
	keep.Noder
	Labels() *keep.NodeLabels
	ResolveLabels(func(string) *keep.Label)
}

// Engine owns one synchronized copy of the remote graph.
type Engine struct {
	log    *zap.Logger
	client Changer

	root  *keep.Root
	nodes map[string]keep.Noder // flat index by local id, root included
	sids  map[string]string     // server id -> local id

	labels     map[string]*keep.Label
	labelOrder []string

	keepVersion        string
	upgradeRecommended bool
	sessionID          string
}

// New constructs an empty engine. A nil logger disables logging.
func New(client Changer, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		log:       log,
		client:    client,
		sessionID: uuid.Must(uuid.NewV4()).String(),
	}
	e.Clear()
	return e
}

// Clear resets to a single root with no labels, nodes or version.
func (e *Engine) Clear() {
	e.root = keep.NewRoot()
	e.nodes = map[string]keep.Noder{keep.RootID: e.root}
	e.sids = make(map[string]string)
	e.labels = make(map[string]*keep.Label)
	e.labelOrder = nil
	e.keepVersion = ""
}

// Root returns the graph anchor.
func (e *Engine) Root() *keep.Root { return e.root }

// Version returns the last version acknowledged by the server, or "".
func (e *Engine) Version() string { return e.keepVersion }

// UpgradeRecommended reports whether the server has advised a client
// upgrade. Informational; it never fails a sync.
func (e *Engine) UpgradeRecommended() bool { return e.upgradeRecommended }

// Get resolves a top-level node by local id, then by server id. Nodes that
// are not direct children of the root are not resolvable through Get.
func (e *Engine) Get(id string) keep.Noder {
	if n := e.root.Child(id); n != nil {
		return n
	}
	if lid, ok := e.sids[id]; ok {
		if n := e.root.Child(lid); n != nil {
			return n
		}
	}
	return nil
}

// FindLabel returns the non-deleted label whose name matches
// case-insensitively, or nil.
func (e *Engine) FindLabel(name string) *keep.Label {
	for _, id := range e.labelOrder {
		l := e.labels[id]
		if l == nil || l.Timestamps().Deleted() {
			continue
		}
		if strings.EqualFold(l.Name(), name) {
			return l
		}
	}
	return nil
}

// Label returns the label with the given id, or nil.
func (e *Engine) Label(id string) *keep.Label { return e.labels[id] }

// Labels returns all labels in registration order.
func (e *Engine) Labels() []*keep.Label {
	out := make([]*keep.Label, 0, len(e.labelOrder))
	for _, id := range e.labelOrder {
		out = append(out, e.labels[id])
	}
	return out
}

// CreateLabel registers a new label with the given display name.
func (e *Engine) CreateLabel(name string) (*keep.Label, error) {
	if name == "" {
		return nil, fmt.Errorf("create label: empty name: %w", errs.ErrInvalidArgument)
	}
	if e.FindLabel(name) != nil {
		return nil, fmt.Errorf("create label %q: %w", name, errs.ErrAlreadyExists)
	}
	l := keep.NewLabel("")
	l.SetName(name)
	e.registerLabel(l)
	return l, nil
}

func (e *Engine) registerLabel(l *keep.Label) {
	if _, ok := e.labels[l.ID()]; !ok {
		e.labelOrder = append(e.labelOrder, l.ID())
	}
	e.labels[l.ID()] = l
}

func (e *Engine) dropLabel(id string) {
	if _, ok := e.labels[id]; !ok {
		return
	}
	delete(e.labels, id)
	for i, v := range e.labelOrder {
		if v == id {
			e.labelOrder = append(e.labelOrder[:i], e.labelOrder[i+1:]...)
			break
		}
	}
}

// CreateNote builds a note, optionally overriding its generated id (callers
// derive deterministic ids for idempotent creation), and registers it at
// the root.
func (e *Engine) CreateNote(title, text, id string) (*keep.Note, error) {
	if id != "" {
		if _, ok := e.nodes[id]; ok {
			return nil, fmt.Errorf("create note: id %s: %w", id, errs.ErrAlreadyExists)
		}
	}
	n := keep.NewNote()
	if id != "" {
		n.SetID(id)
	}
	if title != "" {
		n.SetTitle(title)
	}
	if text != "" {
		n.SetText(text)
	}
	if err := e.Add(n); err != nil {
		return nil, err
	}
	return n, nil
}

// CreateList builds a checklist and registers it at the root.
func (e *Engine) CreateList(title string) (*keep.List, error) {
	l := keep.NewList()
	if title != "" {
		l.SetTitle(title)
	}
	if err := e.Add(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Add registers a top-level node at the root. Structural children are
// registered implicitly along with it.
func (e *Engine) Add(node keep.Noder) error {
	if node.Base().ParentID() != keep.RootID {
		return fmt.Errorf("add node %s: parent %q is not root: %w",
			node.Base().ID(), node.Base().ParentID(), errs.ErrInvalidArgument)
	}
	e.root.Append(node, true)
	e.index(node)
	return nil
}

func (e *Engine) index(node keep.Noder) {
	e.nodes[node.Base().ID()] = node
	if sid := node.Base().ServerID(); sid != "" {
		e.sids[sid] = node.Base().ID()
	}
	for _, c := range node.Base().Children() {
		e.index(c)
	}
}

// Sync runs change rounds until the server stops truncating. With resync
// all local state is discarded first; any unsynced local edits are lost.
func (e *Engine) Sync(ctx context.Context, resync bool) error {
	if resync {
		e.Clear()
	}
	for {
		resp, err := e.round(ctx)
		if err != nil {
			return err
		}
		if resp.ForceFullResync {
			return fmt.Errorf("sync: server requested full resync: %w", errs.ErrResyncRequired)
		}
		if !resp.Truncated {
			break
		}
		e.log.Debug("changes response truncated, continuing", zap.String("version", e.keepVersion))
	}
	// One clear, after the final non-truncated round. A crash before this
	// point re-sends already accepted nodes, which is harmless (idempotent
	// by node id).
	e.root.ClearDirty()
	for _, l := range e.labels {
		l.ClearDirty()
	}
	return nil
}

func (e *Engine) round(ctx context.Context) (*wire.ChangesResponse, error) {
	nodes, err := e.dirtyRecords()
	if err != nil {
		return nil, err
	}
	req := &wire.ChangesRequest{
		Nodes:           nodes,
		ClientTimestamp: keep.FormatTime(time.Now()),
		RequestHeader: wire.RequestHeader{
			ClientSessionID: e.sessionID,
			ClientPlatform:  clientPlatform,
			ClientVersion:   clientVersion,
			Capabilities:    capabilityList(),
		},
		TargetVersion: e.keepVersion,
	}
	if e.labelsDirty() {
		ui := &wire.UserInfo{}
		for _, l := range e.Labels() {
			ui.Labels = append(ui.Labels, *l.Save(false))
		}
		req.UserInfo = ui
	}
	e.log.Debug("sending changes",
		zap.Int("nodes", len(req.Nodes)),
		zap.Bool("labels", req.UserInfo != nil),
		zap.String("targetVersion", e.keepVersion),
	)

	resp, err := e.client.Changes(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.ToVersion == "" {
		return nil, fmt.Errorf("sync: response missing toVersion: %w", errs.ErrInvalidArgument)
	}
	if resp.UpgradeRecommended && !e.upgradeRecommended {
		e.upgradeRecommended = true
		e.log.Warn("server recommends a client upgrade")
	}
	if resp.UserInfo != nil {
		e.applyLabels(resp.UserInfo.Labels)
	}
	if len(resp.Nodes) > 0 {
		if err := e.applyNodes(resp.Nodes); err != nil {
			return nil, err
		}
	}
	e.keepVersion = resp.ToVersion
	return resp, nil
}

func capabilityList() []wire.Capability {
	out := make([]wire.Capability, 0, len(capabilities))
	for _, c := range capabilities {
		out = append(out, wire.Capability{Type: c})
	}
	return out
}

func (e *Engine) labelsDirty() bool {
	for _, l := range e.labels {
		if l.Dirty() {
			return true
		}
	}
	return false
}

// dirtyRecords serializes every dirty node reachable from the root,
// parents before children. Dirty flags are left in place; they are cleared
// only after the final non-truncated round.
func (e *Engine) dirtyRecords() ([]wire.NodeRecord, error) {
	var out []wire.NodeRecord
	var walk func(n keep.Noder) error
	walk = func(n keep.Noder) error {
		if n.Dirty() {
			rec, err := n.Save(false)
			if err != nil {
				return err
			}
			out = append(out, *rec)
		}
		for _, c := range n.Base().Children() {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, top := range e.root.Children() {
		if err := walk(top); err != nil {
			return nil, err
		}
	}
	if out == nil {
		out = []wire.NodeRecord{}
	}
	return out, nil
}

// applyLabels replaces the registry with the authoritative inbound set and
// prunes node references to labels that no longer exist.
func (e *Engine) applyLabels(recs []wire.LabelRecord) {
	seen := make(map[string]bool, len(recs))
	for i := range recs {
		rec := &recs[i]
		seen[rec.MainID] = true
		if existing, ok := e.labels[rec.MainID]; ok {
			if err := existing.Load(rec); err != nil {
				e.log.Warn("skipping malformed label update", zap.String("id", rec.MainID), zap.Error(err))
				continue
			}
			e.log.Debug("label updated", zap.String("id", rec.MainID), zap.String("name", rec.Name))
			continue
		}
		l := keep.NewLabel("")
		if err := l.Load(rec); err != nil {
			e.log.Warn("skipping malformed label", zap.String("id", rec.MainID), zap.Error(err))
			continue
		}
		e.registerLabel(l)
		e.log.Debug("label created", zap.String("id", rec.MainID), zap.String("name", rec.Name))
	}
	for _, id := range append([]string(nil), e.labelOrder...) {
		if !seen[id] {
			e.dropLabel(id)
			e.log.Debug("label deleted", zap.String("id", id))
		}
	}
	for _, top := range e.root.Children() {
		tl, ok := top.(topLeveler)
		if !ok {
			continue
		}
		for _, id := range tl.Labels().IDs() {
			if _, ok := e.labels[id]; !ok {
				tl.Labels().Drop(id)
			}
		}
		tl.ResolveLabels(func(id string) *keep.Label { return e.labels[id] })
	}
}

// applyNodes reconciles one inbound node delta. A record for a known id
// with a parent is an update; without a parent it is a deletion; an unknown
// id is a creation. Unrecognized type discriminators are logged and
// skipped. Afterwards, list-item indentation is re-resolved for every item
// whose super item changed, without touching dirty state.
func (e *Engine) applyNodes(recs []wire.NodeRecord) error {
	var moved []*keep.ListItem
	for i := range recs {
		rec := &recs[i]
		node, known := e.nodes[rec.ID]
		switch {
		case known && rec.ParentID == nil:
			e.deleteNode(node)
			e.log.Debug("node deleted", zap.String("id", rec.ID))

		case known:
			if err := node.Load(rec); err != nil {
				return err
			}
			if sid := node.Base().ServerID(); sid != "" {
				e.sids[sid] = node.Base().ID()
			}
			e.reattach(node, *rec.ParentID)
			if tl, ok := node.(topLeveler); ok {
				tl.ResolveLabels(func(id string) *keep.Label { return e.labels[id] })
			}
			if it, ok := node.(*keep.ListItem); ok && it.SuperItemID() != it.PrevSuperItemID() {
				moved = append(moved, it)
			}
			e.log.Debug("node updated", zap.String("id", rec.ID))

		default:
			created := newNodeOfType(rec.Type)
			if created == nil {
				e.log.Info("skipping node with unknown type",
					zap.String("id", rec.ID), zap.String("type", rec.Type))
				continue
			}
			if err := created.Load(rec); err != nil {
				return err
			}
			e.nodes[created.Base().ID()] = created
			if sid := created.Base().ServerID(); sid != "" {
				e.sids[sid] = created.Base().ID()
			}
			if rec.ParentID != nil {
				e.reattach(created, *rec.ParentID)
			}
			if tl, ok := created.(topLeveler); ok {
				tl.ResolveLabels(func(id string) *keep.Label { return e.labels[id] })
			}
			if b, ok := created.(*keep.Blob); ok && b.Payload() != nil && !b.KnownType() {
				e.log.Info("blob with unknown payload type",
					zap.String("id", rec.ID), zap.String("blobType", b.Payload().Type))
			}
			if it, ok := created.(*keep.ListItem); ok && it.SuperItemID() != it.PrevSuperItemID() {
				moved = append(moved, it)
			}
			e.log.Debug("node created", zap.String("id", rec.ID), zap.String("type", rec.Type))
		}
	}
	e.resolveSuperItems(moved)
	return nil
}

func (e *Engine) deleteNode(node keep.Noder) {
	if it, ok := node.(*keep.ListItem); ok {
		if s := it.SuperItem(); s != nil {
			s.Dedent(it, false)
		}
	}
	if p := node.Base().Parent(); p != nil {
		p.Base().Remove(node, false)
	}
	e.unindex(node)
}

func (e *Engine) unindex(node keep.Noder) {
	delete(e.nodes, node.Base().ID())
	if sid := node.Base().ServerID(); sid != "" {
		delete(e.sids, sid)
	}
	for _, c := range node.Base().Children() {
		e.unindex(c)
	}
}

func (e *Engine) reattach(node keep.Noder, parentID string) {
	if cur := node.Base().Parent(); cur != nil {
		if cur.Base().ID() == parentID {
			return
		}
		cur.Base().Remove(node, false)
	}
	parent, ok := e.nodes[parentID]
	if !ok {
		e.log.Warn("inbound node references unknown parent",
			zap.String("id", node.Base().ID()), zap.String("parentId", parentID))
		return
	}
	parent.Base().Append(node, false)
}

// resolveSuperItems replays indentation changes reported by the server,
// using the no-touch variants since this is server-driven.
func (e *Engine) resolveSuperItems(items []*keep.ListItem) {
	for _, it := range items {
		cur := it.SuperItemID()
		if s := it.SuperItem(); s != nil && s.ID() != cur {
			s.Dedent(it, false)
		}
		if cur != "" {
			if ns, ok := e.nodes[cur].(*keep.ListItem); ok {
				ns.Indent(it, false)
			} else {
				e.log.Warn("super item not found",
					zap.String("id", it.ID()), zap.String("superId", cur))
			}
		}
		it.MarkSuperResolved()
	}
}

func newNodeOfType(t string) keep.Noder {
	switch keep.NodeType(t) {
	case keep.TypeNote:
		return keep.NewNote()
	case keep.TypeList:
		return keep.NewList()
	case keep.TypeListItem:
		return keep.NewListItem()
	case keep.TypeBlob:
		return keep.NewBlob()
	}
	return nil
}

// CheckConsistency walks the tree from the root and reports nodes indexed
// but unreachable, and nodes reachable but unindexed. Either list being
// non-empty indicates a reconciliation bug; production callers log and
// continue.
func (e *Engine) CheckConsistency() (unreachable, unindexed []string) {
	reached := map[string]bool{keep.RootID: true}
	var walk func(n keep.Noder)
	walk = func(n keep.Noder) {
		for _, c := range n.Base().Children() {
			id := c.Base().ID()
			reached[id] = true
			if _, ok := e.nodes[id]; !ok {
				unindexed = append(unindexed, id)
			}
			walk(c)
		}
	}
	walk(e.root)
	for id := range e.nodes {
		if !reached[id] {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) > 0 || len(unindexed) > 0 {
		e.log.Warn("graph consistency check failed",
			zap.Strings("unreachable", unreachable),
			zap.Strings("unindexed", unindexed),
		)
	}
	return unreachable, unindexed
}

// stateBlob is the persisted session snapshot. All three keys are required
// on restore.
type stateBlob struct {
	KeepVersion *string      `json:"keep_version"`
	Labels      []stateLabel `json:"labels"`
	Nodes       []stateNode  `json:"nodes"`
}

// stateNode and stateLabel wrap the wire records with the local dirty flag.
// The flag lives only in the snapshot; change requests never carry it.
type stateNode struct {
	wire.NodeRecord
	Dirty bool `json:"dirty,omitempty"`
}

type stateLabel struct {
	wire.LabelRecord
	Dirty bool `json:"dirty,omitempty"`
}

// Dump serializes all labels and all nodes reachable from the root (top
// level plus one level of structural children) with the current version,
// preserving dirty state.
func (e *Engine) Dump() ([]byte, error) {
	blob := stateBlob{
		Labels: []stateLabel{},
		Nodes:  []stateNode{},
	}
	if e.keepVersion != "" {
		v := e.keepVersion
		blob.KeepVersion = &v
	}
	for _, l := range e.Labels() {
		blob.Labels = append(blob.Labels, stateLabel{LabelRecord: *l.Save(false), Dirty: l.Dirty()})
	}
	for _, top := range e.root.Children() {
		rec, err := top.Save(false)
		if err != nil {
			return nil, err
		}
		blob.Nodes = append(blob.Nodes, stateNode{NodeRecord: *rec, Dirty: top.Dirty()})
		for _, c := range top.Base().Children() {
			crec, err := c.Save(false)
			if err != nil {
				return nil, err
			}
			blob.Nodes = append(blob.Nodes, stateNode{NodeRecord: *crec, Dirty: c.Dirty()})
		}
	}
	return json.Marshal(blob)
}

// Restore replaces all state with a snapshot produced by Dump. Every
// top-level key must be present; missing keys fail instead of defaulting.
func (e *Engine) Restore(blob []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		return fmt.Errorf("restore: %w: %w", errs.ErrInvalidArgument, err)
	}
	for _, key := range []string{"keep_version", "labels", "nodes"} {
		if _, ok := raw[key]; !ok {
			return fmt.Errorf("restore: missing required key %q: %w", key, errs.ErrInvalidArgument)
		}
	}
	var version *string
	if err := json.Unmarshal(raw["keep_version"], &version); err != nil {
		return fmt.Errorf("restore: keep_version: %w: %w", errs.ErrInvalidArgument, err)
	}
	var labels []stateLabel
	if err := json.Unmarshal(raw["labels"], &labels); err != nil {
		return fmt.Errorf("restore: labels: %w: %w", errs.ErrInvalidArgument, err)
	}
	var nodes []stateNode
	if err := json.Unmarshal(raw["nodes"], &nodes); err != nil {
		return fmt.Errorf("restore: nodes: %w: %w", errs.ErrInvalidArgument, err)
	}

	e.Clear()
	for i := range labels {
		l := keep.NewLabel("")
		if err := l.Load(&labels[i].LabelRecord); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if labels[i].Dirty {
			l.MarkDirty()
		}
		e.registerLabel(l)
	}
	// First pass: hydrate and index; second pass: attach to parents.
	created := make([]keep.Noder, 0, len(nodes))
	for i := range nodes {
		rec := &nodes[i]
		node := newNodeOfType(rec.Type)
		if node == nil {
			e.log.Info("restore: skipping node with unknown type",
				zap.String("id", rec.ID), zap.String("type", rec.Type))
			continue
		}
		if err := node.Load(&rec.NodeRecord); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		if rec.Dirty {
			node.Base().MarkDirty()
		}
		e.nodes[node.Base().ID()] = node
		if sid := node.Base().ServerID(); sid != "" {
			e.sids[sid] = node.Base().ID()
		}
		created = append(created, node)
	}
	var items []*keep.ListItem
	for _, node := range created {
		if pid := node.Base().ParentID(); pid != "" {
			if parent, ok := e.nodes[pid]; ok {
				parent.Base().Append(node, false)
			} else {
				e.log.Warn("restore: node references unknown parent",
					zap.String("id", node.Base().ID()), zap.String("parentId", pid))
			}
		}
		if tl, ok := node.(topLeveler); ok {
			tl.ResolveLabels(func(id string) *keep.Label { return e.labels[id] })
		}
		if it, ok := node.(*keep.ListItem); ok && it.SuperItemID() != "" {
			items = append(items, it)
		}
	}
	e.resolveSuperItems(items)
	if version != nil {
		e.keepVersion = *version
	}
	return nil
}
