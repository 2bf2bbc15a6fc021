package keep

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/majkowska/kindler/internal/wire"
)

const labelIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newLabelID builds a label id: "tag.<12 random alphanumerics>.<hex epoch seconds>".
// Label ids live in their own id space, distinct from node ids.
func newLabelID(now time.Time) string {
	buf := make([]byte, 12)
	max := big.NewInt(int64(len(labelIDAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("label id entropy: %v", err))
		}
		buf[i] = labelIDAlphabet[n.Int64()]
	}
	return fmt.Sprintf("tag.%s.%x", buf, now.Unix())
}

// Label is an independent named tag. Top-level nodes reference labels by id
// only, so renames and deletions propagate by lookup.
type Label struct {
	dirty bool
	id    string

	name   field[string]
	ts     NodeTimestamps
	merged time.Time
}

// NewLabel constructs a label with a fresh id and the given display name.
func NewLabel(name string) *Label {
	now := time.Now().UTC()
	l := &Label{id: newLabelID(now), ts: newTimestamps(now), merged: EpochZero}
	l.name.touch = func() { l.Touch(true) }
	l.name.init(name)
	return l
}

// ID returns the label id.
func (l *Label) ID() string { return l.id }

// Name returns the display name.
func (l *Label) Name() string { return l.name.get() }

// SetName updates the display name with edited semantics.
func (l *Label) SetName(v string) { l.name.set(v) }

// Merged returns the last server-side merge instant (epoch zero if never).
func (l *Label) Merged() time.Time { return l.merged }

// Timestamps exposes the label's instants.
func (l *Label) Timestamps() *NodeTimestamps { return &l.ts }

// Dirty reports unsynchronized changes.
func (l *Label) Dirty() bool { return l.dirty || l.ts.Dirty() }

// ClearDirty resets the label's dirty state.
func (l *Label) ClearDirty() {
	l.dirty = false
	l.ts.clearDirty()
}

// MarkDirty sets the label's dirty flag without stamping timestamps.
// Used when rehydrating a snapshot that recorded unsynced local changes.
func (l *Label) MarkDirty() { l.dirty = true }

// Touch marks the label dirty and stamps updated (and edited, if requested).
func (l *Label) Touch(edited bool) {
	l.dirty = true
	now := time.Now().UTC()
	l.ts.SetUpdated(now)
	if edited {
		l.ts.SetEdited(now)
	}
}

// Load hydrates from the wire record without marking dirty.
func (l *Label) Load(rec *wire.LabelRecord) error {
	if rec.MainID == "" {
		return fmt.Errorf("label: missing mainId")
	}
	l.id = rec.MainID
	l.name.init(rec.Name)
	if rec.Timestamps != nil {
		if err := l.ts.Load(rec.Timestamps); err != nil {
			return fmt.Errorf("label %s: %w", rec.MainID, err)
		}
	}
	merged, err := ParseTime(rec.LastMerged)
	if err != nil {
		return fmt.Errorf("label %s: lastMerged: %w", rec.MainID, err)
	}
	if merged.IsZero() {
		merged = EpochZero
	}
	l.merged = merged
	return nil
}

// Save serializes to the wire record; clean resets the dirty state.
func (l *Label) Save(clean bool) *wire.LabelRecord {
	rec := &wire.LabelRecord{
		MainID:     l.id,
		Name:       l.name.get(),
		Timestamps: l.ts.Save(clean),
		LastMerged: FormatTime(l.merged),
	}
	if clean {
		l.dirty = false
	}
	return rec
}
