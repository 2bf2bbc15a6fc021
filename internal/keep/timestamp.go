// Package keep implements the in-memory object graph mirrored against the
// remote note service: nodes, labels, annotations and their dirty tracking.
// The graph is pure state with no I/O; it is not safe for concurrent
// mutation (see the engine package for the ownership rules).
package keep

import (
	"fmt"
	"time"

	"github.com/majkowska/kindler/internal/wire"
)

// TimeLayout is the fixed wire encoding of instants: UTC with microseconds.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// EpochZero encodes the "false" arm of the trashed/deleted tri-state booleans.
var EpochZero = time.Unix(0, 0).UTC()

// FormatTime renders t in the wire encoding.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses the wire encoding. Empty input yields the absent instant.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// The server occasionally emits fewer fractional digits.
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
		}
		return t2.UTC(), nil
	}
	return t.UTC(), nil
}

// NodeTimestamps tracks the five node instants. Created and updated are
// always present; edited, trashed and deleted may be absent (the zero
// time.Time). Trashed and deleted double as booleans: an instant strictly
// after epoch zero reads as true. Clearing trashed stamps epoch zero while
// clearing deleted removes the instant entirely; the asymmetry is part of
// the wire contract and intentionally not unified (see DESIGN.md).
type NodeTimestamps struct {
	dirty bool

	created time.Time
	updated time.Time
	edited  time.Time
	trashed time.Time
	deleted time.Time
}

func newTimestamps(now time.Time) NodeTimestamps {
	return NodeTimestamps{created: now.UTC(), updated: now.UTC()}
}

// Dirty reports whether any instant changed since the last clean save.
func (t *NodeTimestamps) Dirty() bool { return t.dirty }

func (t *NodeTimestamps) clearDirty() { t.dirty = false }

// Created returns the creation instant.
func (t *NodeTimestamps) Created() time.Time { return t.created }

// Updated returns the last-updated instant.
func (t *NodeTimestamps) Updated() time.Time { return t.updated }

// Edited returns the last user-edit instant, or the zero time if absent.
func (t *NodeTimestamps) Edited() time.Time { return t.edited }

// SetCreated stamps the creation instant.
func (t *NodeTimestamps) SetCreated(v time.Time) { t.set(&t.created, v) }

// SetUpdated stamps the last-updated instant.
func (t *NodeTimestamps) SetUpdated(v time.Time) { t.set(&t.updated, v) }

// SetEdited stamps the last user-edit instant.
func (t *NodeTimestamps) SetEdited(v time.Time) { t.set(&t.edited, v) }

// Trashed reports whether the trashed instant reads as true.
func (t *NodeTimestamps) Trashed() bool { return t.trashed.After(EpochZero) }

// SetTrashed stamps "now" for true and epoch zero for false.
func (t *NodeTimestamps) SetTrashed(v bool) {
	if v {
		t.set(&t.trashed, time.Now().UTC())
	} else {
		t.set(&t.trashed, EpochZero)
	}
}

// Deleted reports whether the deleted instant reads as true.
func (t *NodeTimestamps) Deleted() bool { return t.deleted.After(EpochZero) }

// SetDeleted stamps "now" for true and clears the instant to absent for false.
func (t *NodeTimestamps) SetDeleted(v bool) {
	if v {
		t.set(&t.deleted, time.Now().UTC())
	} else {
		t.set(&t.deleted, time.Time{})
	}
}

func (t *NodeTimestamps) set(dst *time.Time, v time.Time) {
	if dst.Equal(v) {
		return
	}
	*dst = v
	t.dirty = true
}

// Load hydrates from the wire record without marking dirty. Created and
// updated are required.
func (t *NodeTimestamps) Load(rec *wire.TimestampsRecord) error {
	if rec == nil {
		return fmt.Errorf("timestamps: missing record")
	}
	created, err := ParseTime(rec.Created)
	if err != nil {
		return fmt.Errorf("timestamps.created: %w", err)
	}
	if created.IsZero() {
		return fmt.Errorf("timestamps.created: required")
	}
	updated, err := ParseTime(rec.Updated)
	if err != nil {
		return fmt.Errorf("timestamps.updated: %w", err)
	}
	if updated.IsZero() {
		return fmt.Errorf("timestamps.updated: required")
	}
	edited, err := ParseTime(rec.Edited)
	if err != nil {
		return fmt.Errorf("timestamps.edited: %w", err)
	}
	trashed, err := ParseTime(rec.Trashed)
	if err != nil {
		return fmt.Errorf("timestamps.trashed: %w", err)
	}
	deleted, err := ParseTime(rec.Deleted)
	if err != nil {
		return fmt.Errorf("timestamps.deleted: %w", err)
	}
	t.created, t.updated, t.edited, t.trashed, t.deleted = created, updated, edited, trashed, deleted
	return nil
}

// Save serializes to the wire record; clean resets the dirty flag.
func (t *NodeTimestamps) Save(clean bool) *wire.TimestampsRecord {
	rec := &wire.TimestampsRecord{
		Kind:    "notes#timestamps",
		Created: FormatTime(t.created),
		Updated: FormatTime(t.updated),
	}
	if !t.edited.IsZero() {
		rec.Edited = FormatTime(t.edited)
	}
	if !t.trashed.IsZero() {
		rec.Trashed = FormatTime(t.trashed)
	}
	if !t.deleted.IsZero() {
		rec.Deleted = FormatTime(t.deleted)
	}
	if clean {
		t.dirty = false
	}
	return rec
}
