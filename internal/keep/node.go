package keep

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/majkowska/kindler/internal/errs"
	"github.com/majkowska/kindler/internal/wire"
)

// NodeType discriminates the four node kinds.
type NodeType string

// Node type discriminators (wire values).
const (
	TypeNote     NodeType = NodeType(wire.TypeNote)
	TypeList     NodeType = NodeType(wire.TypeList)
	TypeListItem NodeType = NodeType(wire.TypeListItem)
	TypeBlob     NodeType = NodeType(wire.TypeBlob)
)

// RootID is the fixed sentinel id of the virtual root node.
const RootID = "root"

// Sort keys are randomly seeded in [sortKeyMin, sortKeyMax) to leave room
// for insertions on both ends; Top/Bottom placement steps by sortStep.
const (
	sortKeyMin = int64(1_000_000_000)
	sortKeyMax = int64(10_000_000_000)
	sortStep   = int64(10_000)
)

func newSortKey() int64 {
	return sortKeyMin + rand.Int63n(sortKeyMax-sortKeyMin)
}

func newNodeID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Noder is implemented by every entity in the document graph. The concrete
// types are Note, List, ListItem, Blob and Root; Base exposes the shared
// node core.
type Noder interface {
	// Base returns the embedded node core.
	Base() *Node
	// Type returns the node's fixed type tag.
	Type() NodeType
	// Dirty reports local changes in the node or any descendant.
	Dirty() bool
	// ClearDirty resets the dirty state of the node and all descendants.
	ClearDirty()
	// Load hydrates from a wire record without marking dirty.
	Load(rec *wire.NodeRecord) error
	// Save serializes to a wire record; clean resets the dirty state.
	Save(clean bool) (*wire.NodeRecord, error)
}

// Node is the shared core of every graph entity: identity, hierarchy,
// content and dirty tracking. Concrete types embed it.
type Node struct {
	dirty bool

	id          string
	serverID    string
	parentID    string
	baseVersion string
	typ         NodeType

	// self points at the embedding struct so children's parent
	// back-references keep their concrete type.
	self   Noder
	parent Noder

	text    field[string]
	sortKey field[int64]

	ts          NodeTimestamps
	settings    *NodeSettings
	annotations *Annotations

	childOrder []string
	children   map[string]Noder
}

func (n *Node) initNode(self Noder, typ NodeType) {
	now := time.Now().UTC()
	n.id = newNodeID()
	n.typ = typ
	n.self = self
	n.ts = newTimestamps(now)
	n.settings = newSettings()
	n.annotations = newAnnotations()
	n.children = make(map[string]Noder)
	n.text.touch = func() { n.Touch(true) }
	n.sortKey.touch = func() { n.Touch(false) }
	n.sortKey.init(newSortKey())
}

// Base returns the node core itself.
func (n *Node) Base() *Node { return n }

// Type returns the fixed type tag.
func (n *Node) Type() NodeType { return n.typ }

// ID returns the locally generated opaque id.
func (n *Node) ID() string { return n.id }

// SetID overrides the generated id. Only valid before the node is attached
// to a parent; used for deterministic, content-derived ids.
func (n *Node) SetID(id string) {
	if n.parent != nil {
		return
	}
	n.id = id
}

// ServerID returns the server-assigned id, or "" if never synced.
func (n *Node) ServerID() string { return n.serverID }

// New reports whether the server has never accepted this node.
func (n *Node) New() bool { return n.serverID == "" }

// ParentID returns the id of the structural parent, or "".
func (n *Node) ParentID() string { return n.parentID }

// Parent returns the structural parent, or nil if detached.
func (n *Node) Parent() Noder { return n.parent }

// BaseVersion returns the server version stamp, or "" if unknown.
func (n *Node) BaseVersion() string { return n.baseVersion }

// Text returns the free-text body.
func (n *Node) Text() string { return n.text.get() }

// SetText updates the body with edited semantics.
func (n *Node) SetText(v string) { n.text.set(v) }

// SortKey returns the sibling ordering key; larger sorts earlier.
func (n *Node) SortKey() int64 { return n.sortKey.get() }

// SetSortKey reassigns the ordering key.
func (n *Node) SetSortKey(v int64) { n.sortKey.set(v) }

// Timestamps exposes the node's instants.
func (n *Node) Timestamps() *NodeTimestamps { return &n.ts }

// Settings exposes the node's display preferences.
func (n *Node) Settings() *NodeSettings { return n.settings }

// Annotations exposes the node's annotation collection.
func (n *Node) Annotations() *Annotations { return n.annotations }

// Trashed reports whether the node is in the trash.
func (n *Node) Trashed() bool { return n.ts.Trashed() }

// SetTrashed moves the node in or out of the trash.
func (n *Node) SetTrashed(v bool) {
	if n.ts.Trashed() == v {
		return
	}
	n.ts.SetTrashed(v)
	n.Touch(false)
}

// Deleted reports whether the node is marked deleted.
func (n *Node) Deleted() bool { return n.ts.Deleted() }

// SetDeleted marks or unmarks the node deleted.
func (n *Node) SetDeleted(v bool) {
	if n.ts.Deleted() == v {
		return
	}
	n.ts.SetDeleted(v)
	n.Touch(false)
}

// MarkDirty sets the node's own dirty flag without stamping timestamps.
// Used when rehydrating a snapshot that recorded unsynced local changes.
func (n *Node) MarkDirty() { n.dirty = true }

// Touch marks the node dirty and stamps updated (and edited, if requested).
// This is the single mutation hook threaded through every setter.
func (n *Node) Touch(edited bool) {
	n.dirty = true
	now := time.Now().UTC()
	n.ts.SetUpdated(now)
	if edited {
		n.ts.SetEdited(now)
	}
}

// Dirty reports local changes in the node, its components or any child.
// Computed lazily on read, never cached.
func (n *Node) Dirty() bool {
	if n.dirty || n.ts.Dirty() || n.settings.Dirty() || n.annotations.Dirty() {
		return true
	}
	for _, id := range n.childOrder {
		if n.children[id].Dirty() {
			return true
		}
	}
	return false
}

// ClearDirty resets the node's dirty state and recurses into children.
func (n *Node) ClearDirty() {
	n.dirty = false
	n.ts.clearDirty()
	n.settings.clearDirty()
	n.annotations.clearDirty()
	for _, id := range n.childOrder {
		n.children[id].ClearDirty()
	}
}

// Children returns the children in insertion order.
func (n *Node) Children() []Noder {
	out := make([]Noder, 0, len(n.childOrder))
	for _, id := range n.childOrder {
		out = append(out, n.children[id])
	}
	return out
}

// Child returns the child with the given id, or nil.
func (n *Node) Child(id string) Noder { return n.children[id] }

// Append registers child under this node and sets its parent back-reference.
// With markDirty both nodes are touched.
func (n *Node) Append(child Noder, markDirty bool) {
	cb := child.Base()
	if _, ok := n.children[cb.id]; !ok {
		n.childOrder = append(n.childOrder, cb.id)
	}
	n.children[cb.id] = child
	cb.parentID = n.id
	cb.parent = n.self
	if markDirty {
		n.Touch(false)
		cb.Touch(false)
	}
}

// Remove detaches child from this node and clears its parent back-reference.
func (n *Node) Remove(child Noder, markDirty bool) {
	cb := child.Base()
	if _, ok := n.children[cb.id]; !ok {
		return
	}
	delete(n.children, cb.id)
	for i, id := range n.childOrder {
		if id == cb.id {
			n.childOrder = append(n.childOrder[:i], n.childOrder[i+1:]...)
			break
		}
	}
	cb.parent = nil
	cb.parentID = ""
	if markDirty {
		n.Touch(false)
	}
}

// loadBase hydrates the shared fields. A record carrying the merge conflict
// marker is never hydrated.
func (n *Node) loadBase(rec *wire.NodeRecord) error {
	if rec.Moved != nil {
		return fmt.Errorf("node %s: %w", rec.ID, errs.ErrMergeConflict)
	}
	if rec.Type != "" && NodeType(rec.Type) != n.typ {
		return fmt.Errorf("node %s: type %q does not match %q: %w",
			rec.ID, rec.Type, n.typ, errs.ErrInvalidArgument)
	}
	if rec.ID != "" {
		n.id = rec.ID
	}
	n.serverID = rec.ServerID
	if rec.ParentID != nil {
		n.parentID = *rec.ParentID
	}
	n.baseVersion = rec.BaseVersion
	if rec.Text != nil {
		n.text.init(*rec.Text)
	}
	if rec.SortValue != nil {
		n.sortKey.init(int64(*rec.SortValue))
	}
	if rec.Timestamps != nil {
		if err := n.ts.Load(rec.Timestamps); err != nil {
			return fmt.Errorf("node %s: %w", n.id, err)
		}
	}
	if err := n.settings.Load(rec.NodeSettings); err != nil {
		return fmt.Errorf("node %s: %w", n.id, err)
	}
	if err := n.annotations.Load(rec.AnnotationsGroup); err != nil {
		return fmt.Errorf("node %s: %w", n.id, err)
	}
	return nil
}

// saveBase serializes the shared fields.
func (n *Node) saveBase(clean bool) (*wire.NodeRecord, error) {
	if n.typ == "" {
		return nil, fmt.Errorf("node %s: type not set: %w", n.id, errs.ErrInvalidArgument)
	}
	parentID := n.parentID
	text := n.text.get()
	sort := wire.SortValue(n.sortKey.get())
	rec := &wire.NodeRecord{
		ID:               n.id,
		Kind:             wire.KindNode,
		Type:             string(n.typ),
		ParentID:         &parentID,
		SortValue:        &sort,
		BaseVersion:      n.baseVersion,
		Text:             &text,
		ServerID:         n.serverID,
		Timestamps:       n.ts.Save(clean),
		NodeSettings:     n.settings.Save(clean),
		AnnotationsGroup: n.annotations.Save(clean),
	}
	if clean {
		n.dirty = false
	}
	return rec, nil
}

// Load hydrates the node from a wire record.
func (n *Node) Load(rec *wire.NodeRecord) error { return n.loadBase(rec) }

// Save serializes the node to a wire record.
func (n *Node) Save(clean bool) (*wire.NodeRecord, error) { return n.saveBase(clean) }

// Root is the singleton anchor of the graph. Every other node is reachable
// from it via the parent chain. It is never serialized.
type Root struct {
	Node
}

// NewRoot constructs the root sentinel.
func NewRoot() *Root {
	r := &Root{}
	r.initNode(r, "")
	r.id = RootID
	r.dirty = false
	return r
}

// Dirty for the root considers children only; the sentinel itself carries
// no syncable state.
func (r *Root) Dirty() bool {
	for _, id := range r.childOrder {
		if r.children[id].Dirty() {
			return true
		}
	}
	return false
}

// Blob is an attachment node (audio, image or drawing). The payload is kept
// in wire form; unknown payload types round-trip untouched.
type Blob struct {
	Node

	payload *wire.BlobRecord
}

// Known blob payload types.
const (
	BlobAudio   = "AUDIO"
	BlobImage   = "IMAGE"
	BlobDrawing = "DRAWING"
)

// NewBlob constructs an attachment node.
func NewBlob() *Blob {
	b := &Blob{}
	b.initNode(b, TypeBlob)
	return b
}

// Payload returns the blob payload record, or nil.
func (b *Blob) Payload() *wire.BlobRecord { return b.payload }

// KnownType reports whether the payload type is one this client understands.
// Unknown types are kept and re-sent verbatim, never treated as errors.
func (b *Blob) KnownType() bool {
	if b.payload == nil {
		return false
	}
	switch b.payload.Type {
	case BlobAudio, BlobImage, BlobDrawing:
		return true
	}
	return false
}

// Load hydrates the blob from a wire record.
func (b *Blob) Load(rec *wire.NodeRecord) error {
	if err := b.loadBase(rec); err != nil {
		return err
	}
	b.payload = rec.Blob
	return nil
}

// Save serializes the blob to a wire record.
func (b *Blob) Save(clean bool) (*wire.NodeRecord, error) {
	rec, err := b.saveBase(clean)
	if err != nil {
		return nil, err
	}
	rec.Blob = b.payload
	return rec, nil
}
