package keep

import (
	"fmt"
	"time"

	"github.com/majkowska/kindler/internal/wire"
)

// ColorValue is a top-level node color.
type ColorValue string

// Note colors.
const (
	ColorWhite    ColorValue = "WHITE"
	ColorRed      ColorValue = "RED"
	ColorOrange   ColorValue = "ORANGE"
	ColorYellow   ColorValue = "YELLOW"
	ColorGreen    ColorValue = "GREEN"
	ColorTeal     ColorValue = "TEAL"
	ColorBlue     ColorValue = "BLUE"
	ColorDarkBlue ColorValue = "DARKBLUE"
	ColorPurple   ColorValue = "PURPLE"
	ColorPink     ColorValue = "PINK"
	ColorBrown    ColorValue = "BROWN"
	ColorGray     ColorValue = "GRAY"
)

// RoleValue is a confirmed collaborator role.
type RoleValue string

// Collaborator roles.
const (
	RoleOwner  RoleValue = "O"
	RoleEditor RoleValue = "W"
)

// ShareRequestValue is a pending share mutation.
type ShareRequestValue string

// Share request types.
const (
	ShareAdd    ShareRequestValue = "WR"
	ShareRemove ShareRequestValue = "RM"
)

// labelEntry is one live label reference. The label pointer is nil when the
// registry no longer resolves the id (dangling reference); removed holds the
// pending-removal instant, epoch zero while the reference is live.
type labelEntry struct {
	label   *Label
	removed time.Time
}

// NodeLabels is a top-level node's label-reference set. References are by
// id only; the live pointer is a convenience resolved against the registry.
type NodeLabels struct {
	dirty bool

	order   []string
	entries map[string]*labelEntry
}

func newNodeLabels() *NodeLabels {
	return &NodeLabels{entries: make(map[string]*labelEntry)}
}

// Dirty reports whether the reference set changed since the last clean save.
func (nl *NodeLabels) Dirty() bool { return nl.dirty }

func (nl *NodeLabels) clearDirty() { nl.dirty = false }

// Add references the given label. Re-adding a live reference is a no-op.
func (nl *NodeLabels) Add(l *Label) {
	if e, ok := nl.entries[l.ID()]; ok && !e.removed.After(EpochZero) {
		e.label = l
		return
	}
	if _, ok := nl.entries[l.ID()]; !ok {
		nl.order = append(nl.order, l.ID())
	}
	nl.entries[l.ID()] = &labelEntry{label: l, removed: EpochZero}
	nl.dirty = true
}

// Remove marks the reference for removal; the entry stays, pending the next
// sync, so the outbound record can carry the removal instant.
func (nl *NodeLabels) Remove(id string) {
	e, ok := nl.entries[id]
	if !ok || e.removed.After(EpochZero) {
		return
	}
	e.removed = time.Now().UTC()
	nl.dirty = true
}

// Get resolves a live reference, or nil if removed, dangling or unknown.
func (nl *NodeLabels) Get(id string) *Label {
	e, ok := nl.entries[id]
	if !ok || e.removed.After(EpochZero) {
		return nil
	}
	return e.label
}

// IDs returns the ids of all live references in insertion order.
func (nl *NodeLabels) IDs() []string {
	var out []string
	for _, id := range nl.order {
		if e := nl.entries[id]; !e.removed.After(EpochZero) {
			out = append(out, id)
		}
	}
	return out
}

// All returns all resolvable live labels in insertion order. Dangling
// references resolve to nil and are skipped.
func (nl *NodeLabels) All() []*Label {
	var out []*Label
	for _, id := range nl.order {
		if e := nl.entries[id]; !e.removed.After(EpochZero) && e.label != nil {
			out = append(out, e.label)
		}
	}
	return out
}

// Drop removes the reference entirely, without pending-removal bookkeeping.
// Used when the authoritative label set no longer contains the id.
func (nl *NodeLabels) Drop(id string) {
	if _, ok := nl.entries[id]; !ok {
		return
	}
	delete(nl.entries, id)
	for i, v := range nl.order {
		if v == id {
			nl.order = append(nl.order[:i], nl.order[i+1:]...)
			break
		}
	}
}

// resolve re-points every entry's label through the registry lookup.
func (nl *NodeLabels) resolve(lookup func(id string) *Label) {
	for id, e := range nl.entries {
		e.label = lookup(id)
	}
}

// Load hydrates the reference set from the wire form. The trailing sentinel,
// when present, restores the collection's own dirty flag (dump blobs carry
// dirty state).
func (nl *NodeLabels) Load(rec *wire.LabelRefs, lookup func(id string) *Label) error {
	nl.order = nil
	nl.entries = make(map[string]*labelEntry)
	nl.dirty = false
	if rec == nil {
		return nil
	}
	for i := range rec.Refs {
		ref := rec.Refs[i]
		if ref.LabelID == "" {
			return fmt.Errorf("labelIds[%d]: missing labelId", i)
		}
		removed, err := ParseTime(ref.Deleted)
		if err != nil {
			return fmt.Errorf("labelIds[%d]: %w", i, err)
		}
		if removed.IsZero() {
			removed = EpochZero
		}
		var l *Label
		if lookup != nil {
			l = lookup(ref.LabelID)
		}
		nl.order = append(nl.order, ref.LabelID)
		nl.entries[ref.LabelID] = &labelEntry{label: l, removed: removed}
	}
	if rec.HasSentinel {
		nl.dirty = rec.Dirty
	}
	return nil
}

// Save serializes the reference set. A clean save omits the sentinel,
// prunes pending removals and resets the dirty flag; a dirty-preserving
// save appends the sentinel carrying the current flag.
func (nl *NodeLabels) Save(clean bool) *wire.LabelRefs {
	rec := &wire.LabelRefs{}
	for _, id := range nl.order {
		e := nl.entries[id]
		rec.Refs = append(rec.Refs, wire.LabelRef{
			LabelID: id,
			Deleted: FormatTime(e.removed),
		})
	}
	if clean {
		for id, e := range nl.entries {
			if e.removed.After(EpochZero) {
				nl.Drop(id)
			}
		}
		nl.dirty = false
	} else {
		rec.HasSentinel = true
		rec.Dirty = nl.dirty
	}
	return rec
}

// collabEntry is one collaborator slot: either a confirmed role, a pending
// request, or both (a pending removal of a confirmed collaborator).
type collabEntry struct {
	role    RoleValue
	pending ShareRequestValue
}

// NodeCollaborators is a top-level node's collaborator set, keyed by email.
type NodeCollaborators struct {
	dirty bool

	order   []string
	entries map[string]*collabEntry
}

func newNodeCollaborators() *NodeCollaborators {
	return &NodeCollaborators{entries: make(map[string]*collabEntry)}
}

// Dirty reports whether the set changed since the last clean save.
func (nc *NodeCollaborators) Dirty() bool { return nc.dirty }

func (nc *NodeCollaborators) clearDirty() { nc.dirty = false }

// Add requests sharing with the given email.
func (nc *NodeCollaborators) Add(email string) {
	e, ok := nc.entries[email]
	if !ok {
		e = &collabEntry{}
		nc.entries[email] = e
		nc.order = append(nc.order, email)
	}
	if e.role != "" {
		// already confirmed; cancel a pending removal at most
		if e.pending == ShareRemove {
			e.pending = ""
			nc.dirty = true
		}
		return
	}
	e.pending = ShareAdd
	nc.dirty = true
}

// Remove requests unsharing from the given email.
func (nc *NodeCollaborators) Remove(email string) {
	e, ok := nc.entries[email]
	if !ok {
		return
	}
	if e.role == "" && e.pending == ShareAdd {
		// never confirmed; forget the pending add entirely
		delete(nc.entries, email)
		for i, v := range nc.order {
			if v == email {
				nc.order = append(nc.order[:i], nc.order[i+1:]...)
				break
			}
		}
		nc.dirty = true
		return
	}
	e.pending = ShareRemove
	nc.dirty = true
}

// All returns the emails of confirmed and pending-add collaborators.
func (nc *NodeCollaborators) All() []string {
	var out []string
	for _, email := range nc.order {
		e := nc.entries[email]
		if e.pending == ShareRemove {
			continue
		}
		out = append(out, email)
	}
	return out
}

// Role returns the confirmed role for email, or "".
func (nc *NodeCollaborators) Role(email string) RoleValue {
	if e, ok := nc.entries[email]; ok {
		return e.role
	}
	return ""
}

// Load hydrates from the wire forms. The trailing sentinel on the requests
// collection, when present, restores the dirty flag.
func (nc *NodeCollaborators) Load(collabs []wire.CollaboratorRecord, reqs *wire.ShareRequests) error {
	nc.order = nil
	nc.entries = make(map[string]*collabEntry)
	nc.dirty = false
	for i := range collabs {
		c := collabs[i]
		if c.Email == "" {
			return fmt.Errorf("collaborators[%d]: missing email", i)
		}
		nc.order = append(nc.order, c.Email)
		nc.entries[c.Email] = &collabEntry{role: RoleValue(c.Role)}
	}
	if reqs != nil {
		for i := range reqs.Requests {
			r := reqs.Requests[i]
			if r.Email == "" {
				return fmt.Errorf("shareRequests[%d]: missing email", i)
			}
			e, ok := nc.entries[r.Email]
			if !ok {
				e = &collabEntry{}
				nc.entries[r.Email] = e
				nc.order = append(nc.order, r.Email)
			}
			e.pending = ShareRequestValue(r.Type)
		}
		if reqs.HasSentinel {
			nc.dirty = reqs.Dirty
		}
	}
	return nil
}

// Save serializes confirmed roles and pending requests. A clean save omits
// the sentinel and resets the dirty flag; pending requests stay until the
// server confirms them in a later delta.
func (nc *NodeCollaborators) Save(clean bool) ([]wire.CollaboratorRecord, *wire.ShareRequests) {
	var collabs []wire.CollaboratorRecord
	reqs := &wire.ShareRequests{}
	for _, email := range nc.order {
		e := nc.entries[email]
		if e.role != "" {
			collabs = append(collabs, wire.CollaboratorRecord{Email: email, Role: string(e.role)})
		}
		if e.pending != "" {
			reqs.Requests = append(reqs.Requests, wire.ShareRequestRecord{
				Email: email,
				Type:  string(e.pending),
			})
		}
	}
	if clean {
		nc.dirty = false
	} else {
		reqs.HasSentinel = true
		reqs.Dirty = nc.dirty
	}
	if len(reqs.Requests) == 0 && !reqs.HasSentinel {
		reqs = nil
	}
	return collabs, reqs
}

// TopNode is the shared layer of Note and List: color, archive and pin
// flags, title, label references and collaborators. Top-level nodes are
// always parented directly at the root sentinel.
type TopNode struct {
	Node

	color    field[ColorValue]
	archived field[bool]
	pinned   field[bool]
	title    field[string]

	labels        *NodeLabels
	collaborators *NodeCollaborators
}

func (t *TopNode) initTopNode(self Noder, typ NodeType) {
	t.initNode(self, typ)
	t.parentID = RootID
	t.color.touch = func() { t.Touch(true) }
	t.archived.touch = func() { t.Touch(true) }
	t.pinned.touch = func() { t.Touch(true) }
	t.title.touch = func() { t.Touch(true) }
	t.color.init(ColorWhite)
	t.labels = newNodeLabels()
	t.collaborators = newNodeCollaborators()
}

// Color returns the node color.
func (t *TopNode) Color() ColorValue { return t.color.get() }

// SetColor updates the node color.
func (t *TopNode) SetColor(v ColorValue) { t.color.set(v) }

// Archived reports whether the node is archived.
func (t *TopNode) Archived() bool { return t.archived.get() }

// SetArchived archives or unarchives the node.
func (t *TopNode) SetArchived(v bool) { t.archived.set(v) }

// Pinned reports whether the node is pinned.
func (t *TopNode) Pinned() bool { return t.pinned.get() }

// SetPinned pins or unpins the node.
func (t *TopNode) SetPinned(v bool) { t.pinned.set(v) }

// Title returns the node title.
func (t *TopNode) Title() string { return t.title.get() }

// SetTitle updates the node title.
func (t *TopNode) SetTitle(v string) { t.title.set(v) }

// Labels exposes the label-reference set.
func (t *TopNode) Labels() *NodeLabels { return t.labels }

// Collaborators exposes the collaborator set.
func (t *TopNode) Collaborators() *NodeCollaborators { return t.collaborators }

// Dirty unions the node core with the label and collaborator sets.
func (t *TopNode) Dirty() bool {
	return t.Node.Dirty() || t.labels.Dirty() || t.collaborators.Dirty()
}

// ClearDirty resets the node core plus the label and collaborator sets.
func (t *TopNode) ClearDirty() {
	t.Node.ClearDirty()
	t.labels.clearDirty()
	t.collaborators.clearDirty()
}

// ResolveLabels re-points label references through the registry lookup.
func (t *TopNode) ResolveLabels(lookup func(id string) *Label) {
	t.labels.resolve(lookup)
}

func (t *TopNode) loadTop(rec *wire.NodeRecord, lookup func(id string) *Label) error {
	if err := t.loadBase(rec); err != nil {
		return err
	}
	if rec.Color != "" {
		t.color.init(ColorValue(rec.Color))
	}
	if rec.IsArchived != nil {
		t.archived.init(*rec.IsArchived)
	}
	if rec.IsPinned != nil {
		t.pinned.init(*rec.IsPinned)
	}
	if rec.Title != nil {
		t.title.init(*rec.Title)
	}
	if err := t.labels.Load(rec.LabelIDs, lookup); err != nil {
		return fmt.Errorf("node %s: %w", t.id, err)
	}
	if err := t.collaborators.Load(rec.Collaborators, rec.ShareRequests); err != nil {
		return fmt.Errorf("node %s: %w", t.id, err)
	}
	return nil
}

func (t *TopNode) saveTop(clean bool) (*wire.NodeRecord, error) {
	rec, err := t.saveBase(clean)
	if err != nil {
		return nil, err
	}
	archived := t.archived.get()
	pinned := t.pinned.get()
	title := t.title.get()
	rec.Color = string(t.color.get())
	rec.IsArchived = &archived
	rec.IsPinned = &pinned
	rec.Title = &title
	rec.LabelIDs = t.labels.Save(clean)
	rec.Collaborators, rec.ShareRequests = t.collaborators.Save(clean)
	return rec, nil
}

// Note is a top-level free-text note. Its structural children are Blob
// attachments.
type Note struct {
	TopNode
}

// NewNote constructs a note parented at the root sentinel.
func NewNote() *Note {
	n := &Note{}
	n.initTopNode(n, TypeNote)
	return n
}

// Load hydrates the note from a wire record.
func (n *Note) Load(rec *wire.NodeRecord) error { return n.loadTop(rec, nil) }

// LoadWithLabels hydrates the note resolving label references through lookup.
func (n *Note) LoadWithLabels(rec *wire.NodeRecord, lookup func(id string) *Label) error {
	return n.loadTop(rec, lookup)
}

// Save serializes the note to a wire record.
func (n *Note) Save(clean bool) (*wire.NodeRecord, error) { return n.saveTop(clean) }
