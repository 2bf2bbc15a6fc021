package keep

import (
	"sort"

	"github.com/majkowska/kindler/internal/wire"
)

// Placement selects where a newly added list item lands among its siblings.
type Placement int

// Symbolic placements. Top computes max+step, Bottom min-step, so repeated
// insertions at either end stay strictly ordered without renumbering.
const (
	PlaceTop Placement = iota
	PlaceBottom
)

// ListItem is a checklist entry. Its structural parent is always the owning
// List; indentation under a sibling is a separate relation via superItemID.
type ListItem struct {
	Node

	checked field[bool]

	superItemID     string
	prevSuperItemID string
	superItem       *ListItem

	subOrder []string
	subItems map[string]*ListItem

	parentServerID string
}

// NewListItem constructs a detached checklist item.
func NewListItem() *ListItem {
	i := &ListItem{subItems: make(map[string]*ListItem)}
	i.initNode(i, TypeListItem)
	i.checked.touch = func() { i.Touch(true) }
	return i
}

// Checked reports the checkbox state.
func (i *ListItem) Checked() bool { return i.checked.get() }

// SetChecked updates the checkbox with edited semantics.
func (i *ListItem) SetChecked(v bool) { i.checked.set(v) }

// SuperItemID returns the id of the item this one is indented under, or "".
func (i *ListItem) SuperItemID() string { return i.superItemID }

// PrevSuperItemID returns the indentation parent id as of the last
// hydration; reconciliation compares it against SuperItemID to detect
// server-driven indentation moves.
func (i *ListItem) PrevSuperItemID() string { return i.prevSuperItemID }

// SuperItem returns the resolved indentation parent, or nil.
func (i *ListItem) SuperItem() *ListItem { return i.superItem }

// Indented reports whether the item sits under a super item.
func (i *ListItem) Indented() bool { return i.superItemID != "" }

// HasSubItems reports whether any sibling is indented under this item.
func (i *ListItem) HasSubItems() bool { return len(i.subItems) > 0 }

// SubItems returns the indented children in insertion order.
func (i *ListItem) SubItems() []*ListItem {
	out := make([]*ListItem, 0, len(i.subOrder))
	for _, id := range i.subOrder {
		out = append(out, i.subItems[id])
	}
	return out
}

// Indent places child under this item. Only one level of indentation is
// allowed: a child that is itself a super item refuses to indent (no-op).
func (i *ListItem) Indent(child *ListItem, markDirty bool) {
	if child == i || child.HasSubItems() {
		return
	}
	if child.superItem == i {
		return
	}
	if child.superItem != nil {
		child.superItem.Dedent(child, markDirty)
	}
	i.attachSub(child)
	if markDirty {
		child.Touch(true)
	}
}

// Dedent removes child from under this item (no-op if not indented here).
func (i *ListItem) Dedent(child *ListItem, markDirty bool) {
	if child.superItem != i {
		return
	}
	i.detachSub(child)
	child.superItemID = ""
	if markDirty {
		child.Touch(true)
	}
}

func (i *ListItem) attachSub(child *ListItem) {
	if _, ok := i.subItems[child.id]; !ok {
		i.subOrder = append(i.subOrder, child.id)
	}
	i.subItems[child.id] = child
	child.superItem = i
	child.superItemID = i.id
}

func (i *ListItem) detachSub(child *ListItem) {
	if _, ok := i.subItems[child.id]; !ok {
		return
	}
	delete(i.subItems, child.id)
	for idx, id := range i.subOrder {
		if id == child.id {
			i.subOrder = append(i.subOrder[:idx], i.subOrder[idx+1:]...)
			break
		}
	}
	child.superItem = nil
}

// MarkSuperResolved records the current indentation parent as settled,
// so the next hydration can detect a change again.
func (i *ListItem) MarkSuperResolved() { i.prevSuperItemID = i.superItemID }

// effectiveSuper resolves the indentation parent, falling back to a sibling
// scan when the pointer has not been linked yet (fresh hydration).
func (i *ListItem) effectiveSuper() *ListItem {
	if i.superItem != nil {
		return i.superItem
	}
	if i.superItemID == "" || i.parent == nil {
		return nil
	}
	if s, ok := i.parent.Base().Child(i.superItemID).(*ListItem); ok {
		return s
	}
	return nil
}

// Load hydrates the item. The previous indentation parent id is captured
// before being overwritten so reconciliation can diff it.
func (i *ListItem) Load(rec *wire.NodeRecord) error {
	if err := i.loadBase(rec); err != nil {
		return err
	}
	i.prevSuperItemID = i.superItemID
	if rec.SuperListItemID != nil {
		i.superItemID = *rec.SuperListItemID
	} else {
		i.superItemID = ""
	}
	if rec.Checked != nil {
		i.checked.init(*rec.Checked)
	}
	i.parentServerID = rec.ParentServerID
	return nil
}

// Save serializes the item to a wire record.
func (i *ListItem) Save(clean bool) (*wire.NodeRecord, error) {
	rec, err := i.saveBase(clean)
	if err != nil {
		return nil, err
	}
	parentServerID := i.parentServerID
	if parentServerID == "" && i.parent != nil {
		parentServerID = i.parent.Base().ServerID()
	}
	superID := i.superItemID
	checked := i.checked.get()
	rec.ParentServerID = parentServerID
	rec.SuperListItemID = &superID
	rec.Checked = &checked
	return rec, nil
}

// List is a top-level checklist. Its structural children are ListItems.
type List struct {
	TopNode
}

// NewList constructs a checklist parented at the root sentinel.
func NewList() *List {
	l := &List{}
	l.initTopNode(l, TypeList)
	return l
}

// Load hydrates the list from a wire record.
func (l *List) Load(rec *wire.NodeRecord) error { return l.loadTop(rec, nil) }

// LoadWithLabels hydrates the list resolving label references through lookup.
func (l *List) LoadWithLabels(rec *wire.NodeRecord, lookup func(id string) *Label) error {
	return l.loadTop(rec, lookup)
}

// Save serializes the list to a wire record.
func (l *List) Save(clean bool) (*wire.NodeRecord, error) { return l.saveTop(clean) }

// Add appends a new item with a symbolic placement.
func (l *List) Add(text string, checked bool, p Placement) *ListItem {
	return l.add(text, checked, l.placementKey(p))
}

// AddWithSort appends a new item with an explicit sort key.
func (l *List) AddWithSort(text string, checked bool, sortKey int64) *ListItem {
	return l.add(text, checked, sortKey)
}

func (l *List) add(text string, checked bool, sortKey int64) *ListItem {
	item := NewListItem()
	item.SetText(text)
	item.SetChecked(checked)
	item.SetSortKey(sortKey)
	l.Append(item, true)
	return item
}

func (l *List) placementKey(p Placement) int64 {
	items := l.allItems()
	if len(items) == 0 {
		return newSortKey()
	}
	min, max := items[0].SortKey(), items[0].SortKey()
	for _, it := range items[1:] {
		k := it.SortKey()
		if k < min {
			min = k
		}
		if k > max {
			max = k
		}
	}
	if p == PlaceTop {
		return max + sortStep
	}
	return min - sortStep
}

func (l *List) allItems() []*ListItem {
	var out []*ListItem
	for _, c := range l.Children() {
		if it, ok := c.(*ListItem); ok {
			out = append(out, it)
		}
	}
	return out
}

// Items returns the non-deleted items in display order: siblings descend by
// sort key; indented items take their super item's position first, then
// their own key, so they follow their super while keeping relative order.
func (l *List) Items() []*ListItem {
	var out []*ListItem
	for _, it := range l.allItems() {
		if it.Deleted() {
			continue
		}
		out = append(out, it)
	}
	sortItems(out)
	return out
}

// CheckedItems returns the non-deleted checked items in display order.
func (l *List) CheckedItems() []*ListItem { return l.filterItems(true) }

// UncheckedItems returns the non-deleted unchecked items in display order.
func (l *List) UncheckedItems() []*ListItem { return l.filterItems(false) }

func (l *List) filterItems(checked bool) []*ListItem {
	var out []*ListItem
	for _, it := range l.Items() {
		if it.Checked() == checked {
			out = append(out, it)
		}
	}
	return out
}

// SortItems renumbers all non-deleted items by the given key: a full
// reassignment of strictly decreasing sort keys spaced by the standard step,
// starting from a fresh random seed. Used for explicit reorder-by-criterion,
// not manual dragging.
func (l *List) SortItems(key func(*ListItem) string, reverse bool) {
	if key == nil {
		key = func(it *ListItem) string { return it.Text() }
	}
	var items []*ListItem
	for _, it := range l.allItems() {
		if !it.Deleted() {
			items = append(items, it)
		}
	}
	sort.SliceStable(items, func(a, b int) bool {
		if reverse {
			return key(items[a]) > key(items[b])
		}
		return key(items[a]) < key(items[b])
	})
	seed := newSortKey()
	for idx, it := range items {
		it.SetSortKey(seed - int64(idx)*sortStep)
	}
}

func sortItems(items []*ListItem) {
	sort.SliceStable(items, func(a, b int) bool {
		pa, sa, topA := sortTuple(items[a])
		pb, sb, topB := sortTuple(items[b])
		if pa != pb {
			return pa > pb
		}
		if topA != topB {
			return topA
		}
		if sa != sb {
			return sa > sb
		}
		return items[a].ID() < items[b].ID()
	})
}

// sortTuple positions an item: indented items inherit their super item's
// key as primary and keep their own as secondary; the super itself sorts
// ahead of its children.
func sortTuple(it *ListItem) (primary, secondary int64, super bool) {
	if s := it.effectiveSuper(); s != nil {
		return s.SortKey(), it.SortKey(), false
	}
	return it.SortKey(), 0, true
}
