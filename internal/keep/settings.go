package keep

import (
	"github.com/majkowska/kindler/internal/wire"
)

// PlacementValue selects where newly added list items land.
type PlacementValue string

// New-item placement preferences.
const (
	PlacementTop    PlacementValue = "TOP"
	PlacementBottom PlacementValue = "BOTTOM"
)

// PolicyValue selects how checked list items are displayed.
type PolicyValue string

// Checked-items display policies.
const (
	PolicyDefault   PolicyValue = "DEFAULT"
	PolicyGraveyard PolicyValue = "GRAVEYARD"
)

// NodeSettings carries per-node display preferences.
type NodeSettings struct {
	dirty bool

	newListItemPlacement   field[PlacementValue]
	checkedListItemsPolicy field[PolicyValue]
}

func newSettings() *NodeSettings {
	s := &NodeSettings{}
	s.newListItemPlacement.touch = s.markDirty
	s.checkedListItemsPolicy.touch = s.markDirty
	s.newListItemPlacement.init(PlacementTop)
	s.checkedListItemsPolicy.init(PolicyDefault)
	return s
}

func (s *NodeSettings) markDirty() { s.dirty = true }

// Dirty reports whether a preference changed since the last clean save.
func (s *NodeSettings) Dirty() bool { return s.dirty }

func (s *NodeSettings) clearDirty() { s.dirty = false }

// NewListItemPlacement returns the new-item placement preference.
func (s *NodeSettings) NewListItemPlacement() PlacementValue {
	return s.newListItemPlacement.get()
}

// SetNewListItemPlacement updates the new-item placement preference.
func (s *NodeSettings) SetNewListItemPlacement(v PlacementValue) {
	s.newListItemPlacement.set(v)
}

// CheckedListItemsPolicy returns the checked-items display policy.
func (s *NodeSettings) CheckedListItemsPolicy() PolicyValue {
	return s.checkedListItemsPolicy.get()
}

// SetCheckedListItemsPolicy updates the checked-items display policy.
func (s *NodeSettings) SetCheckedListItemsPolicy(v PolicyValue) {
	s.checkedListItemsPolicy.set(v)
}

// Load hydrates from the wire record without marking dirty.
func (s *NodeSettings) Load(rec *wire.SettingsRecord) error {
	if rec == nil {
		return nil
	}
	if rec.NewListItemPlacement != "" {
		s.newListItemPlacement.init(PlacementValue(rec.NewListItemPlacement))
	}
	if rec.CheckedListItemsPolicy != "" {
		s.checkedListItemsPolicy.init(PolicyValue(rec.CheckedListItemsPolicy))
	}
	return nil
}

// Save serializes to the wire record; clean resets the dirty flag.
func (s *NodeSettings) Save(clean bool) *wire.SettingsRecord {
	rec := &wire.SettingsRecord{
		NewListItemPlacement:   string(s.newListItemPlacement.get()),
		CheckedListItemsPolicy: string(s.checkedListItemsPolicy.get()),
	}
	if clean {
		s.dirty = false
	}
	return rec
}
