package keep

import (
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/majkowska/kindler/internal/wire"
)

// CategoryValue is a topic category assigned by an annotation.
type CategoryValue string

// Topic categories.
const (
	CategoryBooks  CategoryValue = "BOOKS"
	CategoryFood   CategoryValue = "FOOD"
	CategoryMovies CategoryValue = "MOVIES"
	CategoryMusic  CategoryValue = "MUSIC"
	CategoryPlaces CategoryValue = "PLACES"
	CategoryQuotes CategoryValue = "QUOTES"
	CategoryTravel CategoryValue = "TRAVEL"
	CategoryTV     CategoryValue = "TV"
)

// Annotation is a typed sub-document attached to a node. The set of
// variants is closed within this package; records with an unrecognized wire
// kind decode into *UnknownAnnotation and round-trip untouched.
type Annotation interface {
	// ID returns the annotation's opaque id.
	ID() string
	// Dirty reports local changes not yet acknowledged by the server.
	Dirty() bool

	clearDirty()
	save(clean bool) wire.AnnotationRecord
}

func newAnnotationID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// WebLink is a link annotation.
type WebLink struct {
	dirty bool
	id    string

	title         field[string]
	url           field[string]
	imageURL      field[string]
	provenanceURL field[string]
	description   field[string]
}

// NewWebLink constructs a WebLink with a fresh id.
func NewWebLink(url string) *WebLink {
	w := &WebLink{id: newAnnotationID()}
	w.wire()
	w.url.init(url)
	return w
}

func (w *WebLink) wire() {
	mark := func() { w.dirty = true }
	w.title.touch = mark
	w.url.touch = mark
	w.imageURL.touch = mark
	w.provenanceURL.touch = mark
	w.description.touch = mark
}

// ID returns the annotation id.
func (w *WebLink) ID() string { return w.id }

// Dirty reports unsynchronized changes.
func (w *WebLink) Dirty() bool { return w.dirty }

func (w *WebLink) clearDirty() { w.dirty = false }

// Title returns the link title.
func (w *WebLink) Title() string { return w.title.get() }

// SetTitle updates the link title.
func (w *WebLink) SetTitle(v string) { w.title.set(v) }

// URL returns the link target.
func (w *WebLink) URL() string { return w.url.get() }

// SetURL updates the link target.
func (w *WebLink) SetURL(v string) { w.url.set(v) }

// Description returns the link description.
func (w *WebLink) Description() string { return w.description.get() }

// SetDescription updates the link description.
func (w *WebLink) SetDescription(v string) { w.description.set(v) }

func (w *WebLink) load(id string, rec *wire.WebLinkRecord) {
	w.id = id
	w.title.init(rec.Title)
	w.url.init(rec.URL)
	w.imageURL.init(rec.ImageURL)
	w.provenanceURL.init(rec.ProvenanceURL)
	w.description.init(rec.Description)
}

func (w *WebLink) save(clean bool) wire.AnnotationRecord {
	if clean {
		w.dirty = false
	}
	return wire.AnnotationRecord{
		ID: w.id,
		WebLink: &wire.WebLinkRecord{
			Title:         w.title.get(),
			URL:           w.url.get(),
			ImageURL:      w.imageURL.get(),
			ProvenanceURL: w.provenanceURL.get(),
			Description:   w.description.get(),
		},
	}
}

// Category is a topic category annotation. At most one per node is expected
// logically, but the collection does not enforce it; the convenience
// accessors on Annotations read and write the first one found.
type Category struct {
	dirty bool
	id    string

	category field[CategoryValue]
}

// NewCategory constructs a Category with a fresh id.
func NewCategory(v CategoryValue) *Category {
	c := &Category{id: newAnnotationID()}
	c.category.touch = func() { c.dirty = true }
	c.category.init(v)
	return c
}

// ID returns the annotation id.
func (c *Category) ID() string { return c.id }

// Dirty reports unsynchronized changes.
func (c *Category) Dirty() bool { return c.dirty }

func (c *Category) clearDirty() { c.dirty = false }

// Value returns the assigned category.
func (c *Category) Value() CategoryValue { return c.category.get() }

// SetValue updates the assigned category.
func (c *Category) SetValue(v CategoryValue) { c.category.set(v) }

func (c *Category) load(id string, rec *wire.CategoryRecord) {
	c.id = id
	c.category.init(CategoryValue(rec.Category))
}

func (c *Category) save(clean bool) wire.AnnotationRecord {
	if clean {
		c.dirty = false
	}
	return wire.AnnotationRecord{
		ID:            c.id,
		TopicCategory: &wire.CategoryRecord{Category: string(c.category.get())},
	}
}

// TaskAssist is a task suggestion annotation.
type TaskAssist struct {
	dirty bool
	id    string

	suggestType field[string]
}

// NewTaskAssist constructs a TaskAssist with a fresh id.
func NewTaskAssist(suggestType string) *TaskAssist {
	t := &TaskAssist{id: newAnnotationID()}
	t.suggestType.touch = func() { t.dirty = true }
	t.suggestType.init(suggestType)
	return t
}

// ID returns the annotation id.
func (t *TaskAssist) ID() string { return t.id }

// Dirty reports unsynchronized changes.
func (t *TaskAssist) Dirty() bool { return t.dirty }

func (t *TaskAssist) clearDirty() { t.dirty = false }

// SuggestType returns the suggestion type.
func (t *TaskAssist) SuggestType() string { return t.suggestType.get() }

// SetSuggestType updates the suggestion type.
func (t *TaskAssist) SetSuggestType(v string) { t.suggestType.set(v) }

func (t *TaskAssist) load(id string, rec *wire.TaskAssistRecord) {
	t.id = id
	t.suggestType.init(rec.SuggestType)
}

func (t *TaskAssist) save(clean bool) wire.AnnotationRecord {
	if clean {
		t.dirty = false
	}
	return wire.AnnotationRecord{
		ID:         t.id,
		TaskAssist: &wire.TaskAssistRecord{SuggestType: t.suggestType.get()},
	}
}

// Context is a keyed bag of sub-annotations nested in one annotation slot.
// Keys are the wire discriminators ("webLink", "topicCategory",
// "taskAssist"). Its dirtiness is the union of its contents'.
type Context struct {
	dirty bool
	id    string

	order   []string
	entries map[string]Annotation
}

// NewContext constructs an empty Context with a fresh id.
func NewContext() *Context {
	return &Context{id: newAnnotationID(), entries: make(map[string]Annotation)}
}

// ID returns the annotation id.
func (c *Context) ID() string { return c.id }

// Dirty reports unsynchronized changes in the context or any entry.
func (c *Context) Dirty() bool {
	if c.dirty {
		return true
	}
	for _, a := range c.entries {
		if a.Dirty() {
			return true
		}
	}
	return false
}

func (c *Context) clearDirty() {
	c.dirty = false
	for _, a := range c.entries {
		a.clearDirty()
	}
}

// Put stores a sub-annotation under its wire key, replacing any previous one.
func (c *Context) Put(key string, a Annotation) {
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = a
	c.dirty = true
}

// Get returns the sub-annotation stored under key, or nil.
func (c *Context) Get(key string) Annotation { return c.entries[key] }

func (c *Context) load(id string, rec *wire.ContextRecord) {
	c.id = id
	c.order = nil
	c.entries = make(map[string]Annotation)
	if rec.WebLink != nil {
		w := &WebLink{}
		w.wire()
		w.load("", rec.WebLink)
		c.order = append(c.order, "webLink")
		c.entries["webLink"] = w
	}
	if rec.TopicCategory != nil {
		cat := &Category{}
		cat.category.touch = func() { cat.dirty = true }
		cat.load("", rec.TopicCategory)
		c.order = append(c.order, "topicCategory")
		c.entries["topicCategory"] = cat
	}
	if rec.TaskAssist != nil {
		ta := &TaskAssist{}
		ta.suggestType.touch = func() { ta.dirty = true }
		ta.load("", rec.TaskAssist)
		c.order = append(c.order, "taskAssist")
		c.entries["taskAssist"] = ta
	}
}

func (c *Context) save(clean bool) wire.AnnotationRecord {
	rec := wire.AnnotationRecord{ID: c.id, Context: &wire.ContextRecord{}}
	for _, key := range c.order {
		sub := c.entries[key].save(clean)
		switch key {
		case "webLink":
			rec.Context.WebLink = sub.WebLink
		case "topicCategory":
			rec.Context.TopicCategory = sub.TopicCategory
		case "taskAssist":
			rec.Context.TaskAssist = sub.TaskAssist
		}
	}
	if clean {
		c.dirty = false
	}
	return rec
}

// UnknownAnnotation preserves a record whose variant key this client does
// not understand. It is never dirty and re-serializes verbatim.
type UnknownAnnotation struct {
	id  string
	raw json.RawMessage
}

// ID returns the annotation id.
func (u *UnknownAnnotation) ID() string { return u.id }

// Dirty always reports false; unknown records are never mutated locally.
func (u *UnknownAnnotation) Dirty() bool { return false }

func (u *UnknownAnnotation) clearDirty() {}

func (u *UnknownAnnotation) save(bool) wire.AnnotationRecord {
	return wire.AnnotationRecord{ID: u.id, Raw: u.raw}
}

func decodeAnnotation(rec wire.AnnotationRecord) Annotation {
	switch {
	case rec.WebLink != nil:
		w := &WebLink{}
		w.wire()
		w.load(rec.ID, rec.WebLink)
		return w
	case rec.TopicCategory != nil:
		c := &Category{}
		c.category.touch = func() { c.dirty = true }
		c.load(rec.ID, rec.TopicCategory)
		return c
	case rec.TaskAssist != nil:
		t := &TaskAssist{}
		t.suggestType.touch = func() { t.dirty = true }
		t.load(rec.ID, rec.TaskAssist)
		return t
	case rec.Context != nil:
		c := NewContext()
		c.load(rec.ID, rec.Context)
		c.dirty = false
		return c
	default:
		return &UnknownAnnotation{id: rec.ID, raw: rec.Raw}
	}
}

// Annotations is a node's annotation collection, keyed by annotation id and
// ordered by insertion.
type Annotations struct {
	dirty bool

	order   []string
	entries map[string]Annotation
}

func newAnnotations() *Annotations {
	return &Annotations{entries: make(map[string]Annotation)}
}

// Dirty reports whether the collection or any member changed.
func (a *Annotations) Dirty() bool {
	if a.dirty {
		return true
	}
	for _, e := range a.entries {
		if e.Dirty() {
			return true
		}
	}
	return false
}

func (a *Annotations) clearDirty() {
	a.dirty = false
	for _, e := range a.entries {
		e.clearDirty()
	}
}

// All returns the annotations in insertion order.
func (a *Annotations) All() []Annotation {
	out := make([]Annotation, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.entries[id])
	}
	return out
}

// Append adds an annotation to the collection.
func (a *Annotations) Append(ann Annotation) {
	if _, ok := a.entries[ann.ID()]; !ok {
		a.order = append(a.order, ann.ID())
	}
	a.entries[ann.ID()] = ann
	a.dirty = true
}

// Remove drops the annotation with the given id, if present.
func (a *Annotations) Remove(id string) {
	if _, ok := a.entries[id]; !ok {
		return
	}
	delete(a.entries, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	a.dirty = true
}

// Links returns all WebLink annotations in insertion order.
func (a *Annotations) Links() []*WebLink {
	var out []*WebLink
	for _, id := range a.order {
		if w, ok := a.entries[id].(*WebLink); ok {
			out = append(out, w)
		}
	}
	return out
}

// Category returns the first Category annotation found in insertion order,
// or nil. Uniqueness is a soft constraint; with several present this is
// last-write-wins through SetCategory.
func (a *Annotations) Category() *Category {
	for _, id := range a.order {
		if c, ok := a.entries[id].(*Category); ok {
			return c
		}
	}
	return nil
}

// SetCategory updates the first Category found or appends a new one.
// A zero value removes it.
func (a *Annotations) SetCategory(v CategoryValue) {
	c := a.Category()
	if v == "" {
		if c != nil {
			a.Remove(c.ID())
		}
		return
	}
	if c != nil {
		c.SetValue(v)
		return
	}
	a.Append(NewCategory(v))
}

// Load hydrates the collection from a wire group without marking dirty.
func (a *Annotations) Load(rec *wire.AnnotationsGroup) error {
	a.order = nil
	a.entries = make(map[string]Annotation)
	if rec == nil {
		return nil
	}
	for i := range rec.Annotations {
		ann := decodeAnnotation(rec.Annotations[i])
		if ann.ID() == "" {
			return fmt.Errorf("annotation[%d]: missing id", i)
		}
		a.order = append(a.order, ann.ID())
		a.entries[ann.ID()] = ann
	}
	return nil
}

// Save serializes the collection; clean resets all dirty flags.
func (a *Annotations) Save(clean bool) *wire.AnnotationsGroup {
	rec := &wire.AnnotationsGroup{Kind: wire.KindAnnotationsGroup}
	for _, id := range a.order {
		rec.Annotations = append(rec.Annotations, a.entries[id].save(clean))
	}
	if clean {
		a.dirty = false
	}
	return rec
}
