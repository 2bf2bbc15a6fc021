// Package wire defines the JSON schemas of the changes protocol. Every record
// is an explicit tagged struct; decoding fails with a field-level error instead
// of silently defaulting.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Node kind and type discriminators.
const (
	KindNode             = "notes#node"
	KindAnnotationsGroup = "notes#annotationsGroup"

	TypeNote     = "NOTE"
	TypeList     = "LIST"
	TypeListItem = "LIST_ITEM"
	TypeBlob     = "BLOB"
)

// NodeRecord is the wire form of a single node. Top-level and list-item
// fields are pointers so their absence survives a round trip.
type NodeRecord struct {
	ID               string             `json:"id"`
	Kind             string             `json:"kind"`
	Type             string             `json:"type"`
	ParentID         *string            `json:"parentId,omitempty"`
	SortValue        *SortValue         `json:"sortValue,omitempty"`
	BaseVersion      string             `json:"baseVersion,omitempty"`
	Text             *string            `json:"text,omitempty"`
	ServerID         string             `json:"serverId,omitempty"`
	Timestamps       *TimestampsRecord  `json:"timestamps,omitempty"`
	NodeSettings     *SettingsRecord    `json:"nodeSettings,omitempty"`
	AnnotationsGroup *AnnotationsGroup  `json:"annotationsGroup,omitempty"`

	// Moved marks a server-side merge conflict. It is never hydrated as data;
	// its presence raises a merge error.
	Moved json.RawMessage `json:"moved,omitempty"`

	// Top-level (NOTE/LIST) fields.
	Color         string               `json:"color,omitempty"`
	IsArchived    *bool                `json:"isArchived,omitempty"`
	IsPinned      *bool                `json:"isPinned,omitempty"`
	Title         *string              `json:"title,omitempty"`
	LabelIDs      *LabelRefs           `json:"labelIds,omitempty"`
	Collaborators []CollaboratorRecord `json:"collaborators,omitempty"`
	ShareRequests *ShareRequests       `json:"shareRequests,omitempty"`

	// LIST_ITEM fields.
	ParentServerID  string  `json:"parentServerId,omitempty"`
	SuperListItemID *string `json:"superListItemId,omitempty"`
	Checked         *bool   `json:"checked,omitempty"`

	// BLOB payload.
	Blob *BlobRecord `json:"blob,omitempty"`
}

// TimestampsRecord carries the node instants in the fixed microsecond format.
// Created and updated are required; the rest are omitted when absent.
type TimestampsRecord struct {
	Kind    string `json:"kind,omitempty"`
	Created string `json:"created"`
	Updated string `json:"updated"`
	Edited  string `json:"edited,omitempty"`
	Trashed string `json:"trashed,omitempty"`
	Deleted string `json:"deleted,omitempty"`
}

// SettingsRecord carries per-node display preferences.
type SettingsRecord struct {
	NewListItemPlacement   string `json:"newListItemPlacement"`
	CheckedListItemsPolicy string `json:"checkedListItemsPolicy"`
}

// AnnotationsGroup wraps a node's annotation list.
type AnnotationsGroup struct {
	Kind        string             `json:"kind,omitempty"`
	Annotations []AnnotationRecord `json:"annotations,omitempty"`
}

// AnnotationRecord is one annotation. Exactly one variant pointer is set for
// known kinds; a record with no known variant is preserved via Raw and
// round-tripped untouched (forward compatibility with newer server kinds).
type AnnotationRecord struct {
	ID            string            `json:"id"`
	WebLink       *WebLinkRecord    `json:"webLink,omitempty"`
	TopicCategory *CategoryRecord   `json:"topicCategory,omitempty"`
	TaskAssist    *TaskAssistRecord `json:"taskAssist,omitempty"`
	Context       *ContextRecord    `json:"context,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type annotationRecord AnnotationRecord

// UnmarshalJSON keeps the raw bytes of records whose variant key is not
// recognized so they can be re-emitted untouched.
func (a *AnnotationRecord) UnmarshalJSON(b []byte) error {
	var rec annotationRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("annotation: %w", err)
	}
	*a = AnnotationRecord(rec)
	if a.WebLink == nil && a.TopicCategory == nil && a.TaskAssist == nil && a.Context == nil {
		a.Raw = append(json.RawMessage(nil), b...)
	}
	return nil
}

// MarshalJSON re-emits preserved unknown records verbatim.
func (a AnnotationRecord) MarshalJSON() ([]byte, error) {
	if a.Raw != nil && a.WebLink == nil && a.TopicCategory == nil && a.TaskAssist == nil && a.Context == nil {
		return a.Raw, nil
	}
	return json.Marshal(annotationRecord(a))
}

// Known reports whether the record carries a recognized variant.
func (a *AnnotationRecord) Known() bool {
	return a.WebLink != nil || a.TopicCategory != nil || a.TaskAssist != nil || a.Context != nil
}

// WebLinkRecord is a link annotation.
type WebLinkRecord struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	ImageURL      string `json:"imageUrl,omitempty"`
	ProvenanceURL string `json:"provenanceUrl,omitempty"`
	Description   string `json:"description,omitempty"`
}

// CategoryRecord is a topic category annotation.
type CategoryRecord struct {
	Category string `json:"category"`
}

// TaskAssistRecord is a task suggestion annotation.
type TaskAssistRecord struct {
	SuggestType string `json:"suggestType"`
}

// ContextRecord nests sub-annotations keyed by their wire kind.
type ContextRecord struct {
	WebLink       *WebLinkRecord    `json:"webLink,omitempty"`
	TopicCategory *CategoryRecord   `json:"topicCategory,omitempty"`
	TaskAssist    *TaskAssistRecord `json:"taskAssist,omitempty"`
}

// BlobRecord is the payload of a BLOB node. Unknown types are skipped, not
// rejected.
type BlobRecord struct {
	Kind     string `json:"kind,omitempty"`
	Type     string `json:"type"`
	MimeType string `json:"mimetype,omitempty"`
	ByteSize int64  `json:"byte_size,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Length   int64  `json:"length,omitempty"`
}

// CollaboratorRecord is a confirmed share with its role.
type CollaboratorRecord struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ShareRequestRecord is a pending share or unshare request.
type ShareRequestRecord struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}

// SortValue is a 64-bit sibling sort key. The server emits it either as a
// JSON number or as a decimal string; it always marshals back as a string.
type SortValue int64

// MarshalJSON emits the key as a decimal string.
func (s SortValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(s), 10))
}

// UnmarshalJSON accepts both string and numeric forms.
func (s *SortValue) UnmarshalJSON(b []byte) error {
	t := bytes.TrimSpace(b)
	if len(t) > 0 && t[0] == '"' {
		var str string
		if err := json.Unmarshal(t, &str); err != nil {
			return fmt.Errorf("sortValue: %w", err)
		}
		v, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return fmt.Errorf("sortValue: %w", err)
		}
		*s = SortValue(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(t, &v); err != nil {
		return fmt.Errorf("sortValue: %w", err)
	}
	*s = SortValue(v)
	return nil
}

// LabelRef associates a label id with a removal instant; the epoch-zero
// timestamp means the reference is live.
type LabelRef struct {
	LabelID string `json:"labelId"`
	Deleted string `json:"deleted"`
}

// LabelRefs is the labelIds collection: a JSON array of LabelRef objects,
// optionally followed by one trailing boolean marking the collection itself
// dirty. The sentinel convention must survive a round trip verbatim.
type LabelRefs struct {
	Refs        []LabelRef
	Dirty       bool
	HasSentinel bool
}

// MarshalJSON renders the refs followed by the sentinel, when present.
func (l LabelRefs) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, 0, len(l.Refs)+1)
	for i := range l.Refs {
		b, err := json.Marshal(l.Refs[i])
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return marshalSentinelArray(items, l.HasSentinel, l.Dirty)
}

// UnmarshalJSON splits off a trailing boolean sentinel before decoding refs.
func (l *LabelRefs) UnmarshalJSON(b []byte) error {
	items, hasSentinel, dirty, err := splitSentinelArray(b)
	if err != nil {
		return fmt.Errorf("labelIds: %w", err)
	}
	l.Refs = nil
	l.HasSentinel = hasSentinel
	l.Dirty = dirty
	for _, m := range items {
		var r LabelRef
		if err := json.Unmarshal(m, &r); err != nil {
			return fmt.Errorf("labelIds: %w", err)
		}
		l.Refs = append(l.Refs, r)
	}
	return nil
}

// ShareRequests is the shareRequests collection, using the same trailing
// boolean sentinel convention as LabelRefs.
type ShareRequests struct {
	Requests    []ShareRequestRecord
	Dirty       bool
	HasSentinel bool
}

// MarshalJSON renders the requests followed by the sentinel, when present.
func (s ShareRequests) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, 0, len(s.Requests)+1)
	for i := range s.Requests {
		b, err := json.Marshal(s.Requests[i])
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return marshalSentinelArray(items, s.HasSentinel, s.Dirty)
}

// UnmarshalJSON splits off a trailing boolean sentinel before decoding requests.
func (s *ShareRequests) UnmarshalJSON(b []byte) error {
	items, hasSentinel, dirty, err := splitSentinelArray(b)
	if err != nil {
		return fmt.Errorf("shareRequests: %w", err)
	}
	s.Requests = nil
	s.HasSentinel = hasSentinel
	s.Dirty = dirty
	for _, m := range items {
		var r ShareRequestRecord
		if err := json.Unmarshal(m, &r); err != nil {
			return fmt.Errorf("shareRequests: %w", err)
		}
		s.Requests = append(s.Requests, r)
	}
	return nil
}

func marshalSentinelArray(items []json.RawMessage, hasSentinel, dirty bool) ([]byte, error) {
	if hasSentinel {
		b, err := json.Marshal(dirty)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return json.Marshal(items)
}

func splitSentinelArray(b []byte) (items []json.RawMessage, hasSentinel, dirty bool, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, false, false, err
	}
	for i, m := range raw {
		t := bytes.TrimSpace(m)
		if len(t) > 0 && (t[0] == 't' || t[0] == 'f') {
			if i != len(raw)-1 {
				return nil, false, false, fmt.Errorf("sentinel boolean at position %d is not trailing", i)
			}
			var d bool
			if err := json.Unmarshal(t, &d); err != nil {
				return nil, false, false, err
			}
			return items, true, d, nil
		}
		items = append(items, m)
	}
	return items, false, false, nil
}
