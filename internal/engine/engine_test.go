package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/majkowska/kindler/internal/errs"
	"github.com/majkowska/kindler/internal/keep"
	"github.com/majkowska/kindler/internal/wire"
)

type fakeChanger struct {
	t     *testing.T
	reqs  []*wire.ChangesRequest
	resps []*wire.ChangesResponse
	err   error
}

var _ Changer = (*fakeChanger)(nil)

func (f *fakeChanger) Changes(_ context.Context, req *wire.ChangesRequest) (*wire.ChangesResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.resps) == 0 {
		f.t.Fatalf("unexpected extra round %d", len(f.reqs))
	}
	resp := f.resps[0]
	f.resps = f.resps[1:]
	return resp, nil
}

func strPtr(s string) *string { return &s }

func tsRec() *wire.TimestampsRecord {
	now := keep.FormatTime(time.Now())
	return &wire.TimestampsRecord{Created: now, Updated: now}
}

func noteRec(id, parent, title string) wire.NodeRecord {
	sort := wire.SortValue(5000)
	return wire.NodeRecord{
		ID:         id,
		Kind:       wire.KindNode,
		Type:       wire.TypeNote,
		ParentID:   strPtr(parent),
		SortValue:  &sort,
		Title:      strPtr(title),
		Timestamps: tsRec(),
	}
}

func labelRec(id, name string) wire.LabelRecord {
	return wire.LabelRecord{MainID: id, Name: name, Timestamps: tsRec()}
}

func TestEngine_Sync_SendsDirtyAndClears(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{{ToVersion: "v1"}}}
	e := New(fc, nil)

	n, err := e.CreateNote("shopping", "milk", "")
	require.NoError(t, err)
	require.True(t, n.Dirty())

	require.NoError(t, e.Sync(context.Background(), false))

	require.Len(t, fc.reqs, 1)
	require.Len(t, fc.reqs[0].Nodes, 1)
	require.Equal(t, n.ID(), fc.reqs[0].Nodes[0].ID)
	require.Nil(t, fc.reqs[0].UserInfo, "no dirty labels, no userInfo")
	require.Equal(t, "v1", e.Version())
	require.False(t, n.Dirty())
}

func TestEngine_Sync_TruncatedRepeatsRound(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", Truncated: true},
		{ToVersion: "v2"},
	}}
	e := New(fc, nil)

	n, err := e.CreateNote("t", "x", "")
	require.NoError(t, err)

	require.NoError(t, e.Sync(context.Background(), false))

	require.Len(t, fc.reqs, 2)
	// dirty flags are cleared only after the final round, so the node is
	// re-sent; the server deduplicates by id
	require.Len(t, fc.reqs[1].Nodes, 1)
	require.Equal(t, "v1", fc.reqs[1].TargetVersion)
	require.Equal(t, "v2", e.Version())
	require.False(t, n.Dirty())
}

func TestEngine_Sync_ForceResyncKeepsDirty(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", ForceFullResync: true},
	}}
	e := New(fc, nil)

	n, err := e.CreateNote("t", "x", "")
	require.NoError(t, err)

	err = e.Sync(context.Background(), false)
	require.ErrorIs(t, err, errs.ErrResyncRequired)
	require.True(t, n.Dirty(), "local edits survive a refused sync")
}

func TestEngine_Sync_MissingToVersion(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{{}}}
	e := New(fc, nil)

	err := e.Sync(context.Background(), false)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestEngine_Sync_UpgradeRecommendedSticky(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", UpgradeRecommended: true},
		{ToVersion: "v2"},
	}}
	e := New(fc, nil)

	require.NoError(t, e.Sync(context.Background(), false))
	require.True(t, e.UpgradeRecommended())
	require.NoError(t, e.Sync(context.Background(), false))
	require.True(t, e.UpgradeRecommended(), "the flag never resets")
}

func TestEngine_ApplyNodes_CreateUpdateDelete(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", Nodes: []wire.NodeRecord{noteRec("n1", keep.RootID, "hello")}},
		{ToVersion: "v2", Nodes: []wire.NodeRecord{noteRec("n1", keep.RootID, "renamed")}},
		{ToVersion: "v3", Nodes: []wire.NodeRecord{{ID: "n1"}}},
	}}
	e := New(fc, nil)
	ctx := context.Background()

	require.NoError(t, e.Sync(ctx, false))
	got := e.Get("n1")
	require.NotNil(t, got)
	require.Equal(t, "hello", got.(*keep.Note).Title())
	require.False(t, got.Dirty(), "server-driven creation is not a local edit")

	require.NoError(t, e.Sync(ctx, false))
	require.Equal(t, "renamed", e.Get("n1").(*keep.Note).Title())

	require.NoError(t, e.Sync(ctx, false))
	require.Nil(t, e.Get("n1"), "a record without a parent is a deletion")

	unreachable, unindexed := e.CheckConsistency()
	require.Empty(t, unreachable)
	require.Empty(t, unindexed)
}

func TestEngine_ApplyNodes_Idempotent(t *testing.T) {
	t.Parallel()

	rec := noteRec("n1", keep.RootID, "same")
	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", Nodes: []wire.NodeRecord{rec}},
		{ToVersion: "v2", Nodes: []wire.NodeRecord{rec}},
	}}
	e := New(fc, nil)
	ctx := context.Background()

	require.NoError(t, e.Sync(ctx, false))
	require.NoError(t, e.Sync(ctx, false))

	require.Len(t, e.Root().Children(), 1)
	n := e.Get("n1").(*keep.Note)
	require.Equal(t, "same", n.Title())
	require.False(t, n.Dirty(), "re-applying the same record is a no-op")

	unreachable, unindexed := e.CheckConsistency()
	require.Empty(t, unreachable)
	require.Empty(t, unindexed)
}

func TestEngine_ApplyNodes_UnknownTypeSkipped(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", Nodes: []wire.NodeRecord{
			{ID: "x1", Type: "WIDGET", ParentID: strPtr(keep.RootID), Timestamps: tsRec()},
			noteRec("n1", keep.RootID, "ok"),
		}},
	}}
	e := New(fc, nil)

	require.NoError(t, e.Sync(context.Background(), false))
	require.Nil(t, e.Get("x1"))
	require.NotNil(t, e.Get("n1"))
}

func TestEngine_ApplyNodes_ServerIDIndexed(t *testing.T) {
	t.Parallel()

	rec := noteRec("n1", keep.RootID, "t")
	rec.ServerID = "srv-9"
	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", Nodes: []wire.NodeRecord{rec}},
	}}
	e := New(fc, nil)

	require.NoError(t, e.Sync(context.Background(), false))
	require.NotNil(t, e.Get("srv-9"), "nodes resolve by server id too")
}

func TestEngine_ApplyNodes_MergeConflict(t *testing.T) {
	t.Parallel()

	conflicted := noteRec("n1", keep.RootID, "theirs")
	conflicted.Moved = []byte(`{}`)
	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", Nodes: []wire.NodeRecord{noteRec("n1", keep.RootID, "mine")}},
		{ToVersion: "v2", Nodes: []wire.NodeRecord{conflicted}},
	}}
	e := New(fc, nil)
	ctx := context.Background()

	require.NoError(t, e.Sync(ctx, false))
	err := e.Sync(ctx, false)
	require.ErrorIs(t, err, errs.ErrMergeConflict)
}

func TestEngine_ApplyNodes_ServerDrivenIndentation(t *testing.T) {
	t.Parallel()

	listRec := wire.NodeRecord{
		ID: "l1", Kind: wire.KindNode, Type: wire.TypeList,
		ParentID: strPtr(keep.RootID), Title: strPtr("chores"), Timestamps: tsRec(),
	}
	itemRec := func(id, super string, sort int64) wire.NodeRecord {
		sv := wire.SortValue(sort)
		return wire.NodeRecord{
			ID: id, Kind: wire.KindNode, Type: wire.TypeListItem,
			ParentID: strPtr("l1"), SortValue: &sv, Text: strPtr(id),
			SuperListItemID: strPtr(super), Checked: new(bool), Timestamps: tsRec(),
		}
	}
	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", Nodes: []wire.NodeRecord{
			listRec,
			itemRec("i1", "", 3000),
			itemRec("i2", "i1", 1000),
		}},
	}}
	e := New(fc, nil)

	require.NoError(t, e.Sync(context.Background(), false))

	l, ok := e.Get("l1").(*keep.List)
	require.True(t, ok)
	items := l.Items()
	require.Len(t, items, 2)
	require.Equal(t, "i1", items[0].ID())
	require.Equal(t, "i2", items[1].ID())
	require.Equal(t, "i1", items[1].SuperItemID())
	require.False(t, l.Dirty(), "server-driven indentation must not dirty")
}

func TestEngine_ApplyLabels_Authoritative(t *testing.T) {
	t.Parallel()

	noteWithLabel := noteRec("n1", keep.RootID, "t")
	noteWithLabel.LabelIDs = &wire.LabelRefs{Refs: []wire.LabelRef{
		{LabelID: "L1", Deleted: keep.FormatTime(keep.EpochZero)},
	}}
	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{
			ToVersion: "v1",
			UserInfo:  &wire.UserInfo{Labels: []wire.LabelRecord{labelRec("L1", "todo")}},
			Nodes:     []wire.NodeRecord{noteWithLabel},
		},
		{
			ToVersion: "v2",
			UserInfo:  &wire.UserInfo{Labels: []wire.LabelRecord{}},
		},
	}}
	e := New(fc, nil)
	ctx := context.Background()

	require.NoError(t, e.Sync(ctx, false))
	l := e.Label("L1")
	require.NotNil(t, l)
	require.Equal(t, "todo", l.Name())
	n := e.Get("n1").(*keep.Note)
	require.Equal(t, l, n.Labels().Get("L1"), "reference resolved through the registry")
	require.Equal(t, l, e.FindLabel("TODO"), "lookup is case-insensitive")

	// the inbound set is authoritative: an absent label is deleted and all
	// node references to it are pruned
	require.NoError(t, e.Sync(ctx, false))
	require.Nil(t, e.Label("L1"))
	require.Empty(t, n.Labels().IDs())
}

func TestEngine_Sync_SendsDirtyLabels(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{{ToVersion: "v1"}}}
	e := New(fc, nil)

	l, err := e.CreateLabel("urgent")
	require.NoError(t, err)

	require.NoError(t, e.Sync(context.Background(), false))

	require.NotNil(t, fc.reqs[0].UserInfo)
	require.Len(t, fc.reqs[0].UserInfo.Labels, 1)
	require.Equal(t, l.ID(), fc.reqs[0].UserInfo.Labels[0].MainID)
	require.False(t, l.Dirty())
}

func TestEngine_Sync_OutboundLabelRefsCarrySentinel(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{{ToVersion: "v1"}}}
	e := New(fc, nil)

	l, err := e.CreateLabel("todo")
	require.NoError(t, err)
	n, err := e.CreateNote("t", "x", "")
	require.NoError(t, err)
	n.Labels().Add(l)

	require.NoError(t, e.Sync(context.Background(), false))

	rec := fc.reqs[0].Nodes[0]
	require.NotNil(t, rec.LabelIDs)
	require.Len(t, rec.LabelIDs.Refs, 1)
	require.Equal(t, l.ID(), rec.LabelIDs.Refs[0].LabelID)
	require.Equal(t, keep.FormatTime(keep.EpochZero), rec.LabelIDs.Refs[0].Deleted)
	require.True(t, rec.LabelIDs.HasSentinel)
}

func TestEngine_CreateNote_DuplicateID(t *testing.T) {
	t.Parallel()

	e := New(&fakeChanger{t: t}, nil)
	_, err := e.CreateNote("a", "", "fixed")
	require.NoError(t, err)
	_, err = e.CreateNote("b", "", "fixed")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestEngine_CreateLabel_Validation(t *testing.T) {
	t.Parallel()

	e := New(&fakeChanger{t: t}, nil)
	_, err := e.CreateLabel("")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = e.CreateLabel("Home")
	require.NoError(t, err)
	_, err = e.CreateLabel("home")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestEngine_DumpRestore(t *testing.T) {
	t.Parallel()

	e := New(&fakeChanger{t: t}, nil)
	l, err := e.CreateLabel("trips")
	require.NoError(t, err)
	n, err := e.CreateNote("packing", "socks", "")
	require.NoError(t, err)
	n.Labels().Add(l)
	list, err := e.CreateList("chores")
	require.NoError(t, err)
	item := list.Add("sweep", false, keep.PlaceTop)

	blob, err := e.Dump()
	require.NoError(t, err)

	e2 := New(&fakeChanger{t: t}, nil)
	require.NoError(t, e2.Restore(blob))

	n2, ok := e2.Get(n.ID()).(*keep.Note)
	require.True(t, ok)
	require.Equal(t, "packing", n2.Title())
	require.Equal(t, "socks", n2.Text())

	l2 := e2.Label(l.ID())
	require.NotNil(t, l2)
	require.Equal(t, l2, n2.Labels().Get(l.ID()), "references resolve against the restored registry")

	list2, ok := e2.Get(list.ID()).(*keep.List)
	require.True(t, ok)
	items := list2.Items()
	require.Len(t, items, 1)
	require.Equal(t, item.ID(), items[0].ID())
	require.Equal(t, "", e2.Version())
}

func TestEngine_DumpRestore_KeepsUnsyncedEdits(t *testing.T) {
	t.Parallel()

	e := New(&fakeChanger{t: t}, nil)
	l, err := e.CreateLabel("pending")
	require.NoError(t, err)
	n, err := e.CreateNote("draft", "unsent", "")
	require.NoError(t, err)

	// snapshot taken before any sync, then restored into a fresh engine
	blob, err := e.Dump()
	require.NoError(t, err)

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{{ToVersion: "v1"}}}
	e2 := New(fc, nil)
	require.NoError(t, e2.Restore(blob))

	n2 := e2.Get(n.ID())
	require.NotNil(t, n2)
	require.True(t, n2.Dirty(), "unsynced note must restore dirty")
	require.True(t, e2.Label(l.ID()).Dirty(), "unsynced label must restore dirty")

	require.NoError(t, e2.Sync(context.Background(), false))
	require.Len(t, fc.reqs, 1)
	require.Len(t, fc.reqs[0].Nodes, 1)
	require.Equal(t, n.ID(), fc.reqs[0].Nodes[0].ID)
	require.NotNil(t, fc.reqs[0].UserInfo, "dirty label rides along")
	require.False(t, n2.Dirty())

	// once synced, a fresh snapshot round-trips clean
	blob, err = e2.Dump()
	require.NoError(t, err)
	e3 := New(&fakeChanger{t: t}, nil)
	require.NoError(t, e3.Restore(blob))
	require.False(t, e3.Get(n.ID()).Dirty())
	require.False(t, e3.Label(l.ID()).Dirty())
}

func TestEngine_Restore_MissingKeysFail(t *testing.T) {
	t.Parallel()

	e := New(&fakeChanger{t: t}, nil)
	for _, blob := range []string{
		`{}`,
		`{"labels":[],"nodes":[]}`,
		`{"keep_version":null,"nodes":[]}`,
		`{"keep_version":null,"labels":[]}`,
	} {
		err := e.Restore([]byte(blob))
		require.ErrorIs(t, err, errs.ErrInvalidArgument, "blob %s", blob)
	}
}

func TestEngine_Restore_EmptyEqualsClear(t *testing.T) {
	t.Parallel()

	e := New(&fakeChanger{t: t}, nil)
	_, err := e.CreateNote("t", "x", "")
	require.NoError(t, err)

	require.NoError(t, e.Restore([]byte(`{"keep_version":null,"labels":[],"nodes":[]}`)))
	require.Empty(t, e.Root().Children())
	require.Empty(t, e.Labels())
	require.Equal(t, "", e.Version())
}

func TestEngine_Resync_DiscardsLocalState(t *testing.T) {
	t.Parallel()

	fc := &fakeChanger{t: t, resps: []*wire.ChangesResponse{
		{ToVersion: "v1", Nodes: []wire.NodeRecord{noteRec("n1", keep.RootID, "old")}},
		{ToVersion: "v9", Nodes: []wire.NodeRecord{noteRec("n2", keep.RootID, "fresh")}},
	}}
	e := New(fc, nil)
	ctx := context.Background()

	require.NoError(t, e.Sync(ctx, false))
	require.NotNil(t, e.Get("n1"))

	require.NoError(t, e.Sync(ctx, true))
	require.Nil(t, e.Get("n1"), "resync discards everything local")
	require.NotNil(t, e.Get("n2"))
	require.Equal(t, "", fc.reqs[1].TargetVersion, "resync starts from scratch")
	require.Equal(t, "v9", e.Version())
}
