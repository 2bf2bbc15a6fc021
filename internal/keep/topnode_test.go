package keep

import (
	"testing"

	"github.com/majkowska/kindler/internal/wire"
)

func TestNodeLabels_AddRemoveLifecycle(t *testing.T) {
	t.Parallel()

	note := NewNote()
	l := NewLabel("todo")

	note.Labels().Add(l)
	if !note.Labels().Dirty() {
		t.Fatalf("adding a reference must dirty the set")
	}
	if got := note.Labels().IDs(); len(got) != 1 || got[0] != l.ID() {
		t.Fatalf("live ids: %v", got)
	}
	if note.Labels().Get(l.ID()) != l {
		t.Fatalf("Get should resolve the live reference")
	}

	note.Labels().Remove(l.ID())
	if note.Labels().Get(l.ID()) != nil {
		t.Fatalf("removed reference must not resolve")
	}
	if got := note.Labels().IDs(); len(got) != 0 {
		t.Fatalf("removed reference still listed: %v", got)
	}

	// pending removal stays in the outbound record with its instant
	rec := note.Labels().Save(false)
	if len(rec.Refs) != 1 || rec.Refs[0].Deleted == FormatTime(EpochZero) {
		t.Fatalf("pending removal should carry a removal instant: %+v", rec.Refs)
	}
	if !rec.HasSentinel || !rec.Dirty {
		t.Fatalf("dump save must carry the dirty sentinel")
	}

	// a clean save emits the removal one last time, omits the sentinel, and
	// prunes afterwards
	rec = note.Labels().Save(true)
	if len(rec.Refs) != 1 || rec.HasSentinel {
		t.Fatalf("clean save should emit the removal without the sentinel: %+v", rec)
	}
	if note.Labels().Dirty() {
		t.Fatalf("clean save must reset the dirty flag")
	}
	rec = note.Labels().Save(true)
	if len(rec.Refs) != 0 {
		t.Fatalf("pruned removal must not reappear: %+v", rec.Refs)
	}
}

func TestNodeLabels_LoadRestoresDirtyFromSentinel(t *testing.T) {
	t.Parallel()

	src := NewNote()
	l := NewLabel("todo")
	src.Labels().Add(l)
	rec := src.Labels().Save(false)

	dst := NewNote()
	if err := dst.Labels().Load(rec, func(id string) *Label {
		if id == l.ID() {
			return l
		}
		return nil
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !dst.Labels().Dirty() {
		t.Fatalf("sentinel should restore the dirty flag")
	}
	if dst.Labels().Get(l.ID()) != l {
		t.Fatalf("lookup should resolve the reference")
	}
}

func TestNodeLabels_DanglingReferenceSkipped(t *testing.T) {
	t.Parallel()

	note := NewNote()
	l := NewLabel("gone")
	note.Labels().Add(l)
	note.ResolveLabels(func(string) *Label { return nil })

	if got := note.Labels().All(); len(got) != 0 {
		t.Fatalf("dangling references must not resolve: %v", got)
	}
	if got := note.Labels().IDs(); len(got) != 1 {
		t.Fatalf("the id itself stays referenced: %v", got)
	}
}

func TestNodeCollaborators_AddRemove(t *testing.T) {
	t.Parallel()

	note := NewNote()
	c := note.Collaborators()

	c.Add("a@example.com")
	if got := c.All(); len(got) != 1 || got[0] != "a@example.com" {
		t.Fatalf("pending add should list: %v", got)
	}

	// removing a never-confirmed collaborator forgets the entry
	c.Remove("a@example.com")
	if got := c.All(); len(got) != 0 {
		t.Fatalf("pending add should be forgotten: %v", got)
	}

	collabs, reqs := c.Save(false)
	if len(collabs) != 0 {
		t.Fatalf("no confirmed collaborators expected: %v", collabs)
	}
	if reqs == nil || !reqs.HasSentinel {
		t.Fatalf("dump save must keep the sentinel")
	}
}

func TestNodeCollaborators_RemoveConfirmed(t *testing.T) {
	t.Parallel()

	note := NewNote()
	rec, err := note.Save(false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec.Collaborators = []wire.CollaboratorRecord{{Email: "o@example.com", Role: "O"}}
	if err := note.Load(rec); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if note.Collaborators().Role("o@example.com") != RoleOwner {
		t.Fatalf("confirmed role lost")
	}

	note.Collaborators().Remove("o@example.com")
	if got := note.Collaborators().All(); len(got) != 0 {
		t.Fatalf("pending removal should hide the collaborator: %v", got)
	}
	out, reqs := note.Collaborators().Save(false)
	if len(out) != 1 {
		t.Fatalf("confirmed role must stay until the server drops it: %v", out)
	}
	if reqs == nil || len(reqs.Requests) != 1 || reqs.Requests[0].Type != string(ShareRemove) {
		t.Fatalf("removal request missing: %+v", reqs)
	}
}

func TestTopNode_DirtyUnionsLabelSet(t *testing.T) {
	t.Parallel()

	note := NewNote()
	l := NewLabel("x")
	l.ClearDirty()
	note.Labels().Add(l)
	if !note.Dirty() {
		t.Fatalf("label set change must surface through the node")
	}
	note.ClearDirty()
	if note.Dirty() {
		t.Fatalf("ClearDirty must cover the label set")
	}
}
