package wire

import (
	"encoding/json"
	"testing"
)

func TestSortValue_UnmarshalBothForms(t *testing.T) {
	t.Parallel()

	var s SortValue
	if err := json.Unmarshal([]byte(`"123456"`), &s); err != nil {
		t.Fatalf("string form: %v", err)
	}
	if s != 123456 {
		t.Fatalf("string form: want 123456, got %d", s)
	}

	if err := json.Unmarshal([]byte(`-42`), &s); err != nil {
		t.Fatalf("numeric form: %v", err)
	}
	if s != -42 {
		t.Fatalf("numeric form: want -42, got %d", s)
	}

	if err := json.Unmarshal([]byte(`"abc"`), &s); err == nil {
		t.Fatalf("want error on non-numeric string")
	}
}

func TestSortValue_MarshalAsString(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(SortValue(9000))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"9000"` {
		t.Fatalf("want %q, got %s", `"9000"`, b)
	}
}

func TestLabelRefs_SentinelRoundTrip(t *testing.T) {
	t.Parallel()

	in := `[{"labelId":"tag.abc.1","deleted":"1970-01-01T00:00:00.000000Z"},true]`
	var refs LabelRefs
	if err := json.Unmarshal([]byte(in), &refs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(refs.Refs) != 1 || refs.Refs[0].LabelID != "tag.abc.1" {
		t.Fatalf("unexpected refs: %+v", refs.Refs)
	}
	if !refs.HasSentinel || !refs.Dirty {
		t.Fatalf("sentinel not captured: %+v", refs)
	}

	out, err := json.Marshal(refs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Fatalf("round trip mismatch:\n in=%s\nout=%s", in, out)
	}
}

func TestLabelRefs_NoSentinel(t *testing.T) {
	t.Parallel()

	in := `[{"labelId":"l1","deleted":"1970-01-01T00:00:00.000000Z"}]`
	var refs LabelRefs
	if err := json.Unmarshal([]byte(in), &refs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if refs.HasSentinel {
		t.Fatalf("sentinel should be absent")
	}
	out, err := json.Marshal(refs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Fatalf("round trip mismatch:\n in=%s\nout=%s", in, out)
	}
}

func TestLabelRefs_SentinelMustTrail(t *testing.T) {
	t.Parallel()

	var refs LabelRefs
	err := json.Unmarshal([]byte(`[false,{"labelId":"l1","deleted":""}]`), &refs)
	if err == nil {
		t.Fatalf("want error for non-trailing sentinel")
	}
}

func TestShareRequests_SentinelRoundTrip(t *testing.T) {
	t.Parallel()

	in := `[{"email":"a@b.c","type":"WR"},false]`
	var reqs ShareRequests
	if err := json.Unmarshal([]byte(in), &reqs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(reqs.Requests) != 1 || reqs.Requests[0].Type != "WR" {
		t.Fatalf("unexpected requests: %+v", reqs.Requests)
	}
	if !reqs.HasSentinel || reqs.Dirty {
		t.Fatalf("sentinel not captured: %+v", reqs)
	}
	out, err := json.Marshal(reqs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Fatalf("round trip mismatch:\n in=%s\nout=%s", in, out)
	}
}

func TestAnnotationRecord_UnknownVariantPreserved(t *testing.T) {
	t.Parallel()

	in := `{"id":"a1","futureThing":{"x":1}}`
	var rec AnnotationRecord
	if err := json.Unmarshal([]byte(in), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Known() {
		t.Fatalf("record should not be recognized")
	}
	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Fatalf("unknown record not preserved verbatim:\n in=%s\nout=%s", in, out)
	}
}

func TestAnnotationRecord_KnownVariant(t *testing.T) {
	t.Parallel()

	in := `{"id":"a2","webLink":{"title":"t","url":"https://x"}}`
	var rec AnnotationRecord
	if err := json.Unmarshal([]byte(in), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !rec.Known() || rec.WebLink == nil || rec.WebLink.URL != "https://x" {
		t.Fatalf("webLink not decoded: %+v", rec)
	}
	if rec.Raw != nil {
		t.Fatalf("known variant should not keep raw bytes")
	}
}
