package coretypes

import (
	"crypto/sha256"
	"testing"
)

func sampleBonsai() *BonsaiChangeset {
	return &BonsaiChangeset{
		Parents:              []CsId{{0x01}, {0x02}},
		Author:               "alice",
		AuthorDateUnixMillis: 1700000000000,
		Committer:            "bob",
		Message:              "do the thing",
		FileChanges: map[string]FileChange{
			"b/file.go": {Kind: FileModify, ContentId: "cid2", Mode: 0o644},
			"a/file.go": {Kind: FileAdd, ContentId: "cid1", Mode: 0o644},
			"c/old.go":  {Kind: FileDelete},
		},
	}
}

func TestBonsaiEncodeIsDeterministic(t *testing.T) {
	bc := sampleBonsai()
	a, err := bc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := bc.Encode()
	if err != nil {
		t.Fatalf("Encode (second call): %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("Encode is not deterministic across repeated calls")
	}
}

func TestBonsaiEncodeOrderIndependentOfMapIteration(t *testing.T) {
	// FileChanges is a Go map; Go deliberately randomises map iteration
	// order, so encoding many times must still agree on the encoded bytes.
	bc := sampleBonsai()
	first, err := bc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 20; i++ {
		next, err := bc.Encode()
		if err != nil {
			t.Fatalf("Encode (iteration %d): %v", i, err)
		}
		if string(first) != string(next) {
			t.Fatalf("Encode varied across iteration %d despite identical input", i)
		}
	}
}

func TestBonsaiCsIdMatchesDigestOfEncode(t *testing.T) {
	bc := sampleBonsai()
	cs, err := bc.CsId()
	if err != nil {
		t.Fatalf("CsId: %v", err)
	}
	enc, err := bc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	bc2 := sampleBonsai()
	cs2, err := bc2.CsId()
	if err != nil {
		t.Fatalf("CsId (second changeset): %v", err)
	}
	if cs != cs2 {
		t.Fatalf("two identical bonsai changesets produced different CsIds")
	}
	if CsId(sha256.Sum256(enc)) != cs {
		t.Fatalf("CsId %s is not the SHA-256 digest of Encode()", cs)
	}
	if len(enc) == 0 {
		t.Fatalf("expected non-empty canonical encoding")
	}
}

func TestBonsaiCsIdChangesWithContent(t *testing.T) {
	a := sampleBonsai()
	b := sampleBonsai()
	b.Message = "a different message"

	csA, err := a.CsId()
	if err != nil {
		t.Fatalf("CsId: %v", err)
	}
	csB, err := b.CsId()
	if err != nil {
		t.Fatalf("CsId: %v", err)
	}
	if csA == csB {
		t.Fatalf("changing the message should change the changeset id")
	}
}

func TestFileChangeKindString(t *testing.T) {
	cases := map[FileChangeKind]string{
		FileAdd:    "add",
		FileModify: "modify",
		FileDelete: "delete",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("%v.String() = %q, want %q", k, got, want)
		}
	}
}
