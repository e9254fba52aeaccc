package archive

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

func TestSplitPathSeparatesCollectionAndRKey(t *testing.T) {
	col, rkey := splitPath("app.bsky.feed.post/3jzfcijpj2z2a")
	if col != "app.bsky.feed.post" || rkey != "3jzfcijpj2z2a" {
		t.Fatalf("splitPath = (%q, %q)", col, rkey)
	}
}

func TestSplitPathNoSeparatorReturnsWholePathAsRKey(t *testing.T) {
	col, rkey := splitPath("norecords")
	if col != "" || rkey != "norecords" {
		t.Fatalf("splitPath = (%q, %q), want (\"\", \"norecords\")", col, rkey)
	}
}

func TestVerifyHashAcceptsMatchingContent(t *testing.T) {
	data := []byte("hello world")
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	c := cid.NewCidV1(cid.DagCBOR, mh)

	if !verifyHash(c, data) {
		t.Fatal("expected verifyHash to accept data matching its own cid")
	}
}

func TestVerifyHashRejectsTamperedContent(t *testing.T) {
	data := []byte("hello world")
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	c := cid.NewCidV1(cid.DagCBOR, mh)

	if verifyHash(c, []byte("tampered content")) {
		t.Fatal("expected verifyHash to reject content that doesn't hash to the cid")
	}
}
