package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/data"
	"github.com/bluesky-social/jetstream/pkg/models"

	"github.com/primal-host/indexer/internal/ingest/model"
)

func TestCanonicalizeTrimsTrailingNULsOnly(t *testing.T) {
	in := "hello\x00\x00"
	got := canonicalize(in)
	if got != "hello" {
		t.Fatalf("canonicalize(%q) = %q, want %q", in, got, "hello")
	}

	// Embedded NULs are left alone; only trailing ones are trimmed.
	in2 := "he\x00llo"
	if got2 := canonicalize(in2); got2 != in2 {
		t.Fatalf("canonicalize(%q) = %q, want unchanged", in2, got2)
	}
}

func TestParseTimestampInvalidFailsTheRecordNotTheBatch(t *testing.T) {
	_, err := parseTimestamp("not-a-timestamp")
	if err == nil {
		t.Fatal("expected error for invalid timestamp")
	}
	var bad *BadRecord
	if !errors.As(err, &bad) {
		t.Fatalf("expected *BadRecord, got %T: %v", err, err)
	}
}

func TestDecodeArchiveRecordUnknownCollectionDropsNotErrors(t *testing.T) {
	d := NewDecoder()
	entity, err := d.DecodeArchiveRecord("app.unknown.thing", "at://did:plc:abc/app.unknown.thing/1", "did:plc:abc", []byte{0xa0})
	if err != nil {
		t.Fatalf("unknown collection should not error, got %v", err)
	}
	if entity != nil {
		t.Fatalf("unknown collection should decode to nil entity, got %v", entity)
	}
}

func TestDecodeArchiveRecordFollowRoundTrips(t *testing.T) {
	rec := bsky.GraphFollow{
		LexiconTypeID: "app.bsky.graph.follow",
		CreatedAt:     "2024-01-02T03:04:05.000Z",
		Subject:       "did:plc:target000000000000000000",
	}
	var buf bytes.Buffer
	if err := rec.MarshalCBOR(&buf); err != nil {
		t.Fatalf("marshal follow: %v", err)
	}

	d := NewDecoder()
	entity, err := d.DecodeArchiveRecord("app.bsky.graph.follow", "at://did:plc:author/app.bsky.graph.follow/abc", "did:plc:author", buf.Bytes())
	if err != nil {
		t.Fatalf("decode follow: %v", err)
	}
	f, ok := entity.(*model.Follow)
	if !ok {
		t.Fatalf("expected *model.Follow, got %T", entity)
	}
	if f.Subject != rec.Subject {
		t.Fatalf("subject = %q, want %q", f.Subject, rec.Subject)
	}
	if f.Author != "did:plc:author" {
		t.Fatalf("author = %q, want did:plc:author", f.Author)
	}
}

func TestDecodeArchiveRecordFollowMissingSubjectIsBadRecord(t *testing.T) {
	rec := bsky.GraphFollow{
		LexiconTypeID: "app.bsky.graph.follow",
		CreatedAt:     "2024-01-02T03:04:05.000Z",
		Subject:       "",
	}
	var buf bytes.Buffer
	if err := rec.MarshalCBOR(&buf); err != nil {
		t.Fatalf("marshal follow: %v", err)
	}

	d := NewDecoder()
	_, err := d.DecodeArchiveRecord("app.bsky.graph.follow", "at://did:plc:author/app.bsky.graph.follow/abc", "did:plc:author", buf.Bytes())
	var bad *BadRecord
	if !errors.As(err, &bad) {
		t.Fatalf("expected *BadRecord for missing subject, got %v", err)
	}
}

func TestLikeUnsupportedTargetCollectionIsBadRecord(t *testing.T) {
	// One record carries one subject URI, so it can never set two target
	// columns; the guard a decoded like can trip is a subject whose
	// collection doesn't map to any target column. The subject cid is
	// valid so the collection check, not the cid check, rejects it.
	d := NewDecoder()
	raw := map[string]any{
		"$type":     "app.bsky.feed.like",
		"createdAt": "2024-01-02T03:04:05.000Z",
		"subject": map[string]any{
			"uri": "at://did:plc:target/app.unsupported.collection/xyz",
			"cid": "bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku",
		},
	}
	b, _ := json.Marshal(raw)
	_, err := d.decodeJSONRecord("app.bsky.feed.like", "at://did:plc:author/app.bsky.feed.like/1", "did:plc:author", b)
	var bad *BadRecord
	if !errors.As(err, &bad) {
		t.Fatalf("expected *BadRecord for unsupported like target, got %v", err)
	}
}

func TestDecodeJSONRecordPostMissingTimestampIsBadRecord(t *testing.T) {
	d := NewDecoder()
	raw := []byte(`{"$type":"app.bsky.feed.post","text":"hi"}`)
	_, err := d.decodeJSONRecord("app.bsky.feed.post", "at://did:plc:author/app.bsky.feed.post/1", "did:plc:author", raw)
	var bad *BadRecord
	if !errors.As(err, &bad) {
		t.Fatalf("expected *BadRecord for missing createdAt, got %v", err)
	}
}

func TestDecodeJSONRecordPostExtraDataPreservesUnknownFields(t *testing.T) {
	d := NewDecoder()
	raw := []byte(`{"$type":"app.bsky.feed.post","text":"hi","createdAt":"2024-01-02T03:04:05.000Z","someNewField":"value"}`)
	entity, err := d.decodeJSONRecord("app.bsky.feed.post", "at://did:plc:author/app.bsky.feed.post/1", "did:plc:author", raw)
	if err != nil {
		t.Fatalf("decode post: %v", err)
	}
	p, ok := entity.(*model.Post)
	if !ok {
		t.Fatalf("expected *model.Post, got %T", entity)
	}
	if p.Extra == nil {
		t.Fatal("expected extra data to capture someNewField")
	}
	var extra map[string]any
	if err := json.Unmarshal(p.Extra, &extra); err != nil {
		t.Fatalf("unmarshal extra: %v", err)
	}
	if extra["someNewField"] != "value" {
		t.Fatalf("extra = %v, missing someNewField", extra)
	}
	if _, ok := extra["text"]; ok {
		t.Fatal("known field 'text' leaked into extra data")
	}
}

func TestDecodeFirehoseNilEventIsMalformedFrame(t *testing.T) {
	d := NewDecoder()
	_, err := d.DecodeFirehose(nil)
	if err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeFirehoseIdentityEvent(t *testing.T) {
	d := NewDecoder()
	handle := "alice.bsky.social\x00"
	evt := &models.Event{
		Did:    "did:plc:abc",
		TimeUS: 1234,
		Kind:   "identity",
		Identity: &comatproto.SyncSubscribeRepos_Identity{
			Did:    "did:plc:abc",
			Handle: &handle,
			Seq:    7,
		},
	}
	out, err := d.DecodeFirehose(evt)
	if err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	if out.Kind != KindIdentity {
		t.Fatalf("kind = %v, want KindIdentity", out.Kind)
	}
	if out.Handle != "alice.bsky.social" {
		t.Fatalf("handle = %q, want trimmed NUL", out.Handle)
	}
}

func TestDecodeFirehoseUnknownKindIsMalformedFrame(t *testing.T) {
	d := NewDecoder()
	evt := &models.Event{Did: "did:plc:abc", TimeUS: 1, Kind: "nonsense"}
	_, err := d.DecodeFirehose(evt)
	if err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame for unknown kind, got %v", err)
	}
}

func TestDecodeFirehoseCommitDeleteSkipsRecordDecode(t *testing.T) {
	d := NewDecoder()
	evt := &models.Event{
		Did:    "did:plc:abc",
		TimeUS: 100,
		Kind:   "commit",
		Commit: &models.Commit{
			Operation:  "delete",
			Collection: "app.bsky.feed.post",
			RKey:       "abc123",
		},
	}
	out, err := d.DecodeFirehose(evt)
	if err != nil {
		t.Fatalf("decode delete commit: %v", err)
	}
	if out.Operation != OpDelete {
		t.Fatalf("operation = %v, want OpDelete", out.Operation)
	}
	if out.Entity != nil {
		t.Fatalf("delete commit should carry no entity, got %v", out.Entity)
	}
	wantURI := "at://did:plc:abc/app.bsky.feed.post/abc123"
	if out.URI != wantURI {
		t.Fatalf("uri = %q, want %q", out.URI, wantURI)
	}
}

func TestDecodeJSONRecordProfileExtraDataPreservesUnknownFields(t *testing.T) {
	d := NewDecoder()
	raw := []byte(`{
		"$type": "app.bsky.actor.profile",
		"displayName": "Alice",
		"someNewField": "value"
	}`)
	entity, err := d.decodeJSONRecord("app.bsky.actor.profile", "at://did:plc:abc/app.bsky.actor.profile/self", "did:plc:abc", raw)
	if err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	p := entity.(*model.Principal)
	if p.Extra == nil {
		t.Fatal("expected extra data to capture someNewField")
	}
	var extra map[string]any
	if err := json.Unmarshal(p.Extra, &extra); err != nil {
		t.Fatalf("unmarshal extra: %v", err)
	}
	if extra["someNewField"] != "value" {
		t.Fatalf("extra = %v, missing someNewField", extra)
	}
	if _, ok := extra["displayName"]; ok {
		t.Fatal("known field 'displayName' leaked into extra data")
	}
}

func TestDecodeArchiveRecordPostExtraDataMatchesFirehose(t *testing.T) {
	d := NewDecoder()
	rec := map[string]any{
		"$type":        "app.bsky.feed.post",
		"text":         "hi",
		"createdAt":    "2024-01-02T03:04:05.000Z",
		"via":          "flashes",
		"someNewField": "value",
	}
	cborBytes, err := data.MarshalCBOR(rec)
	if err != nil {
		t.Fatalf("marshal cbor: %v", err)
	}

	entity, err := d.DecodeArchiveRecord("app.bsky.feed.post", "at://did:plc:abc/app.bsky.feed.post/1", "did:plc:abc", cborBytes)
	if err != nil {
		t.Fatalf("decode post: %v", err)
	}
	p := entity.(*model.Post)
	if p.Via == nil || *p.Via != "flashes" {
		t.Fatalf("via = %v, want flashes from the archive path too", p.Via)
	}
	if p.Extra == nil {
		t.Fatal("expected extra data from the cbor path")
	}
	var extra map[string]any
	if err := json.Unmarshal(p.Extra, &extra); err != nil {
		t.Fatalf("unmarshal extra: %v", err)
	}
	if extra["someNewField"] != "value" {
		t.Fatalf("extra = %v, missing someNewField", extra)
	}
	if _, ok := extra["via"]; ok {
		t.Fatal("known field 'via' leaked into extra data")
	}
}

func TestDecodeJSONRecordPostCollectsImageBlobs(t *testing.T) {
	d := NewDecoder()
	raw := []byte(`{
		"$type": "app.bsky.feed.post",
		"text": "look at this",
		"createdAt": "2024-01-02T03:04:05.000Z",
		"embed": {
			"$type": "app.bsky.embed.images",
			"images": [{
				"alt": "a cat",
				"image": {
					"$type": "blob",
					"ref": {"$link": "bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku"},
					"mimeType": "image/jpeg",
					"size": 12345
				}
			}]
		}
	}`)
	entity, err := d.decodeJSONRecord("app.bsky.feed.post", "at://did:plc:author/app.bsky.feed.post/1", "did:plc:author", raw)
	if err != nil {
		t.Fatalf("decode post: %v", err)
	}
	p := entity.(*model.Post)
	if len(p.Images) != 1 {
		t.Fatalf("images = %d, want 1", len(p.Images))
	}
	if p.Images[0].Alt != "a cat" {
		t.Fatalf("alt = %q", p.Images[0].Alt)
	}
	if p.Images[0].Aspect != nil {
		t.Fatal("image without aspect ratio must leave both dimensions null")
	}
	if len(p.Blobs) != 1 {
		t.Fatalf("blobs = %d, want 1 reference collected for upsert", len(p.Blobs))
	}
	b := p.Blobs[0]
	if b.MimeType != "image/jpeg" || b.Size != 12345 {
		t.Fatalf("blob = %+v, want mime/size carried through", b)
	}
	if b.ID == "" || b.ContentID == "" {
		t.Fatalf("blob = %+v, want id and content id populated", b)
	}
	if p.Images[0].BlobID != b.ID {
		t.Fatalf("image blob id %q != collected blob id %q", p.Images[0].BlobID, b.ID)
	}
}

func TestDecodeJSONRecordPostViaAndOriginalURL(t *testing.T) {
	d := NewDecoder()
	raw := []byte(`{
		"$type": "app.bsky.feed.post",
		"text": "bridged",
		"createdAt": "2024-01-02T03:04:05.000Z",
		"via": "flashes",
		"bridgyOriginalUrl": "https://example.com/post/1"
	}`)
	entity, err := d.decodeJSONRecord("app.bsky.feed.post", "at://did:plc:author/app.bsky.feed.post/1", "did:plc:author", raw)
	if err != nil {
		t.Fatalf("decode post: %v", err)
	}
	p := entity.(*model.Post)
	if p.Via == nil || *p.Via != "flashes" {
		t.Fatalf("via = %v, want flashes", p.Via)
	}
	if p.URL == nil || *p.URL != "https://example.com/post/1" {
		t.Fatalf("url = %v, want original url", p.URL)
	}
	if p.Extra != nil {
		var extra map[string]any
		_ = json.Unmarshal(p.Extra, &extra)
		if _, ok := extra["via"]; ok {
			t.Fatal("via leaked into extra data")
		}
	}
}

func TestCIDCacheReusesDecodedValue(t *testing.T) {
	d := NewDecoder()
	s := "bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku"
	c1, err := d.decodeContentID(s)
	if err != nil {
		t.Skipf("test cid not parseable in this environment: %v", err)
	}
	c2, err := d.decodeContentID(s)
	if err != nil {
		t.Fatalf("second decode: %v", err)
	}
	if !c1.Equals(c2) {
		t.Fatalf("cached cid mismatch: %v != %v", c1, c2)
	}
}
