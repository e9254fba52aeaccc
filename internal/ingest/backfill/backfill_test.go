package backfill

import (
	"context"
	"testing"
	"time"

	"github.com/primal-host/indexer/internal/ingest/model"
)

type fakeWriter struct {
	bookmarks map[string]time.Time
	due       []string
}

func (f *fakeWriter) TouchPrincipal(ctx context.Context, id string, seenAt time.Time) error {
	return nil
}
func (f *fakeWriter) UpsertPrincipal(ctx context.Context, p *model.Principal) error     { return nil }
func (f *fakeWriter) UpsertPost(ctx context.Context, p *model.Post) error               { return nil }
func (f *fakeWriter) UpsertBlob(ctx context.Context, b *model.Blob) error               { return nil }
func (f *fakeWriter) UpsertFeed(ctx context.Context, ff *model.Feed) error              { return nil }
func (f *fakeWriter) UpsertList(ctx context.Context, l *model.List) error               { return nil }
func (f *fakeWriter) UpsertStarterPack(ctx context.Context, sp *model.StarterPack) error { return nil }
func (f *fakeWriter) UpsertLabeler(ctx context.Context, lb *model.Labeler) error        { return nil }
func (f *fakeWriter) UpsertFollow(ctx context.Context, fw *model.Follow) error          { return nil }
func (f *fakeWriter) UpsertBlock(ctx context.Context, b *model.Block) error             { return nil }
func (f *fakeWriter) UpsertLike(ctx context.Context, l *model.Like) error               { return nil }
func (f *fakeWriter) UpsertListItem(ctx context.Context, li *model.ListItem) error      { return nil }
func (f *fakeWriter) UpsertListBlock(ctx context.Context, lb *model.ListBlock) error    { return nil }
func (f *fakeWriter) UpsertRepost(ctx context.Context, r *model.Repost) error           { return nil }
func (f *fakeWriter) UpsertBackfillBookmark(ctx context.Context, b *model.BackfillBookmark) error {
	if f.bookmarks == nil {
		f.bookmarks = make(map[string]time.Time)
	}
	if b.At != nil {
		f.bookmarks[b.DID] = *b.At
	}
	return nil
}
func (f *fakeWriter) WriteBlobBatch(ctx context.Context, blobs []model.Blob) error { return nil }
func (f *fakeWriter) DuePrincipals(ctx context.Context, limit int) ([]string, error) {
	if limit < len(f.due) {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func newScheduler() *Scheduler {
	return &Scheduler{
		w:        &fakeWriter{},
		poolSize: defaultPoolSize,
		inFlight: make(map[string]struct{}),
	}
}

func TestClaimPreventsDoubleDispatch(t *testing.T) {
	s := newScheduler()

	if !s.claim("did:plc:a") {
		t.Fatal("first claim should succeed")
	}
	if s.claim("did:plc:a") {
		t.Fatal("a repository already in flight must not be claimed twice")
	}

	s.release("did:plc:a")
	if !s.claim("did:plc:a") {
		t.Fatal("claim should succeed again after release")
	}
}

func TestClaimIsIndependentPerRepository(t *testing.T) {
	s := newScheduler()
	if !s.claim("did:plc:a") {
		t.Fatal("claim a failed")
	}
	if !s.claim("did:plc:b") {
		t.Fatal("claim b should succeed independently of a")
	}
}

func TestNewDefaultsPoolSizeWithinBounds(t *testing.T) {
	s := New(&fakeWriter{}, nil, 0)
	if s.poolSize < 1 || s.poolSize > defaultPoolSize {
		t.Fatalf("poolSize = %d, want between 1 and %d", s.poolSize, defaultPoolSize)
	}
}

func TestNewHonorsExplicitPoolSize(t *testing.T) {
	s := New(&fakeWriter{}, nil, 7)
	if s.poolSize != 7 {
		t.Fatalf("poolSize = %d, want 7", s.poolSize)
	}
}
