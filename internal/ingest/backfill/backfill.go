// Package backfill drives the historical catch-up path: it periodically
// finds principals that are due for a full repository re-index, fetches
// their archive, decodes every record in it, and writes the results,
// advancing a per-principal bookmark on success.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/primal-host/indexer/internal/ingest/archive"
	"github.com/primal-host/indexer/internal/ingest/decode"
	"github.com/primal-host/indexer/internal/ingest/fetch"
	"github.com/primal-host/indexer/internal/ingest/model"
)

const (
	pollInterval    = 60 * time.Second
	defaultPoolSize = 32
	maxJobRetries   = 3
	retryBase       = 2 * time.Second
)

// Writer is the subset of the storage writer backfill needs.
type Writer interface {
	TouchPrincipal(ctx context.Context, id string, seenAt time.Time) error
	UpsertPrincipal(ctx context.Context, p *model.Principal) error
	UpsertPost(ctx context.Context, p *model.Post) error
	UpsertBlob(ctx context.Context, b *model.Blob) error
	UpsertFeed(ctx context.Context, f *model.Feed) error
	UpsertList(ctx context.Context, l *model.List) error
	UpsertStarterPack(ctx context.Context, sp *model.StarterPack) error
	UpsertLabeler(ctx context.Context, lb *model.Labeler) error
	UpsertFollow(ctx context.Context, f *model.Follow) error
	UpsertBlock(ctx context.Context, b *model.Block) error
	UpsertLike(ctx context.Context, l *model.Like) error
	UpsertListItem(ctx context.Context, li *model.ListItem) error
	UpsertListBlock(ctx context.Context, lb *model.ListBlock) error
	UpsertRepost(ctx context.Context, r *model.Repost) error
	UpsertBackfillBookmark(ctx context.Context, b *model.BackfillBookmark) error
	DuePrincipals(ctx context.Context, limit int) ([]string, error)
	WriteBlobBatch(ctx context.Context, blobs []model.Blob) error
}

// Scheduler runs a bounded pool of backfill workers.
type Scheduler struct {
	w       Writer
	fetcher *fetch.Fetcher
	dec     *decode.Decoder

	poolSize int

	mu       sync.Mutex
	inFlight map[string]struct{}

	jobsGauge prometheus.Gauge
}

// UseMetrics attaches a gauge tracking jobs currently in flight; call
// before Run. Without it, the scheduler still dedups via inFlight alone.
func (s *Scheduler) UseMetrics(jobsInFlight prometheus.Gauge) {
	s.jobsGauge = jobsInFlight
}

// New builds a Scheduler. poolSize <= 0 uses min(defaultPoolSize, CPU*4).
func New(w Writer, fetcher *fetch.Fetcher, poolSize int) *Scheduler {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU() * 4
		if poolSize > defaultPoolSize {
			poolSize = defaultPoolSize
		}
		if poolSize < 1 {
			poolSize = 1
		}
	}
	return &Scheduler{
		w:        w,
		fetcher:  fetcher,
		dec:      decode.NewDecoder(),
		poolSize: poolSize,
		inFlight: make(map[string]struct{}),
	}
}

// Run polls for due principals and dispatches them to a bounded worker
// pool until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(s.poolSize))
	var wg sync.WaitGroup

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	s.pollOnce(ctx, sem, &wg)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			s.pollOnce(ctx, sem, &wg)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup) {
	dids, err := s.w.DuePrincipals(ctx, s.poolSize*4)
	if err != nil {
		log.Printf("backfill: list due principals: %v", err)
		return
	}

	for _, did := range dids {
		if ctx.Err() != nil {
			return
		}
		if !s.claim(did) {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			s.release(did)
			return
		}

		wg.Add(1)
		go func(did string) {
			defer wg.Done()
			defer sem.Release(1)
			defer s.release(did)
			s.runJob(ctx, did)
		}(did)
	}
}

func (s *Scheduler) claim(did string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[did]; ok {
		return false
	}
	s.inFlight[did] = struct{}{}
	if s.jobsGauge != nil {
		s.jobsGauge.Set(float64(len(s.inFlight)))
	}
	return true
}

func (s *Scheduler) release(did string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, did)
	if s.jobsGauge != nil {
		s.jobsGauge.Set(float64(len(s.inFlight)))
	}
}

func (s *Scheduler) runJob(ctx context.Context, did string) {
	start := time.Now()

	var lastErr error
	delay := retryBase
	for attempt := 0; attempt < maxJobRetries; attempt++ {
		if err := s.job(ctx, did, start); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}
		return
	}
	log.Printf("backfill: %s: giving up after %d attempts: %v", did, maxJobRetries, lastErr)
}

func (s *Scheduler) job(ctx context.Context, did string, start time.Time) error {
	jobCtx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	body, err := s.fetcher.FetchArchive(jobCtx, did)
	if err != nil {
		return fmt.Errorf("backfill: %s: fetch: %w", did, err)
	}
	defer body.Close()

	records, err := archive.Read(jobCtx, body)
	if err != nil {
		return fmt.Errorf("backfill: %s: read archive: %w", did, err)
	}

	if err := s.w.TouchPrincipal(ctx, did, start); err != nil {
		return fmt.Errorf("backfill: %s: touch principal: %w", did, err)
	}

	var dropped int
	var blobs []model.Blob
	for i, rec := range records {
		if i%1000 == 0 && jobCtx.Err() != nil {
			return jobCtx.Err()
		}

		// Record URIs must match the form the firehose produces so live
		// and historical writes land on the same primary keys.
		uri := fmt.Sprintf("at://%s/%s", did, rec.Path)
		entity, err := s.dec.DecodeArchiveRecord(rec.Collection, uri, did, rec.Bytes)
		if err != nil {
			var bad *decode.BadRecord
			if errors.As(err, &bad) {
				dropped++
				continue
			}
			return fmt.Errorf("backfill: %s: decode %s: %w", did, rec.Path, err)
		}
		if entity == nil {
			continue
		}
		if p, ok := entity.(*model.Principal); ok {
			p.SeenAt = start
		}
		blobs = append(blobs, model.ReferencedBlobs(entity)...)

		if err := s.write(ctx, entity); err != nil {
			return fmt.Errorf("backfill: %s: write %s: %w", did, rec.Path, err)
		}
	}
	if dropped > 0 {
		log.Printf("backfill: %s: dropped %d malformed records", did, dropped)
	}

	if len(blobs) > 0 {
		if err := s.w.WriteBlobBatch(ctx, blobs); err != nil {
			return fmt.Errorf("backfill: %s: write blobs: %w", did, err)
		}
	}

	if err := s.w.UpsertBackfillBookmark(ctx, &model.BackfillBookmark{DID: did, At: &start}); err != nil {
		return fmt.Errorf("backfill: %s: update bookmark: %w", did, err)
	}
	return nil
}

func (s *Scheduler) write(ctx context.Context, entity any) error {
	switch v := entity.(type) {
	case *model.Principal:
		return s.w.UpsertPrincipal(ctx, v)
	case *model.Post:
		return s.w.UpsertPost(ctx, v)
	case *model.Feed:
		return s.w.UpsertFeed(ctx, v)
	case *model.List:
		return s.w.UpsertList(ctx, v)
	case *model.StarterPack:
		return s.w.UpsertStarterPack(ctx, v)
	case *model.Labeler:
		return s.w.UpsertLabeler(ctx, v)
	case *model.Follow:
		return s.w.UpsertFollow(ctx, v)
	case *model.Block:
		return s.w.UpsertBlock(ctx, v)
	case *model.Like:
		return s.w.UpsertLike(ctx, v)
	case *model.ListItem:
		return s.w.UpsertListItem(ctx, v)
	case *model.ListBlock:
		return s.w.UpsertListBlock(ctx, v)
	case *model.Repost:
		return s.w.UpsertRepost(ctx, v)
	default:
		return nil
	}
}
