// Package store writes decoded entities into the target relational
// store. Every write is an upsert keyed on the entity's URI/DID;
// principal writes never rewind seen_at, and every other entity is
// latest-write-wins. Child row sets (a post's images, langs, tags,
// links, mentions, labels) are rewritten with a delete-then-reinsert
// inside the same transaction as their parent row.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/primal-host/indexer/internal/ingest/model"
)

const (
	maxRetries   = 3
	retryBase    = 50 * time.Millisecond
	maxBatchRows = 1000
)

// Store writes ingest entities against a connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// withRetry retries fn up to maxRetries times on transient pg errors
// (connection failures and serialization/deadlock codes), with jittered
// backoff. Non-transient errors return immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	delay := retryBase
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay/2 + time.Duration(rand.Int63n(int64(delay)))):
		}
		delay *= 2
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "08000", "08003", "08006":
			return true
		}
	}
	return errors.Is(err, pgx.ErrTxClosed)
}

// UpsertPrincipal inserts or updates a principal. seen_at only advances:
// an incoming SeenAt older than the stored value leaves the stored
// seen_at (and every other principal field) untouched.
func (s *Store) UpsertPrincipal(ctx context.Context, p *model.Principal) error {
	return withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("store: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx, `
			INSERT INTO did (id, display_name, description, avatar_blob, banner_blob,
			                  handle, joined_via, pinned_post, created_at, seen_at, extra_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				description  = EXCLUDED.description,
				avatar_blob  = EXCLUDED.avatar_blob,
				banner_blob  = EXCLUDED.banner_blob,
				handle       = EXCLUDED.handle,
				joined_via   = EXCLUDED.joined_via,
				pinned_post  = EXCLUDED.pinned_post,
				seen_at      = EXCLUDED.seen_at,
				extra_data   = EXCLUDED.extra_data
			WHERE did.seen_at <= EXCLUDED.seen_at`,
			p.ID, p.DisplayName, p.Description, p.AvatarBlob, p.BannerBlob,
			p.Handle, p.JoinedVia, p.PinnedPost, p.CreatedAt, p.SeenAt, nullRaw(p.Extra))
		if err != nil {
			return fmt.Errorf("store: upsert principal: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// The stored row is newer; its labels stay as they are.
			return tx.Commit(ctx)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM did_label WHERE did = $1`, p.ID); err != nil {
			return fmt.Errorf("store: clear principal labels: %w", err)
		}
		for _, l := range p.Labels {
			if _, err := tx.Exec(ctx, `INSERT INTO did_label (did, label) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, p.ID, l); err != nil {
				return fmt.Errorf("store: insert principal label: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
}

// TouchPrincipal records that id was observed at seenAt: it creates the
// principal row on first mention with no descriptive fields set, or, if
// the row already exists, advances seen_at only if seenAt is newer. It
// never overwrites descriptive fields written by a profile upsert.
func (s *Store) TouchPrincipal(ctx context.Context, id string, seenAt time.Time) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO did (id, created_at, seen_at) VALUES ($1, $2, $2)
			ON CONFLICT (id) DO UPDATE SET seen_at = EXCLUDED.seen_at
			WHERE did.seen_at <= EXCLUDED.seen_at`,
			id, seenAt)
		if err != nil {
			return fmt.Errorf("store: touch principal: %w", err)
		}
		return nil
	})
}

// UpsertBlob inserts a blob on first reference. Blobs are immutable once
// seen, so this is insert-or-ignore, not insert-or-update.
func (s *Store) UpsertBlob(ctx context.Context, b *model.Blob) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO blob (id, content_id, mime_type, size)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			b.ID, b.ContentID, b.MimeType, b.Size)
		if err != nil {
			return fmt.Errorf("store: upsert blob: %w", err)
		}
		return nil
	})
}

// UpsertPost writes a post row and rewrites its child sets (images,
// langs, tags, links, mentions, labels) and its denormalized edge rows
// (replyto_relation, posts_relation, quotes_relation, replies_relation)
// inside one transaction.
func (s *Store) UpsertPost(ctx context.Context, p *model.Post) error {
	return withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("store: begin: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx, `
			INSERT INTO post (id, author, created_at, text, parent, root, quotes, via, url, video, extra_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				author     = EXCLUDED.author,
				created_at = EXCLUDED.created_at,
				text       = EXCLUDED.text,
				parent     = EXCLUDED.parent,
				root       = EXCLUDED.root,
				quotes     = EXCLUDED.quotes,
				via        = EXCLUDED.via,
				url        = EXCLUDED.url,
				video      = EXCLUDED.video,
				extra_data = EXCLUDED.extra_data`,
			p.URI, p.Author, p.CreatedAt, p.Text, p.Parent, p.Root, p.Quotes, p.Via, p.URL,
			nullRaw(p.Video), nullRaw(p.Extra))
		if err != nil {
			return fmt.Errorf("store: upsert post: %w", err)
		}

		if err := rewriteSet(ctx, tx, "post_label", "post_id", "label", p.URI, p.Labels); err != nil {
			return err
		}
		if err := rewriteSet(ctx, tx, "post_lang", "post_id", "lang", p.URI, p.Langs); err != nil {
			return err
		}
		if err := rewriteSet(ctx, tx, "post_link", "post_id", "url", p.URI, p.Links); err != nil {
			return err
		}
		if err := rewriteSet(ctx, tx, "post_tag", "post_id", "tag", p.URI, p.Tags); err != nil {
			return err
		}
		if err := rewriteSet(ctx, tx, "post_mention", "post_id", "did", p.URI, p.Mentions); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM post_image WHERE post_id = $1`, p.URI); err != nil {
			return fmt.Errorf("store: clear post images: %w", err)
		}
		for i, img := range p.Images {
			var w, h *int
			if img.Aspect != nil {
				w, h = img.Aspect.Width, img.Aspect.Height
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO post_image (post_id, position, alt, blob_id, width, height)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				p.URI, i, img.Alt, nullStr(img.BlobID), w, h); err != nil {
				return fmt.Errorf("store: insert post image: %w", err)
			}
		}

		for _, q := range []string{
			`DELETE FROM replyto_relation WHERE post_id = $1`,
			`DELETE FROM posts_relation WHERE post_id = $1`,
			`DELETE FROM quotes_relation WHERE post_id = $1`,
			`DELETE FROM replies_relation WHERE reply_id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, p.URI); err != nil {
				return fmt.Errorf("store: clear post edges: %w", err)
			}
		}
		if p.Parent != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO replyto_relation (post_id, parent_id) VALUES ($1, $2)
				ON CONFLICT (post_id) DO UPDATE SET parent_id = EXCLUDED.parent_id`,
				p.URI, *p.Parent); err != nil {
				return fmt.Errorf("store: upsert replyto_relation: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO replies_relation (parent_id, reply_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, *p.Parent, p.URI); err != nil {
				return fmt.Errorf("store: upsert replies_relation: %w", err)
			}
		}
		if p.Root != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO posts_relation (post_id, root_id) VALUES ($1, $2)
				ON CONFLICT (post_id) DO UPDATE SET root_id = EXCLUDED.root_id`,
				p.URI, *p.Root); err != nil {
				return fmt.Errorf("store: upsert posts_relation: %w", err)
			}
		}
		if p.Quotes != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO quotes_relation (post_id, subject_id) VALUES ($1, $2)
				ON CONFLICT (post_id) DO UPDATE SET subject_id = EXCLUDED.subject_id`,
				p.URI, *p.Quotes); err != nil {
				return fmt.Errorf("store: upsert quotes_relation: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
}

func rewriteSet(ctx context.Context, tx pgx.Tx, table, keyCol, valCol, key string, vals []string) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, keyCol), key); err != nil {
		return fmt.Errorf("store: clear %s: %w", table, err)
	}
	for _, v := range vals {
		q := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`, table, keyCol, valCol)
		if _, err := tx.Exec(ctx, q, key, v); err != nil {
			return fmt.Errorf("store: insert %s: %w", table, err)
		}
	}
	return nil
}

// UpsertFeed, UpsertList, UpsertStarterPack, UpsertLabeler write the
// catalog entities. None of these have child sets.
func (s *Store) UpsertFeed(ctx context.Context, f *model.Feed) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO feed (id, author, created_at, display_name, description, avatar_blob, extra_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				author = EXCLUDED.author, created_at = EXCLUDED.created_at,
				display_name = EXCLUDED.display_name, description = EXCLUDED.description,
				avatar_blob = EXCLUDED.avatar_blob, extra_data = EXCLUDED.extra_data`,
			f.URI, f.Author, f.CreatedAt, f.DisplayName, f.Description, f.AvatarBlob, nullRaw(f.Extra))
		if err != nil {
			return fmt.Errorf("store: upsert feed: %w", err)
		}
		return nil
	})
}

func (s *Store) UpsertList(ctx context.Context, l *model.List) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO list (id, author, created_at, name, purpose, description, avatar_blob, extra_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				author = EXCLUDED.author, created_at = EXCLUDED.created_at, name = EXCLUDED.name,
				purpose = EXCLUDED.purpose, description = EXCLUDED.description,
				avatar_blob = EXCLUDED.avatar_blob, extra_data = EXCLUDED.extra_data`,
			l.URI, l.Author, l.CreatedAt, l.Name, l.Purpose, l.Description, l.AvatarBlob, nullRaw(l.Extra))
		if err != nil {
			return fmt.Errorf("store: upsert list: %w", err)
		}
		return nil
	})
}

func (s *Store) UpsertStarterPack(ctx context.Context, sp *model.StarterPack) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO starterpack (id, author, created_at, name, description, list_id, extra_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				author = EXCLUDED.author, created_at = EXCLUDED.created_at, name = EXCLUDED.name,
				description = EXCLUDED.description, list_id = EXCLUDED.list_id, extra_data = EXCLUDED.extra_data`,
			sp.URI, sp.Author, sp.CreatedAt, sp.Name, sp.Description, sp.ListURI, nullRaw(sp.Extra))
		if err != nil {
			return fmt.Errorf("store: upsert starterpack: %w", err)
		}
		return nil
	})
}

func (s *Store) UpsertLabeler(ctx context.Context, lb *model.Labeler) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO labeler (id, author, created_at, extra_data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				author = EXCLUDED.author, created_at = EXCLUDED.created_at, extra_data = EXCLUDED.extra_data`,
			lb.URI, lb.Author, lb.CreatedAt, nullRaw(lb.Extra))
		if err != nil {
			return fmt.Errorf("store: upsert labeler: %w", err)
		}
		return nil
	})
}

func (s *Store) UpsertFollow(ctx context.Context, f *model.Follow) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO follow (id, author, subject, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET subject = EXCLUDED.subject, created_at = EXCLUDED.created_at`,
			f.URI, f.Author, f.Subject, f.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: upsert follow: %w", err)
		}
		return nil
	})
}

func (s *Store) UpsertBlock(ctx context.Context, b *model.Block) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO block (id, author, subject, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET subject = EXCLUDED.subject, created_at = EXCLUDED.created_at`,
			b.URI, b.Author, b.Subject, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: upsert block: %w", err)
		}
		return nil
	})
}

// ErrAmbiguousLikeTarget means the like didn't carry exactly one target.
var ErrAmbiguousLikeTarget = errors.New("store: like must have exactly one target")

func (s *Store) UpsertLike(ctx context.Context, l *model.Like) error {
	if _, _, n := l.Target(); n != 1 {
		return ErrAmbiguousLikeTarget
	}
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO "like" (id, author, created_at, target_post, target_feed, target_list,
			                   target_starterpack, target_labeler)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				created_at = EXCLUDED.created_at,
				target_post = EXCLUDED.target_post, target_feed = EXCLUDED.target_feed,
				target_list = EXCLUDED.target_list, target_starterpack = EXCLUDED.target_starterpack,
				target_labeler = EXCLUDED.target_labeler`,
			l.URI, l.Author, l.CreatedAt, l.TargetPost, l.TargetFeed, l.TargetList,
			l.TargetStarter, l.TargetLabeler)
		if err != nil {
			return fmt.Errorf("store: upsert like: %w", err)
		}
		return nil
	})
}

func (s *Store) UpsertListItem(ctx context.Context, li *model.ListItem) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO listitem (id, author, list_id, subject, created_at) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET list_id = EXCLUDED.list_id, subject = EXCLUDED.subject,
				created_at = EXCLUDED.created_at`,
			li.URI, li.Author, li.List, li.Subject, li.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: upsert listitem: %w", err)
		}
		return nil
	})
}

func (s *Store) UpsertListBlock(ctx context.Context, lb *model.ListBlock) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO listblock (id, author, list_id, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET list_id = EXCLUDED.list_id, created_at = EXCLUDED.created_at`,
			lb.URI, lb.Author, lb.List, lb.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: upsert listblock: %w", err)
		}
		return nil
	})
}

func (s *Store) UpsertRepost(ctx context.Context, r *model.Repost) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO repost (id, author, subject, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET subject = EXCLUDED.subject, created_at = EXCLUDED.created_at`,
			r.URI, r.Author, r.Subject, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: upsert repost: %w", err)
		}
		return nil
	})
}

// DeleteByURI removes a row (and, via ON DELETE CASCADE / explicit
// cleanup, its child rows and denormalized edges) from the named
// collection's table. table must be one of the collection-keyed tables;
// callers pass the table name the decoder's collection mapping resolved.
// The identifier is always double-quoted ("like" is a reserved word).
func (s *Store) DeleteByURI(ctx context.Context, table, uri string) error {
	return withRetry(ctx, func() error {
		switch table {
		case "post":
			if _, err := s.pool.Exec(ctx, `DELETE FROM replies_relation WHERE reply_id = $1`, uri); err != nil {
				return fmt.Errorf("store: delete %s: %w", table, err)
			}
		}
		q := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pgx.Identifier{table}.Sanitize())
		if _, err := s.pool.Exec(ctx, q, uri); err != nil {
			return fmt.Errorf("store: delete %s: %w", table, err)
		}
		return nil
	})
}

// UpsertBackfillBookmark records a principal's last successful backfill.
func (s *Store) UpsertBackfillBookmark(ctx context.Context, b *model.BackfillBookmark) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO latest_backfill (did, at) VALUES ($1, $2)
			ON CONFLICT (did) DO UPDATE SET at = EXCLUDED.at`,
			b.DID, b.At)
		if err != nil {
			return fmt.Errorf("store: upsert backfill bookmark: %w", err)
		}
		return nil
	})
}

// backfillStaleAfter is how old a bookmark may get before its principal
// is due for another backfill pass.
const backfillStaleAfter = "7 days"

// DuePrincipals returns up to limit principal DIDs needing backfill:
// those never backfilled, or whose bookmark is older than
// backfillStaleAfter. Oldest-bookmark-first (nulls first), then
// alphabetically.
func (s *Store) DuePrincipals(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT did.id FROM did
		LEFT JOIN latest_backfill ON latest_backfill.did = did.id
		WHERE latest_backfill.at IS NULL
		   OR latest_backfill.at < NOW() - $2::interval
		ORDER BY latest_backfill.at ASC NULLS FIRST, did.id ASC
		LIMIT $1`, limit, backfillStaleAfter)
	if err != nil {
		return nil, fmt.Errorf("store: query due principals: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan due principal: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LoadCursor returns the persisted stream cursor for host, or zero if
// none has been saved yet.
func (s *Store) LoadCursor(ctx context.Context, host string) (int64, error) {
	var timeUS int64
	err := s.pool.QueryRow(ctx, `SELECT time_us FROM jetstream_cursor WHERE host = $1`, host).Scan(&timeUS)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: load cursor: %w", err)
	}
	return timeUS, nil
}

// SaveCursor persists the stream cursor for host.
func (s *Store) SaveCursor(ctx context.Context, c *model.StreamCursor) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO jetstream_cursor (host, time_us) VALUES ($1, $2)
			ON CONFLICT (host) DO UPDATE SET time_us = EXCLUDED.time_us`,
			c.Host, c.TimeUS)
		if err != nil {
			return fmt.Errorf("store: save cursor: %w", err)
		}
		return nil
	})
}

// RecordIdentityEvent and RecordAccountEvent append to the audit log
// tables backing the jetstream identity/account events. Write-once;
// never read by ingest logic.
func (s *Store) RecordIdentityEvent(ctx context.Context, did string, timeUS int64, handle string) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO jetstream_identity_event (did, time_us, handle) VALUES ($1, $2, $3)`,
			did, timeUS, nullStr(handle))
		if err != nil {
			return fmt.Errorf("store: record identity event: %w", err)
		}
		return nil
	})
}

func (s *Store) RecordAccountEvent(ctx context.Context, did string, timeUS int64, active bool) error {
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO jetstream_account_event (did, time_us, active) VALUES ($1, $2, $3)`,
			did, timeUS, active)
		if err != nil {
			return fmt.Errorf("store: record account event: %w", err)
		}
		return nil
	})
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullRaw(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// WriteBlobBatch upserts many blobs in chunks of at most maxBatchRows,
// using pgx.Batch so a backfill run doesn't round-trip once per blob.
// Blobs are the one entity kind backfill reliably produces in bulk
// (every image/video reference discovered while walking an archive).
func (s *Store) WriteBlobBatch(ctx context.Context, blobs []model.Blob) error {
	for start := 0; start < len(blobs); start += maxBatchRows {
		end := start + maxBatchRows
		if end > len(blobs) {
			end = len(blobs)
		}
		chunk := blobs[start:end]

		err := withRetry(ctx, func() error {
			batch := &pgx.Batch{}
			for _, b := range chunk {
				batch.Queue(`
					INSERT INTO blob (id, content_id, mime_type, size)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (id) DO NOTHING`,
					b.ID, b.ContentID, b.MimeType, b.Size)
			}
			br := s.pool.SendBatch(ctx, batch)
			defer br.Close()
			for range chunk {
				if _, err := br.Exec(); err != nil {
					return fmt.Errorf("store: batch upsert blob: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
