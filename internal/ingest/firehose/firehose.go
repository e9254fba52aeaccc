// Package firehose consumes the live jetstream event stream and writes
// decoded entities through the storage writer, persisting a resumption
// cursor as it goes.
package firehose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bluesky-social/jetstream/pkg/models"
	"github.com/gorilla/websocket"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/primal-host/indexer/internal/ingest/decode"
	"github.com/primal-host/indexer/internal/ingest/model"
)

// State is the consumer's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

const (
	connectTimeout    = 30 * time.Second
	idleTimeout       = 90 * time.Second
	cursorFlushEvents = 100
	cursorFlushEvery  = 2 * time.Second
	minBackoff        = 1 * time.Second
	maxBackoff        = 60 * time.Second
	maxWriteRetries   = 3
)

// Writer is the subset of the storage writer the consumer needs. An
// interface here lets tests substitute an in-memory fake.
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
	DeleteByURI(ctx context.Context, table, uri string) error
	RecordIdentityEvent(ctx context.Context, did string, timeUS int64, handle string) error
	RecordAccountEvent(ctx context.Context, did string, timeUS int64, active bool) error
	LoadCursor(ctx context.Context, host string) (int64, error)
	SaveCursor(ctx context.Context, c *model.StreamCursor) error
}

// Consumer dials a jetstream host, decodes each inbound frame, and
// writes it through w.
type Consumer struct {
	Host        string
	Collections []string
	w           Writer
	dec         *decode.Decoder

	state      atomic.Int32
	cursor     atomic.Int64
	sinceFlush atomic.Int32

	// Counts of events written and frames/records dropped, kept whether
	// or not prometheus counters are attached.
	Decoded atomic.Int64
	Dropped atomic.Int64

	decodedCounter prometheus.Counter
	droppedCounter prometheus.Counter
}

func NewConsumer(host string, collections []string, w Writer) *Consumer {
	c := &Consumer{Host: host, Collections: collections, w: w, dec: decode.NewDecoder()}
	c.state.Store(int32(StateDisconnected))
	return c
}

func (c *Consumer) State() State { return State(c.state.Load()) }

// UseMetrics attaches prometheus counters to this consumer; call before
// Run. Without it, the consumer still tracks Decoded/Dropped internally.
func (c *Consumer) UseMetrics(decoded, dropped prometheus.Counter) {
	c.decodedCounter = decoded
	c.droppedCounter = dropped
}

// Run drives the reconnect loop until ctx is cancelled. It returns nil
// on a clean, caller-requested shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	cursor, err := c.w.LoadCursor(ctx, c.Host)
	if err != nil {
		return fmt.Errorf("firehose: load cursor: %w", err)
	}
	c.cursor.Store(cursor)

	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			c.state.Store(int32(StateDraining))
			c.flushCursor(context.Background())
			c.state.Store(int32(StateDisconnected))
			return nil
		default:
		}

		err := c.connectAndStream(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			c.state.Store(int32(StateDraining))
			c.flushCursor(context.Background())
			c.state.Store(int32(StateDisconnected))
			return nil
		}

		log.Printf("firehose: %s: %v, reconnecting in %s", c.Host, err, backoff)
		c.state.Store(int32(StateReconnecting))
		select {
		case <-ctx.Done():
			c.state.Store(int32(StateDisconnected))
			return nil
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Consumer) connectAndStream(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	u := c.buildURL()
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = connectTimeout

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(connCtx, u, http.Header{})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.state.Store(int32(StateStreaming))
	conn.SetReadDeadline(time.Now().Add(idleTimeout))

	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	flushTicker := time.NewTicker(cursorFlushEvery)
	defer flushTicker.Stop()
	go func() {
		for range flushTicker.C {
			if c.State() != StateStreaming {
				return
			}
			c.flushCursor(ctx)
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(idleTimeout))

		var evt models.Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			c.drop()
			continue
		}

		// Events at or behind the cursor are replays (the server resumes
		// from the last persisted cursor on reconnect). Idempotent writes
		// would tolerate them, but skipping is cheaper and keeps the
		// cursor strictly forward-moving.
		if c.stale(evt.TimeUS) {
			continue
		}

		out, decErr := c.dec.DecodeFirehose(&evt)
		if decErr != nil {
			if errors.Is(decErr, decode.ErrMalformedFrame) {
				return fmt.Errorf("malformed frame: %w", decErr)
			}
			// A BadRecord means the frame itself was fine but the
			// inline record was not: the event was observed, so the
			// cursor still advances and the stream keeps going.
			c.drop()
			c.advanceCursor(ctx, evt.TimeUS)
			continue
		}

		if err := c.writeWithRetry(ctx, out); err != nil {
			// Cursor is withheld; the caller reconnects and this event
			// is replayed from the last persisted cursor.
			return fmt.Errorf("write: %w", err)
		}
		c.Decoded.Add(1)
		if c.decodedCounter != nil {
			c.decodedCounter.Inc()
		}
		c.advanceCursor(ctx, evt.TimeUS)
	}
}

func (c *Consumer) drop() {
	c.Dropped.Add(1)
	if c.droppedCounter != nil {
		c.droppedCounter.Inc()
	}
}

// stale reports whether timeUS is at or behind the current cursor.
func (c *Consumer) stale(timeUS int64) bool {
	cur := c.cursor.Load()
	return cur > 0 && timeUS <= cur
}

// advanceCursor moves the in-memory cursor forward, never backward, and
// flushes it every cursorFlushEvents events.
func (c *Consumer) advanceCursor(ctx context.Context, timeUS int64) {
	if timeUS <= c.cursor.Load() {
		return
	}
	c.cursor.Store(timeUS)
	if c.sinceFlush.Add(1) >= cursorFlushEvents {
		c.sinceFlush.Store(0)
		c.flushCursor(ctx)
	}
}

func (c *Consumer) writeWithRetry(ctx context.Context, out decode.Event) error {
	var writeErr error
	for attempt := 0; attempt <= maxWriteRetries; attempt++ {
		writeErr = c.write(ctx, out)
		if writeErr == nil {
			return nil
		}
	}
	return writeErr
}

func (c *Consumer) write(ctx context.Context, e decode.Event) error {
	observedAt := time.UnixMicro(e.TimeUS)

	switch e.Kind {
	case decode.KindIdentity:
		if err := c.w.TouchPrincipal(ctx, e.Did, observedAt); err != nil {
			return err
		}
		return c.w.RecordIdentityEvent(ctx, e.Did, e.TimeUS, e.Handle)
	case decode.KindAccount:
		if err := c.w.TouchPrincipal(ctx, e.Did, observedAt); err != nil {
			return err
		}
		return c.w.RecordAccountEvent(ctx, e.Did, e.TimeUS, e.Active)
	}

	// Every commit observes its author, regardless of collection or
	// operation: seen_at tracks "last observed", not "last profile edit".
	if err := c.w.TouchPrincipal(ctx, e.Did, observedAt); err != nil {
		return err
	}

	if e.Operation == decode.OpDelete {
		table := tableForCollection(e.Collection)
		if table == "" {
			return nil
		}
		return c.w.DeleteByURI(ctx, table, e.URI)
	}

	if e.Entity == nil {
		return nil
	}

	// Blobs are upserted on first reference, before the entity row that
	// points at them.
	for _, b := range model.ReferencedBlobs(e.Entity) {
		if err := c.w.UpsertBlob(ctx, &b); err != nil {
			return err
		}
	}

	switch v := e.Entity.(type) {
	case *model.Principal:
		v.SeenAt = observedAt
		return c.w.UpsertPrincipal(ctx, v)
	case *model.Post:
		return c.w.UpsertPost(ctx, v)
	case *model.Feed:
		return c.w.UpsertFeed(ctx, v)
	case *model.List:
		return c.w.UpsertList(ctx, v)
	case *model.StarterPack:
		return c.w.UpsertStarterPack(ctx, v)
	case *model.Labeler:
		return c.w.UpsertLabeler(ctx, v)
	case *model.Follow:
		return c.w.UpsertFollow(ctx, v)
	case *model.Block:
		return c.w.UpsertBlock(ctx, v)
	case *model.Like:
		return c.w.UpsertLike(ctx, v)
	case *model.ListItem:
		return c.w.UpsertListItem(ctx, v)
	case *model.ListBlock:
		return c.w.UpsertListBlock(ctx, v)
	case *model.Repost:
		return c.w.UpsertRepost(ctx, v)
	default:
		return nil
	}
}

func tableForCollection(nsid string) string {
	switch nsid {
	case "app.bsky.feed.post":
		return "post"
	case "app.bsky.feed.generator":
		return "feed"
	case "app.bsky.graph.list":
		return "list"
	case "app.bsky.graph.starterpack":
		return "starterpack"
	case "app.bsky.labeler.service":
		return "labeler"
	case "app.bsky.graph.follow":
		return "follow"
	case "app.bsky.graph.block":
		return "block"
	case "app.bsky.feed.like":
		return "like"
	case "app.bsky.graph.listitem":
		return "listitem"
	case "app.bsky.graph.listblock":
		return "listblock"
	case "app.bsky.feed.repost":
		return "repost"
	default:
		return ""
	}
}

func (c *Consumer) flushCursor(ctx context.Context) {
	cur := c.cursor.Load()
	if cur == 0 {
		return
	}
	if err := c.w.SaveCursor(ctx, &model.StreamCursor{Host: c.Host, TimeUS: cur}); err != nil {
		log.Printf("firehose: %s: save cursor: %v", c.Host, err)
	}
}

func (c *Consumer) buildURL() string {
	v := url.Values{}
	for _, col := range c.Collections {
		v.Add("wantedCollections", col)
	}
	if cur := c.cursor.Load(); cur > 0 {
		v.Set("cursor", strconv.FormatInt(cur, 10))
	}
	host := strings.TrimSuffix(c.Host, "/")
	return fmt.Sprintf("wss://%s/subscribe?%s", host, v.Encode())
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
