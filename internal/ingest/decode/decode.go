// Package decode turns network records — firehose frames and archive
// blocks alike — into the normalized entities in internal/ingest/model.
// It dispatches on the ATProto collection NSID and never panics on bad
// input: malformed records are returned as a *BadRecord error so the
// caller can drop and continue.
package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/atproto/data"
	"github.com/bluesky-social/indigo/atproto/syntax"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/jetstream/pkg/models"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"

	"github.com/primal-host/indexer/internal/ingest/model"
)

// Kind distinguishes the three firehose event shapes.
type Kind int

const (
	KindCommit Kind = iota
	KindIdentity
	KindAccount
)

// Operation is a commit's record-level operation.
type Operation int

const (
	OpCreate Operation = iota
	OpUpdate
	OpDelete
)

func parseOperation(s string) (Operation, error) {
	switch s {
	case "create":
		return OpCreate, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	default:
		return 0, &BadRecord{Reason: fmt.Sprintf("unknown operation %q", s)}
	}
}

// Event is the decoded form of one firehose frame.
type Event struct {
	Kind Kind
	Did  string

	TimeUS int64
	Seq    int64

	// Commit fields.
	URI        string
	Operation  Operation
	Collection string
	Entity     any // nil for delete and for unknown collections

	// Identity fields.
	Handle string

	// Account fields.
	Active bool
}

// BadRecord is returned for a single malformed record; the caller drops
// it and keeps processing the rest of the batch or stream.
type BadRecord struct {
	Reason string
}

func (e *BadRecord) Error() string {
	return fmt.Sprintf("decode: bad record: %s", e.Reason)
}

// ErrMalformedFrame is terminal for the current firehose connection.
var ErrMalformedFrame = fmt.Errorf("decode: malformed frame")

// Decoder holds the shared content-id decode cache.
type Decoder struct {
	cidCache *lru.Cache[string, cid.Cid]
}

// DefaultCIDCacheSize is the default capacity of the content-id cache.
const DefaultCIDCacheSize = 10_000

// NewDecoder builds a Decoder with the default cache size.
func NewDecoder() *Decoder {
	return NewDecoderWithCacheSize(DefaultCIDCacheSize)
}

// NewDecoderWithCacheSize builds a Decoder with a custom cache capacity.
func NewDecoderWithCacheSize(size int) *Decoder {
	c, err := lru.New[string, cid.Cid](size)
	if err != nil {
		// Only returns an error for size <= 0.
		c, _ = lru.New[string, cid.Cid](DefaultCIDCacheSize)
	}
	return &Decoder{cidCache: c}
}

func (d *Decoder) decodeContentID(s string) (cid.Cid, error) {
	if c, ok := d.cidCache.Get(s); ok {
		return c, nil
	}
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, &BadRecord{Reason: fmt.Sprintf("invalid content id %q: %v", s, err)}
	}
	d.cidCache.Add(s, c)
	return c, nil
}

// canonicalize trims trailing NULs, per the decoding rule: "Strings are
// canonicalized by trimming trailing NULs only."
func canonicalize(s string) string {
	return strings.TrimRight(s, "\x00")
}

func parseTimestamp(s string) (time.Time, error) {
	dt, err := syntax.ParseDatetimeLenient(canonicalize(s))
	if err != nil {
		return time.Time{}, &BadRecord{Reason: fmt.Sprintf("invalid timestamp %q: %v", s, err)}
	}
	return dt.Time(), nil
}

// DecodeFirehose decodes one jetstream frame into an Event. A returned
// *BadRecord means the frame itself was fine but the inline record was
// not — callers should count it and move on. A returned ErrMalformedFrame
// means the frame's envelope could not be parsed at all.
func (d *Decoder) DecodeFirehose(evt *models.Event) (Event, error) {
	if evt == nil {
		return Event{}, ErrMalformedFrame
	}

	switch evt.Kind {
	case "commit":
		return d.decodeCommitEvent(evt)
	case "identity":
		if evt.Identity == nil {
			return Event{}, ErrMalformedFrame
		}
		var handle string
		if evt.Identity.Handle != nil {
			handle = canonicalize(*evt.Identity.Handle)
		}
		return Event{
			Kind:   KindIdentity,
			Did:    evt.Did,
			TimeUS: evt.TimeUS,
			Seq:    evt.Identity.Seq,
			Handle: handle,
		}, nil
	case "account":
		if evt.Account == nil {
			return Event{}, ErrMalformedFrame
		}
		return Event{
			Kind:   KindAccount,
			Did:    evt.Did,
			TimeUS: evt.TimeUS,
			Seq:    evt.Account.Seq,
			Active: evt.Account.Active,
		}, nil
	default:
		// An event envelope we don't recognize at all is a frame problem,
		// not a record problem: there is no valid sub-structure to fall
		// back on.
		return Event{}, ErrMalformedFrame
	}
}

func (d *Decoder) decodeCommitEvent(evt *models.Event) (Event, error) {
	if evt.Commit == nil {
		return Event{}, ErrMalformedFrame
	}
	c := evt.Commit

	op, err := parseOperation(c.Operation)
	if err != nil {
		return Event{}, err
	}

	out := Event{
		Kind:       KindCommit,
		Did:        evt.Did,
		TimeUS:     evt.TimeUS,
		URI:        fmt.Sprintf("at://%s/%s/%s", evt.Did, c.Collection, c.RKey),
		Operation:  op,
		Collection: c.Collection,
	}

	if op == OpDelete {
		return out, nil
	}

	entity, err := d.decodeJSONRecord(c.Collection, out.URI, evt.Did, c.Record)
	if err != nil {
		return Event{}, err
	}
	out.Entity = entity
	return out, nil
}

// DecodeArchiveRecord decodes one dag-cbor block pulled from a merkle-repo
// archive into a normalized entity. uri is the record's canonical at://
// URI and author the repository's DID. The cbor-gen structs drop fields
// they don't know, so the block is decoded a second time into a generic
// map to recover them into extra_data — archive and firehose ingestion
// of the same record must produce the same row.
func (d *Decoder) DecodeArchiveRecord(collection, uri, author string, cborBytes []byte) (any, error) {
	entity, err := d.decodeCBOREntity(collection, uri, author, cborBytes)
	if err != nil || entity == nil {
		return entity, err
	}

	keys, ok := knownRecordKeys[collection]
	if !ok {
		return entity, nil
	}
	m, err := data.UnmarshalCBOR(cborBytes)
	if err != nil {
		// The typed decode above already accepted the block.
		return entity, nil
	}
	if p, ok := entity.(*model.Post); ok {
		p.Via = mapString(m, "via")
		p.URL = mapString(m, "bridgyOriginalUrl")
	}
	setExtra(entity, extraFromMap(m, keys))
	return entity, nil
}

func (d *Decoder) decodeCBOREntity(collection, uri, author string, cborBytes []byte) (any, error) {
	switch collection {
	case "app.bsky.actor.profile":
		var rec bsky.ActorProfile
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("profile cbor: %v", err)}
		}
		return d.buildProfile(author, &rec)
	case "app.bsky.feed.post":
		var rec bsky.FeedPost
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("post cbor: %v", err)}
		}
		return d.buildPost(uri, author, &rec)
	case "app.bsky.feed.like":
		var rec bsky.FeedLike
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("like cbor: %v", err)}
		}
		return d.buildLike(uri, author, &rec)
	case "app.bsky.feed.repost":
		var rec bsky.FeedRepost
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("repost cbor: %v", err)}
		}
		return d.buildRepost(uri, author, &rec)
	case "app.bsky.graph.follow":
		var rec bsky.GraphFollow
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("follow cbor: %v", err)}
		}
		return d.buildFollow(uri, author, &rec)
	case "app.bsky.graph.block":
		var rec bsky.GraphBlock
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("block cbor: %v", err)}
		}
		return d.buildBlock(uri, author, &rec)
	case "app.bsky.graph.list":
		var rec bsky.GraphList
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("list cbor: %v", err)}
		}
		return d.buildList(uri, author, &rec)
	case "app.bsky.graph.listitem":
		var rec bsky.GraphListitem
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("listitem cbor: %v", err)}
		}
		return d.buildListItem(uri, author, &rec)
	case "app.bsky.graph.listblock":
		var rec bsky.GraphListblock
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("listblock cbor: %v", err)}
		}
		return d.buildListBlock(uri, author, &rec)
	case "app.bsky.graph.starterpack":
		var rec bsky.GraphStarterpack
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("starterpack cbor: %v", err)}
		}
		return d.buildStarterPack(uri, author, &rec)
	case "app.bsky.feed.generator":
		var rec bsky.FeedGenerator
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("generator cbor: %v", err)}
		}
		return d.buildFeed(uri, author, &rec)
	case "app.bsky.labeler.service":
		var rec bsky.LabelerService
		if err := rec.UnmarshalCBOR(bytes.NewReader(cborBytes)); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("labeler cbor: %v", err)}
		}
		return d.buildLabeler(uri, author, &rec)
	default:
		// Unknown collections decode to a nil entity, not an error; the
		// callers drop them without logging.
		return nil, nil
	}
}

// decodeJSONRecord mirrors DecodeArchiveRecord but for the JSON-encoded
// inline record carried in a firehose commit frame.
func (d *Decoder) decodeJSONRecord(collection, uri, author string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, &BadRecord{Reason: "commit missing inline record"}
	}

	entity, err := d.decodeJSONEntity(collection, uri, author, raw)
	if err != nil || entity == nil {
		return entity, err
	}
	if p, ok := entity.(*model.Post); ok {
		p.Via = stringField(raw, "via")
		p.URL = stringField(raw, "bridgyOriginalUrl")
	}
	if keys, ok := knownRecordKeys[collection]; ok {
		setExtra(entity, extraData(raw, keys))
	}
	return entity, nil
}

func (d *Decoder) decodeJSONEntity(collection, uri, author string, raw json.RawMessage) (any, error) {
	switch collection {
	case "app.bsky.actor.profile":
		var rec bsky.ActorProfile
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("profile json: %v", err)}
		}
		return d.buildProfile(author, &rec)
	case "app.bsky.feed.post":
		var rec bsky.FeedPost
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("post json: %v", err)}
		}
		return d.buildPost(uri, author, &rec)
	case "app.bsky.feed.like":
		var rec bsky.FeedLike
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("like json: %v", err)}
		}
		return d.buildLike(uri, author, &rec)
	case "app.bsky.feed.repost":
		var rec bsky.FeedRepost
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("repost json: %v", err)}
		}
		return d.buildRepost(uri, author, &rec)
	case "app.bsky.graph.follow":
		var rec bsky.GraphFollow
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("follow json: %v", err)}
		}
		return d.buildFollow(uri, author, &rec)
	case "app.bsky.graph.block":
		var rec bsky.GraphBlock
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("block json: %v", err)}
		}
		return d.buildBlock(uri, author, &rec)
	case "app.bsky.graph.list":
		var rec bsky.GraphList
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("list json: %v", err)}
		}
		return d.buildList(uri, author, &rec)
	case "app.bsky.graph.listitem":
		var rec bsky.GraphListitem
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("listitem json: %v", err)}
		}
		return d.buildListItem(uri, author, &rec)
	case "app.bsky.graph.listblock":
		var rec bsky.GraphListblock
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("listblock json: %v", err)}
		}
		return d.buildListBlock(uri, author, &rec)
	case "app.bsky.graph.starterpack":
		var rec bsky.GraphStarterpack
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("starterpack json: %v", err)}
		}
		return d.buildStarterPack(uri, author, &rec)
	case "app.bsky.feed.generator":
		var rec bsky.FeedGenerator
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("generator json: %v", err)}
		}
		return d.buildFeed(uri, author, &rec)
	case "app.bsky.labeler.service":
		var rec bsky.LabelerService
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &BadRecord{Reason: fmt.Sprintf("labeler json: %v", err)}
		}
		return d.buildLabeler(uri, author, &rec)
	default:
		return nil, nil
	}
}

// knownRecordKeys lists, per collection with an extra_data column, the
// source-record fields the normalized model captures; everything else is
// preserved verbatim in the entity's Extra. "via" and "bridgyOriginalUrl"
// are nonstandard keys bridged posts carry; they map to Post.Via and
// Post.URL. Relation records (follow, like, ...) are not listed: their
// rows carry no extra_data.
var knownRecordKeys = map[string][]string{
	"app.bsky.actor.profile": {
		"$type", "displayName", "description", "avatar", "banner",
		"pinnedPost", "joinedViaStarterPack", "createdAt", "labels",
	},
	"app.bsky.feed.post": {
		"$type", "text", "createdAt", "reply", "embed", "langs", "facets",
		"tags", "labels", "via", "bridgyOriginalUrl",
	},
	"app.bsky.feed.generator": {
		"$type", "displayName", "description", "avatar", "createdAt",
	},
	"app.bsky.graph.list": {
		"$type", "name", "purpose", "description", "avatar", "createdAt",
	},
	"app.bsky.graph.starterpack": {
		"$type", "name", "description", "list", "createdAt",
	},
	"app.bsky.labeler.service": {
		"$type", "createdAt",
	},
}

// setExtra attaches captured unknown-field JSON to an entity that has an
// extra_data column; other entity kinds are left alone.
func setExtra(entity any, extra json.RawMessage) {
	switch v := entity.(type) {
	case *model.Principal:
		v.Extra = extra
	case *model.Post:
		v.Extra = extra
	case *model.Feed:
		v.Extra = extra
	case *model.List:
		v.Extra = extra
	case *model.StarterPack:
		v.Extra = extra
	case *model.Labeler:
		v.Extra = extra
	}
}

// stringField pulls a top-level string key out of a raw JSON object, or
// nil when absent or not a string.
func stringField(raw json.RawMessage, key string) *string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil
	}
	return &s
}

// extraData returns the subset of raw's top-level JSON object whose keys
// are not in known, marshaled back out with sorted keys (encoding/json
// already sorts map[string]any keys on Marshal, giving us canonical
// output for free).
func extraData(raw json.RawMessage, known []string) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	for k := range m {
		if knownSet[k] {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return out
}

// extraFromMap is extraData for a generically-decoded dag-cbor record:
// known keys are removed and the remainder marshaled with sorted keys.
// CID links and byte fields keep their {"$link": ...} / {"$bytes": ...}
// JSON forms, so archive and firehose extras match.
func extraFromMap(m map[string]any, known []string) json.RawMessage {
	for _, k := range known {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return out
}

// mapString pulls a string value out of a generically-decoded record, or
// nil when absent or not a string.
func mapString(m map[string]any, key string) *string {
	if s, ok := m[key].(string); ok {
		return &s
	}
	return nil
}

// blobRef validates a lexicon blob reference's content id and returns
// the normalized Blob row to upsert for it. A malformed content id fails
// the record carrying the reference.
func (d *Decoder) blobRef(b *lexutil.LexBlob) (*model.Blob, error) {
	if b == nil {
		return nil, nil
	}
	ref := b.Ref.String()
	c, err := d.decodeContentID(ref)
	if err != nil {
		return nil, err
	}
	return &model.Blob{ID: ref, ContentID: c.String(), MimeType: b.MimeType, Size: b.Size}, nil
}

func (d *Decoder) buildProfile(author string, rec *bsky.ActorProfile) (*model.Principal, error) {
	p := &model.Principal{ID: author}
	if rec.DisplayName != nil {
		v := canonicalize(*rec.DisplayName)
		p.DisplayName = &v
	}
	if rec.Description != nil {
		v := canonicalize(*rec.Description)
		p.Description = &v
	}
	if rec.CreatedAt != nil {
		created, err := parseTimestamp(*rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		p.CreatedAt = created
	}
	if rec.Avatar != nil {
		blob, err := d.blobRef(rec.Avatar)
		if err != nil {
			return nil, err
		}
		p.AvatarBlob = &blob.ID
		p.Blobs = append(p.Blobs, *blob)
	}
	if rec.Banner != nil {
		blob, err := d.blobRef(rec.Banner)
		if err != nil {
			return nil, err
		}
		p.BannerBlob = &blob.ID
		p.Blobs = append(p.Blobs, *blob)
	}
	if rec.PinnedPost != nil {
		v := rec.PinnedPost.Uri
		p.PinnedPost = &v
	}
	if rec.JoinedViaStarterPack != nil {
		v := rec.JoinedViaStarterPack.Uri
		p.JoinedVia = &v
	}
	if rec.Labels != nil {
		p.Labels = selfLabels(rec.Labels.LabelDefs_SelfLabels)
	}
	return p, nil
}

func (d *Decoder) buildPost(uri, author string, rec *bsky.FeedPost) (*model.Post, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	p := &model.Post{
		URI:       uri,
		Author:    author,
		CreatedAt: created,
		Text:      canonicalize(rec.Text),
		Langs:     rec.Langs,
		Tags:      rec.Tags,
	}

	if rec.Reply != nil && rec.Reply.Parent != nil {
		parent := rec.Reply.Parent.Uri
		p.Parent = &parent
		if rec.Reply.Root != nil {
			root := rec.Reply.Root.Uri
			p.Root = &root
		}
	}

	for _, facet := range rec.Facets {
		for _, feat := range facet.Features {
			if feat.RichtextFacet_Mention != nil {
				p.Mentions = append(p.Mentions, feat.RichtextFacet_Mention.Did)
			}
			if feat.RichtextFacet_Link != nil {
				p.Links = append(p.Links, feat.RichtextFacet_Link.Uri)
			}
		}
	}

	if rec.Embed != nil {
		if rec.Embed.EmbedImages != nil {
			for _, img := range rec.Embed.EmbedImages.Images {
				if err := d.appendImage(p, img); err != nil {
					return nil, err
				}
			}
		}

		var quoteURI string
		if rec.Embed.EmbedRecord != nil && rec.Embed.EmbedRecord.Record != nil {
			quoteURI = rec.Embed.EmbedRecord.Record.Uri
		}
		if rec.Embed.EmbedRecordWithMedia != nil &&
			rec.Embed.EmbedRecordWithMedia.Record != nil &&
			rec.Embed.EmbedRecordWithMedia.Record.Record != nil {
			quoteURI = rec.Embed.EmbedRecordWithMedia.Record.Record.Uri
			if rec.Embed.EmbedRecordWithMedia.Media != nil && rec.Embed.EmbedRecordWithMedia.Media.EmbedImages != nil {
				for _, img := range rec.Embed.EmbedRecordWithMedia.Media.EmbedImages.Images {
					if err := d.appendImage(p, img); err != nil {
						return nil, err
					}
				}
			}
		}
		if quoteURI != "" {
			p.Quotes = &quoteURI
		}

		if rec.Embed.EmbedVideo != nil {
			if raw, err := json.Marshal(rec.Embed.EmbedVideo); err == nil {
				p.Video = raw
			}
			if rec.Embed.EmbedVideo.Video != nil {
				blob, err := d.blobRef(rec.Embed.EmbedVideo.Video)
				if err != nil {
					return nil, err
				}
				p.Blobs = append(p.Blobs, *blob)
			}
		}
	}

	for _, l := range labelValues(rec.Labels) {
		p.Labels = append(p.Labels, l)
	}

	return p, nil
}

// appendImage normalizes one embedded image onto p, recording its blob
// reference alongside the ordered image list. Images without an aspect
// ratio leave both dimensions null.
func (d *Decoder) appendImage(p *model.Post, img *bsky.EmbedImages_Image) error {
	pi := model.PostImage{Alt: canonicalize(img.Alt)}
	if img.Image != nil {
		blob, err := d.blobRef(img.Image)
		if err != nil {
			return err
		}
		pi.BlobID = blob.ID
		p.Blobs = append(p.Blobs, *blob)
	}
	if img.AspectRatio != nil {
		w := int(img.AspectRatio.Width)
		h := int(img.AspectRatio.Height)
		pi.Aspect = &model.AspectRatio{Width: &w, Height: &h}
	}
	p.Images = append(p.Images, pi)
	return nil
}

// labelValues extracts the flat label-value strings from a post's label
// union, ignoring anything that isn't the self-label variant (externally
// applied labels arrive through a separate did/post label feed, not
// inline on the record).
func labelValues(labels *bsky.FeedPost_Labels) []string {
	if labels == nil {
		return nil
	}
	return selfLabels(labels.LabelDefs_SelfLabels)
}

func selfLabels(sl *comatproto.LabelDefs_SelfLabels) []string {
	if sl == nil {
		return nil
	}
	out := make([]string, 0, len(sl.Values))
	for _, v := range sl.Values {
		out = append(out, v.Val)
	}
	sort.Strings(out)
	return out
}

func (d *Decoder) buildLike(uri, author string, rec *bsky.FeedLike) (*model.Like, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if rec.Subject == nil || rec.Subject.Uri == "" {
		return nil, &BadRecord{Reason: "like missing subject"}
	}
	if rec.Subject.Cid != "" {
		if _, err := d.decodeContentID(rec.Subject.Cid); err != nil {
			return nil, err
		}
	}

	like := &model.Like{URI: uri, Author: author, CreatedAt: created}

	target, err := syntax.ParseATURI(rec.Subject.Uri)
	if err != nil {
		return nil, &BadRecord{Reason: fmt.Sprintf("like subject uri: %v", err)}
	}
	subject := rec.Subject.Uri
	switch target.Collection().String() {
	case "app.bsky.feed.post":
		like.TargetPost = &subject
	case "app.bsky.feed.generator":
		like.TargetFeed = &subject
	case "app.bsky.graph.list":
		like.TargetList = &subject
	case "app.bsky.graph.starterpack":
		like.TargetStarter = &subject
	case "app.bsky.labeler.service":
		like.TargetLabeler = &subject
	default:
		return nil, &BadRecord{Reason: fmt.Sprintf("like subject has unsupported collection %q", target.Collection())}
	}

	if _, _, n := like.Target(); n != 1 {
		return nil, &BadRecord{Reason: "like does not resolve to exactly one target"}
	}
	return like, nil
}

func (d *Decoder) buildRepost(uri, author string, rec *bsky.FeedRepost) (*model.Repost, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if rec.Subject == nil || rec.Subject.Uri == "" {
		return nil, &BadRecord{Reason: "repost missing subject"}
	}
	return &model.Repost{URI: uri, Author: author, Subject: rec.Subject.Uri, CreatedAt: created}, nil
}

func (d *Decoder) buildFollow(uri, author string, rec *bsky.GraphFollow) (*model.Follow, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if rec.Subject == "" {
		return nil, &BadRecord{Reason: "follow missing subject"}
	}
	return &model.Follow{URI: uri, Author: author, Subject: rec.Subject, CreatedAt: created}, nil
}

func (d *Decoder) buildBlock(uri, author string, rec *bsky.GraphBlock) (*model.Block, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if rec.Subject == "" {
		return nil, &BadRecord{Reason: "block missing subject"}
	}
	return &model.Block{URI: uri, Author: author, Subject: rec.Subject, CreatedAt: created}, nil
}

func (d *Decoder) buildList(uri, author string, rec *bsky.GraphList) (*model.List, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	l := &model.List{
		URI:       uri,
		Author:    author,
		CreatedAt: created,
		Name:      canonicalize(rec.Name),
	}
	if rec.Purpose != nil {
		l.Purpose = *rec.Purpose
	}
	if rec.Description != nil {
		v := canonicalize(*rec.Description)
		l.Description = &v
	}
	if rec.Avatar != nil {
		blob, err := d.blobRef(rec.Avatar)
		if err != nil {
			return nil, err
		}
		l.AvatarBlob = &blob.ID
		l.Blobs = append(l.Blobs, *blob)
	}
	return l, nil
}

func (d *Decoder) buildListItem(uri, author string, rec *bsky.GraphListitem) (*model.ListItem, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if rec.Subject == "" || rec.List == "" {
		return nil, &BadRecord{Reason: "listitem missing subject or list"}
	}
	return &model.ListItem{URI: uri, Author: author, List: rec.List, Subject: rec.Subject, CreatedAt: created}, nil
}

func (d *Decoder) buildListBlock(uri, author string, rec *bsky.GraphListblock) (*model.ListBlock, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if rec.Subject == "" {
		return nil, &BadRecord{Reason: "listblock missing subject"}
	}
	return &model.ListBlock{URI: uri, Author: author, List: rec.Subject, CreatedAt: created}, nil
}

func (d *Decoder) buildStarterPack(uri, author string, rec *bsky.GraphStarterpack) (*model.StarterPack, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	sp := &model.StarterPack{
		URI:       uri,
		Author:    author,
		CreatedAt: created,
		Name:      canonicalize(rec.Name),
	}
	if rec.Description != nil {
		v := canonicalize(*rec.Description)
		sp.Description = &v
	}
	if rec.List != "" {
		v := rec.List
		sp.ListURI = &v
	}
	return sp, nil
}

func (d *Decoder) buildFeed(uri, author string, rec *bsky.FeedGenerator) (*model.Feed, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	f := &model.Feed{
		URI:         uri,
		Author:      author,
		CreatedAt:   created,
		DisplayName: canonicalize(rec.DisplayName),
	}
	if rec.Description != nil {
		v := canonicalize(*rec.Description)
		f.Description = &v
	}
	if rec.Avatar != nil {
		blob, err := d.blobRef(rec.Avatar)
		if err != nil {
			return nil, err
		}
		f.AvatarBlob = &blob.ID
		f.Blobs = append(f.Blobs, *blob)
	}
	return f, nil
}

func (d *Decoder) buildLabeler(uri, author string, rec *bsky.LabelerService) (*model.Labeler, error) {
	created, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &model.Labeler{URI: uri, Author: author, CreatedAt: created}, nil
}
