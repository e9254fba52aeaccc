// Package model defines the normalized relational entities the ingest
// pipeline decodes network records into. Every entity here has a stable
// primary key and maps onto a table listed in the storage writer's schema.
package model

import (
	"encoding/json"
	"time"
)

// AspectRatio is an optional image dimension pair. Both fields are nil
// when the source record omitted them.
type AspectRatio struct {
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
}

// PostImage is one entry in a post's ordered image list.
type PostImage struct {
	Alt    string       `json:"alt"`
	BlobID string       `json:"blobId"`
	Aspect *AspectRatio `json:"aspectRatio,omitempty"`
}

// Principal is a network participant ("did:...") and the author/owner of
// every other entity. SeenAt is monotonically non-decreasing per
// principal: it is only advanced, never rewound, by the storage writer.
type Principal struct {
	ID          string
	DisplayName *string
	Description *string
	AvatarBlob  *string
	BannerBlob  *string
	Handle      *string
	JoinedVia   *string
	PinnedPost  *string
	CreatedAt   time.Time
	SeenAt      time.Time
	Extra       json.RawMessage
	Labels      []string
	Blobs       []Blob
}

// Post is a record URI-keyed content item.
type Post struct {
	URI       string
	Author    string
	CreatedAt time.Time
	Text      string
	Parent    *string
	Root      *string
	Quotes    *string
	Via       *string
	URL       *string
	Langs     []string
	Tags      []string
	Links     []string
	Labels    []string
	Images    []PostImage
	Mentions  []string
	Video     json.RawMessage
	Extra     json.RawMessage
	Blobs     []Blob
}

// Blob is a content-addressed binary attachment. Blobs are upserted on
// first reference and are never deleted by ingest.
type Blob struct {
	ID        string
	ContentID string
	MimeType  string
	Size      int64
}

// Feed, List, StarterPack, and Labeler are catalog entities keyed by
// record URI, with the same descriptive-field shape as Post.
type Feed struct {
	URI         string
	Author      string
	CreatedAt   time.Time
	DisplayName string
	Description *string
	AvatarBlob  *string
	Extra       json.RawMessage
	Blobs       []Blob
}

type List struct {
	URI         string
	Author      string
	CreatedAt   time.Time
	Name        string
	Purpose     string
	Description *string
	AvatarBlob  *string
	Extra       json.RawMessage
	Blobs       []Blob
}

type StarterPack struct {
	URI         string
	Author      string
	CreatedAt   time.Time
	Name        string
	Description *string
	ListURI     *string
	Extra       json.RawMessage
}

type Labeler struct {
	URI       string
	Author    string
	CreatedAt time.Time
	Extra     json.RawMessage
}

// LikeTarget enumerates the five collections a like may point at. Exactly
// one of the corresponding fields on Like is non-null.
type LikeTarget int

const (
	LikeTargetNone LikeTarget = iota
	LikeTargetPost
	LikeTargetFeed
	LikeTargetList
	LikeTargetStarterPack
	LikeTargetLabeler
)

// Like is a polymorphic relation: exactly one target field is set.
type Like struct {
	URI           string
	Author        string
	CreatedAt     time.Time
	TargetPost    *string
	TargetFeed    *string
	TargetList    *string
	TargetStarter *string
	TargetLabeler *string
}

// Target returns which field is populated and its value, or
// (LikeTargetNone, "") if none are — callers should treat that as
// BadRecord, and more than one populated field the same way.
func (l *Like) Target() (LikeTarget, string, int) {
	n := 0
	kind, val := LikeTargetNone, ""
	if l.TargetPost != nil {
		n++
		kind, val = LikeTargetPost, *l.TargetPost
	}
	if l.TargetFeed != nil {
		n++
		kind, val = LikeTargetFeed, *l.TargetFeed
	}
	if l.TargetList != nil {
		n++
		kind, val = LikeTargetList, *l.TargetList
	}
	if l.TargetStarter != nil {
		n++
		kind, val = LikeTargetStarterPack, *l.TargetStarter
	}
	if l.TargetLabeler != nil {
		n++
		kind, val = LikeTargetLabeler, *l.TargetLabeler
	}
	return kind, val, n
}

// Follow, Block, ListItem, and Repost are simple author→subject relations.
type Follow struct {
	URI       string
	Author    string
	Subject   string
	CreatedAt time.Time
}

type Block struct {
	URI       string
	Author    string
	Subject   string
	CreatedAt time.Time
}

type ListItem struct {
	URI       string
	Author    string
	List      string
	Subject   string
	CreatedAt time.Time
}

type ListBlock struct {
	URI       string
	Author    string
	List      string
	CreatedAt time.Time
}

type Repost struct {
	URI       string
	Author    string
	Subject   string
	CreatedAt time.Time
}

// BackfillBookmark records the last successful backfill time for a
// principal. A nil At means the principal has never been backfilled.
type BackfillBookmark struct {
	DID string
	At  *time.Time
}

// StreamCursor is the per-host firehose resumption point, expressed as
// microseconds since epoch.
type StreamCursor struct {
	Host   string
	TimeUS int64
}

// ReferencedBlobs returns the blob references a decoded entity carries,
// so writers can upsert them on first reference. Entities without blob
// attachments return nil.
func ReferencedBlobs(entity any) []Blob {
	switch v := entity.(type) {
	case *Principal:
		return v.Blobs
	case *Post:
		return v.Blobs
	case *Feed:
		return v.Blobs
	case *List:
		return v.Blobs
	}
	return nil
}
