// Package archive parses a merkle-repo archive — a CAR-format byte
// stream — into an ordered sequence of (path, cid, record bytes)
// triples. Blocks are read one length-prefixed entry at a time and held
// in a cid->block index until the MST walk completes: resolving paths
// requires random access by cid, so memory is proportional to the
// archive, not to a single block. The index is discarded when Read
// returns.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	indigorepo "github.com/bluesky-social/indigo/atproto/repo"
	"github.com/bluesky-social/indigo/atproto/repo/mst"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
)

// Record is one live (path, record) pair resolved from the repo's MST.
type Record struct {
	Path       string // "collection/rkey"
	Collection string
	RKey       string
	CID        cid.Cid
	Bytes      []byte
}

// ErrBadBlock means a block's declared cid didn't match its content —
// terminal for the archive it was found in.
type ErrBadBlock struct {
	CID cid.Cid
}

func (e *ErrBadBlock) Error() string {
	return fmt.Sprintf("archive: block %s failed hash verification", e.CID)
}

// blockIndex is an in-memory cid->block store built while streaming the
// CAR, and discarded once the Read call returns. It implements the
// minimal blockstore surface mst.LoadTreeFromStore needs.
type blockIndex struct {
	blocks map[string]blocks.Block
}

func (b *blockIndex) Get(_ context.Context, c cid.Cid) (blocks.Block, error) {
	blk, ok := b.blocks[c.KeyString()]
	if !ok {
		return nil, fmt.Errorf("archive: block not found: %s", c)
	}
	return blk, nil
}

func (b *blockIndex) Has(_ context.Context, c cid.Cid) (bool, error) {
	_, ok := b.blocks[c.KeyString()]
	return ok, nil
}

func (b *blockIndex) GetSize(_ context.Context, c cid.Cid) (int, error) {
	blk, ok := b.blocks[c.KeyString()]
	if !ok {
		return 0, fmt.Errorf("archive: block not found: %s", c)
	}
	return len(blk.RawData()), nil
}

func (b *blockIndex) Put(_ context.Context, blk blocks.Block) error {
	b.blocks[blk.Cid().KeyString()] = blk
	return nil
}

func (b *blockIndex) PutMany(_ context.Context, blks []blocks.Block) error {
	for _, blk := range blks {
		b.blocks[blk.Cid().KeyString()] = blk
	}
	return nil
}

func (b *blockIndex) DeleteBlock(_ context.Context, c cid.Cid) error {
	delete(b.blocks, c.KeyString())
	return nil
}

func (b *blockIndex) AllKeysChan(_ context.Context) (<-chan cid.Cid, error) {
	ch := make(chan cid.Cid, len(b.blocks))
	for _, blk := range b.blocks {
		ch <- blk.Cid()
	}
	close(ch)
	return ch, nil
}

func (b *blockIndex) HashOnRead(_ bool) {}

// Read reads r as a CAR v1 archive, verifies every block's hash as it
// arrives, resolves the commit's MST from its root, and returns the
// live (path, record) set in MST key order. Every block is indexed in
// memory before the walk, so peak memory is proportional to the archive
// size. A verification failure on any block fails the whole archive;
// this function performs exactly one pass over r and is not restartable.
func Read(ctx context.Context, r io.Reader) ([]Record, error) {
	cr, err := car.NewCarReader(r)
	if err != nil {
		return nil, fmt.Errorf("archive: read header: %w", err)
	}
	if len(cr.Header.Roots) != 1 {
		return nil, fmt.Errorf("archive: expected exactly one root, got %d", len(cr.Header.Roots))
	}
	rootCID := cr.Header.Roots[0]

	idx := &blockIndex{blocks: make(map[string]blocks.Block, 256)}
	for {
		blk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("archive: read block: %w", err)
		}

		if !verifyHash(blk.Cid(), blk.RawData()) {
			return nil, &ErrBadBlock{CID: blk.Cid()}
		}
		idx.blocks[blk.Cid().KeyString()] = blk
	}

	commitBlk, err := idx.Get(ctx, rootCID)
	if err != nil {
		return nil, fmt.Errorf("archive: commit block missing: %w", err)
	}

	var commit indigorepo.Commit
	if err := commit.UnmarshalCBOR(bytes.NewReader(commitBlk.RawData())); err != nil {
		return nil, fmt.Errorf("archive: decode commit: %w", err)
	}

	tree, err := mst.LoadTreeFromStore(ctx, idx, commit.Data)
	if err != nil {
		return nil, fmt.Errorf("archive: load mst: %w", err)
	}

	var out []Record
	err = tree.Walk(func(key []byte, val cid.Cid) error {
		blk, err := idx.Get(ctx, val)
		if err != nil {
			// Orphan: the MST references a cid that never arrived in
			// this archive. Contract point 3: skip, don't fail.
			return nil
		}
		path := string(key)
		col, rkey := splitPath(path)
		out = append(out, Record{
			Path:       path,
			Collection: col,
			RKey:       rkey,
			CID:        val,
			Bytes:      blk.RawData(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: walk mst: %w", err)
	}

	return out, nil
}

func splitPath(path string) (collection, rkey string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}

// verifyHash recomputes the multihash of data under c's own hash
// function and compares it against c, rather than trusting the
// archive's framing.
func verifyHash(c cid.Cid, data []byte) bool {
	prefix := c.Prefix()
	expected, err := prefix.Sum(data)
	if err != nil {
		return false
	}
	return expected.Equals(c)
}
