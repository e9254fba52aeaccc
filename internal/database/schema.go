package database

// Schema bootstraps the ingest target store. One flat schema serves
// every component; there is no per-tenant partitioning.
const Schema = `
-- did: principals (network participants), keyed by their DID string.
-- seen_at is maintained monotonically by the storage writer — an
-- upsert carrying an older seen_at than the stored row is suppressed
-- for the principal fields, never rewinding it.
CREATE TABLE IF NOT EXISTS did (
    id            TEXT PRIMARY KEY,
    display_name  TEXT,
    description   TEXT,
    avatar_blob   TEXT,
    banner_blob   TEXT,
    handle        TEXT,
    joined_via    TEXT,
    pinned_post   TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    seen_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    extra_data    JSONB
);

CREATE TABLE IF NOT EXISTS did_label (
    did   TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    label TEXT NOT NULL,
    PRIMARY KEY (did, label)
);

-- blob: content-addressed attachments, upserted on first reference,
-- never deleted by ingest.
CREATE TABLE IF NOT EXISTS blob (
    id         TEXT PRIMARY KEY,
    content_id TEXT NOT NULL,
    mime_type  TEXT NOT NULL,
    size       BIGINT NOT NULL
);

-- post: record-URI keyed content items. Child sets (langs, tags, links,
-- mentions, labels, images) live in their own tables and are rewritten
-- as delete-then-reinsert within the writer's transaction.
CREATE TABLE IF NOT EXISTS post (
    id         TEXT PRIMARY KEY,
    author     TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    created_at TIMESTAMPTZ NOT NULL,
    text       TEXT NOT NULL,
    parent     TEXT,
    root       TEXT,
    quotes     TEXT,
    via        TEXT,
    url        TEXT,
    video      JSONB,
    extra_data JSONB
);

CREATE TABLE IF NOT EXISTS post_label (
    post_id TEXT NOT NULL REFERENCES post(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
    label   TEXT NOT NULL,
    PRIMARY KEY (post_id, label)
);

CREATE TABLE IF NOT EXISTS post_lang (
    post_id TEXT NOT NULL REFERENCES post(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
    lang    TEXT NOT NULL,
    PRIMARY KEY (post_id, lang)
);

CREATE TABLE IF NOT EXISTS post_link (
    post_id TEXT NOT NULL REFERENCES post(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
    url     TEXT NOT NULL,
    PRIMARY KEY (post_id, url)
);

CREATE TABLE IF NOT EXISTS post_tag (
    post_id TEXT NOT NULL REFERENCES post(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
    tag     TEXT NOT NULL,
    PRIMARY KEY (post_id, tag)
);

CREATE TABLE IF NOT EXISTS post_image (
    post_id  TEXT NOT NULL REFERENCES post(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
    position INT NOT NULL,
    alt      TEXT NOT NULL DEFAULT '',
    blob_id  TEXT,
    width    INT,
    height   INT,
    PRIMARY KEY (post_id, position)
);

CREATE TABLE IF NOT EXISTS post_mention (
    post_id TEXT NOT NULL REFERENCES post(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
    did     TEXT NOT NULL,
    PRIMARY KEY (post_id, did)
);

-- feed, list, starterpack, labeler: catalog entities with a post-like
-- descriptive shape.
CREATE TABLE IF NOT EXISTS feed (
    id           TEXT PRIMARY KEY,
    author       TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    created_at   TIMESTAMPTZ NOT NULL,
    display_name TEXT NOT NULL,
    description  TEXT,
    avatar_blob  TEXT,
    extra_data   JSONB
);

CREATE TABLE IF NOT EXISTS list (
    id          TEXT PRIMARY KEY,
    author      TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    created_at  TIMESTAMPTZ NOT NULL,
    name        TEXT NOT NULL,
    purpose     TEXT NOT NULL,
    description TEXT,
    avatar_blob TEXT,
    extra_data  JSONB
);

CREATE TABLE IF NOT EXISTS starterpack (
    id          TEXT PRIMARY KEY,
    author      TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    created_at  TIMESTAMPTZ NOT NULL,
    name        TEXT NOT NULL,
    description TEXT,
    list_id     TEXT,
    extra_data  JSONB
);

CREATE TABLE IF NOT EXISTS labeler (
    id         TEXT PRIMARY KEY,
    author     TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    created_at TIMESTAMPTZ NOT NULL,
    extra_data JSONB
);

-- Relations.
CREATE TABLE IF NOT EXISTS follow (
    id         TEXT PRIMARY KEY,
    author     TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    subject    TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS block (
    id         TEXT PRIMARY KEY,
    author     TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    subject    TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    created_at TIMESTAMPTZ NOT NULL
);

-- like: polymorphic target via five mutually-exclusive nullable columns
-- guarded by a check constraint, keeping likes single-table for reads.
-- LIKE is a reserved word, so the identifier is quoted everywhere.
CREATE TABLE IF NOT EXISTS "like" (
    id              TEXT PRIMARY KEY,
    author          TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    created_at      TIMESTAMPTZ NOT NULL,
    target_post     TEXT,
    target_feed     TEXT,
    target_list     TEXT,
    target_starterpack TEXT,
    target_labeler  TEXT,
    CHECK (
        (CASE WHEN target_post IS NOT NULL THEN 1 ELSE 0 END) +
        (CASE WHEN target_feed IS NOT NULL THEN 1 ELSE 0 END) +
        (CASE WHEN target_list IS NOT NULL THEN 1 ELSE 0 END) +
        (CASE WHEN target_starterpack IS NOT NULL THEN 1 ELSE 0 END) +
        (CASE WHEN target_labeler IS NOT NULL THEN 1 ELSE 0 END) = 1
    )
);

CREATE TABLE IF NOT EXISTS listitem (
    id         TEXT PRIMARY KEY,
    author     TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    list_id    TEXT NOT NULL REFERENCES list(id) DEFERRABLE INITIALLY DEFERRED,
    subject    TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS listblock (
    id         TEXT PRIMARY KEY,
    author     TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    list_id    TEXT NOT NULL REFERENCES list(id) DEFERRABLE INITIALLY DEFERRED,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS repost (
    id         TEXT PRIMARY KEY,
    author     TEXT NOT NULL REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    subject    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

-- Post-to-post edges, denormalized out of the post row for cheap
-- single-table reads.
--   replyto_relation: a post's immediate parent.
--   posts_relation:   a post's thread root.
--   replies_relation: the inverse of replyto_relation (parent -> reply),
--                     kept as a separate table so "replies to X" reads
--                     don't scan replyto_relation by value.
--   quotes_relation:  a post's quoted subject.
CREATE TABLE IF NOT EXISTS replyto_relation (
    post_id   TEXT PRIMARY KEY REFERENCES post(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
    parent_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS posts_relation (
    post_id TEXT PRIMARY KEY REFERENCES post(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
    root_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS replies_relation (
    parent_id TEXT NOT NULL,
    reply_id  TEXT NOT NULL,
    PRIMARY KEY (parent_id, reply_id)
);

CREATE TABLE IF NOT EXISTS quotes_relation (
    post_id    TEXT PRIMARY KEY REFERENCES post(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
    subject_id TEXT NOT NULL
);

-- latest_backfill: per-principal bookmark. at IS NULL means never
-- backfilled.
CREATE TABLE IF NOT EXISTS latest_backfill (
    did TEXT PRIMARY KEY REFERENCES did(id) DEFERRABLE INITIALLY DEFERRED,
    at  TIMESTAMPTZ
);

-- jetstream_cursor: per-host firehose resumption point.
CREATE TABLE IF NOT EXISTS jetstream_cursor (
    host    TEXT PRIMARY KEY,
    time_us BIGINT NOT NULL
);

-- jetstream_identity_event / jetstream_account_event: append-only audit
-- log. Not read by any ingest operation.
CREATE TABLE IF NOT EXISTS jetstream_identity_event (
    seq        BIGSERIAL PRIMARY KEY,
    did        TEXT NOT NULL,
    time_us    BIGINT NOT NULL,
    handle     TEXT,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS jetstream_account_event (
    seq        BIGSERIAL PRIMARY KEY,
    did        TEXT NOT NULL,
    time_us    BIGINT NOT NULL,
    active     BOOLEAN NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
