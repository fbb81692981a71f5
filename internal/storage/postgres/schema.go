// Package postgres provides a PostgreSQL implementation of the storage
// interfaces, with pgvector-backed similarity search when the extension is
// available.
package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent (IF NOT EXISTS).
const Schema = `
-- Records table: memory records with tier residency and decay state
CREATE TABLE IF NOT EXISTS memory_records (
    id UUID PRIMARY KEY,
    content TEXT NOT NULL,
    content_hash TEXT,
    tier TEXT NOT NULL DEFAULT 'working',
    status TEXT NOT NULL DEFAULT 'active',

    -- Decay inputs
    consolidation_strength DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    decay_rate DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    access_count BIGINT NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMPTZ,

    -- Decay outputs (cached, recomputed on each consolidation pass)
    recall_probability DOUBLE PRECISION,
    last_recall_interval_ns BIGINT,

    -- Testing-effect fields
    successful_retrievals BIGINT NOT NULL DEFAULT 0,
    failed_retrievals BIGINT NOT NULL DEFAULT 0,
    total_retrieval_attempts BIGINT NOT NULL DEFAULT 0,
    ease_factor DOUBLE PRECISION NOT NULL DEFAULT 2.5,
    current_interval_days DOUBLE PRECISION,
    next_review_at TIMESTAMPTZ,

    importance_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    metadata JSONB,

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_records_tier ON memory_records (tier, updated_at);
CREATE INDEX IF NOT EXISTS idx_records_status ON memory_records (status);
CREATE INDEX IF NOT EXISTS idx_records_next_review ON memory_records (next_review_at)
    WHERE next_review_at IS NOT NULL;

-- Consolidation audit trail
CREATE TABLE IF NOT EXISTS consolidation_events (
    id UUID PRIMARY KEY,
    memory_id UUID NOT NULL REFERENCES memory_records(id) ON DELETE CASCADE,
    event_type TEXT NOT NULL,
    previous_strength DOUBLE PRECISION NOT NULL,
    new_strength DOUBLE PRECISION NOT NULL,
    previous_probability DOUBLE PRECISION,
    new_probability DOUBLE PRECISION,
    recall_interval_ns BIGINT,
    context JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_events_memory ON consolidation_events (memory_id, created_at DESC);
`

// MigrationPgvector adds the embedding column and cosine index. Applied only
// when the pgvector extension is available.
const MigrationPgvector = `
ALTER TABLE memory_records ADD COLUMN IF NOT EXISTS embedding vector(1536);

CREATE INDEX IF NOT EXISTS idx_records_embedding_cosine
    ON memory_records USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
