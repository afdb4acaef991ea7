package db

// SchemaSQL defines the table holding durable session snapshots.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS session_snapshot SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS version ON session_snapshot TYPE int;
    -- encoded store.Snapshot; kept opaque so the schema does not track session fields
    DEFINE FIELD IF NOT EXISTS data ON session_snapshot TYPE string;
    DEFINE FIELD IF NOT EXISTS sessions ON session_snapshot TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS saved_at ON session_snapshot TYPE datetime DEFAULT time::now();
`
