package ledger

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    batch_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    completed INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    pending INTEGER DEFAULT 0,
    rejected INTEGER DEFAULT 0,
    poll_errors INTEGER DEFAULT 0,
    aborted BOOLEAN DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT NOT NULL,
    batch_id TEXT NOT NULL REFERENCES runs(batch_id) ON DELETE CASCADE,
    mailbox TEXT NOT NULL,
    destination TEXT,
    status TEXT NOT NULL,
    detail TEXT,
    submitted_at TIMESTAMP,
    PRIMARY KEY (batch_id, id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_mailbox ON jobs(mailbox);

CREATE TABLE IF NOT EXISTS item_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL REFERENCES runs(batch_id) ON DELETE CASCADE,
    mailbox TEXT NOT NULL,
    destination TEXT,
    message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_item_errors_batch_id ON item_errors(batch_id);
`
