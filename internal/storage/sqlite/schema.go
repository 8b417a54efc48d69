package sqlite

const schema = `
-- Stories table
CREATE TABLE IF NOT EXISTS stories (
    id TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    project_id TEXT NOT NULL,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    rationale TEXT NOT NULL DEFAULT '',
    source_agent TEXT NOT NULL DEFAULT '',
    priority TEXT NOT NULL DEFAULT 'medium',
    policy TEXT NOT NULL DEFAULT 'approval_required',
    priority_level TEXT NOT NULL DEFAULT 'P2' CHECK(priority_level IN ('P0', 'P1', 'P2', 'P3')),
    priority_score INTEGER NOT NULL DEFAULT 0 CHECK(priority_score >= 0 AND priority_score <= 100),
    advances_launch_stage INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    user_approved INTEGER NOT NULL DEFAULT 0,
    external_task_id TEXT,
    external_issue_url TEXT,
    pr_url TEXT,
    error_text TEXT NOT NULL DEFAULT '',
    executed_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    -- executed_at constraint: only stories that ran to a terminal result carry it
    CHECK (
        (executed_at IS NULL) OR
        (status IN ('completed', 'failed'))
    )
);

-- Content hash uniqueness is what makes re-triage of the same findings a no-op.
CREATE UNIQUE INDEX IF NOT EXISTS idx_stories_content_hash ON stories(content_hash);
CREATE INDEX IF NOT EXISTS idx_stories_status ON stories(status);
CREATE INDEX IF NOT EXISTS idx_stories_project ON stories(project_id);
CREATE INDEX IF NOT EXISTS idx_stories_created_at ON stories(created_at);

-- Audit events table: one row per lifecycle transition or sync action
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    story_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (story_id) REFERENCES stories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_story ON events(story_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

-- Agent sessions table: token accounting per agent run
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    story_id TEXT NOT NULL,
    parent_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT '',
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    started_at DATETIME NOT NULL,
    ended_at DATETIME,
    error TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (story_id) REFERENCES stories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sessions_story ON sessions(story_id);
`
