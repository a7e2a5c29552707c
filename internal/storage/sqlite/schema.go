package sqlite

// Timestamps are stored as RFC3339Nano TEXT so ordering and round-trips are
// exact regardless of driver time handling.
const schema = `
-- Prompts table
CREATE TABLE IF NOT EXISTS prompts (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    product_id TEXT,
    epic_id TEXT,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT,
    original_description TEXT,
    status TEXT NOT NULL DEFAULT 'todo',
    priority INTEGER NOT NULL DEFAULT 2 CHECK(priority >= 1 AND priority <= 4),
    generated_prompt TEXT,
    generated_at TEXT,
    agent_id TEXT,
    agent_status TEXT,
    agent_branch_name TEXT,
    agent_url TEXT,
    pull_request_number INTEGER,
    pull_request_url TEXT,
    pull_request_status TEXT,
    workflow_metadata TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prompts_workspace ON prompts(workspace_id);
CREATE INDEX IF NOT EXISTS idx_prompts_status ON prompts(status);
CREATE INDEX IF NOT EXISTS idx_prompts_priority ON prompts(priority);
CREATE INDEX IF NOT EXISTS idx_prompts_agent_id ON prompts(agent_id);

-- Prompt events (audit trail). No foreign key: delete events outlive the row.
CREATE TABLE IF NOT EXISTS prompt_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    prompt_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prompt_events_prompt ON prompt_events(prompt_id);

-- Integration credentials, one per provider
CREATE TABLE IF NOT EXISTS integration_credentials (
    provider TEXT PRIMARY KEY,
    secret TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Webhook delivery ledger for exactly-once reconciliation
CREATE TABLE IF NOT EXISTS webhook_deliveries (
    delivery_key TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    status TEXT NOT NULL,
    received_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_agent ON webhook_deliveries(agent_id);

-- Knowledge items handed to the transform step as context
CREATE TABLE IF NOT EXISTS knowledge_items (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_items_workspace ON knowledge_items(workspace_id);
`
