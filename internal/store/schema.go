package store

// schema holds the gateway tables. Every entity table is keyed by session_id
// first; nothing joins across sessions.
const schema = `
CREATE TABLE IF NOT EXISTS orion_sessions (
    session_id TEXT PRIMARY KEY,
    owner TEXT NOT NULL DEFAULT '',
    device_jid TEXT,
    phone TEXT,
    display_name TEXT,
    metadata TEXT NOT NULL DEFAULT '{}',
    webhooks TEXT NOT NULL DEFAULT '[]',
    last_state TEXT NOT NULL DEFAULT 'disconnected',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orion_chats (
    session_id TEXT NOT NULL,
    chat_id TEXT NOT NULL,
    name TEXT,
    is_group INTEGER,
    archived INTEGER,
    pinned INTEGER,
    muted_until INTEGER,
    unread_count INTEGER NOT NULL DEFAULT 0,
    last_message_at INTEGER,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, chat_id)
);

CREATE TABLE IF NOT EXISTS orion_messages (
    session_id TEXT NOT NULL,
    chat_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    sender TEXT,
    push_name TEXT,
    from_me INTEGER NOT NULL DEFAULT 0,
    message_type TEXT,
    content TEXT,
    caption TEXT,
    timestamp INTEGER,
    status TEXT NOT NULL DEFAULT 'pending',
    media_type TEXT,
    media_path TEXT,
    raw BLOB,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, chat_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_orion_messages_chat_ts ON orion_messages(session_id, chat_id, timestamp);

CREATE TABLE IF NOT EXISTS orion_contacts (
    session_id TEXT NOT NULL,
    contact_id TEXT NOT NULL,
    lid TEXT,
    phone TEXT,
    name TEXT,
    notify TEXT,
    verified_name TEXT,
    status TEXT,
    img_url TEXT,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, contact_id)
);

CREATE TABLE IF NOT EXISTS orion_contact_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    contact_id TEXT NOT NULL,
    field TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    changed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orion_contact_history ON orion_contact_history(session_id, contact_id);

CREATE TABLE IF NOT EXISTS orion_groups (
    session_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    subject TEXT,
    description TEXT,
    owner TEXT,
    announce INTEGER,
    locked INTEGER,
    participants TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, group_id)
);

CREATE TABLE IF NOT EXISTS orion_blocklist (
    session_id TEXT NOT NULL,
    jid TEXT NOT NULL,
    blocked_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, jid)
);

CREATE TABLE IF NOT EXISTS orion_calls (
    session_id TEXT NOT NULL,
    call_id TEXT NOT NULL,
    caller TEXT,
    chat_id TEXT,
    is_group INTEGER NOT NULL DEFAULT 0,
    is_video INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (session_id, call_id)
);
`

// entityTables are purged on logout, children first.
var entityTables = []string{
	"orion_messages",
	"orion_chats",
	"orion_contact_history",
	"orion_contacts",
	"orion_groups",
	"orion_blocklist",
	"orion_calls",
}
