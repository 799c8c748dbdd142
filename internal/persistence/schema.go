package persistence

// schema is applied on every Open via CREATE TABLE IF NOT EXISTS, mirroring
// the teacher's artifacts.SQLRepository.prepareStatements approach of
// preparing the tables/statements a package needs directly in Go rather
// than through an external migration tool. Eleven tables: the ten named in
// the data model (runs, sessions, tool_calls, pipelines, pipeline_events,
// conversations, conversation_messages, alerts, elevations, cost_history)
// plus output_events, added because models.OutputEvent (one line of parsed
// worker stdout) has no natural home in any of the other ten.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	worker_id      TEXT PRIMARY KEY,
	working_dir    TEXT NOT NULL,
	status         TEXT NOT NULL,
	started_at     DATETIME NOT NULL,
	ended_at       DATETIME,
	exit_code      INTEGER,
	initial_prompt TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	worker_id     TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	ended_at      DATETIME,
	status        TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_worker ON sessions(worker_id);

CREATE TABLE IF NOT EXISTS tool_calls (
	tool_call_id      TEXT PRIMARY KEY,
	worker_id         TEXT NOT NULL,
	session_id        TEXT NOT NULL,
	tool_name         TEXT NOT NULL,
	input_json        TEXT,
	response_json     TEXT,
	status            TEXT NOT NULL,
	execution_time_ms INTEGER,
	pre_ts            DATETIME NOT NULL,
	post_ts           DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(worker_id, session_id, tool_name);

CREATE TABLE IF NOT EXISTS pipelines (
	pipeline_id   TEXT PRIMARY KEY,
	working_dir   TEXT NOT NULL,
	user_request  TEXT NOT NULL,
	status        TEXT NOT NULL,
	config_json   TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	last_activity DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	pipeline_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload_json TEXT,
	ts          DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_pipeline ON pipeline_events(pipeline_id, ts);

CREATE TABLE IF NOT EXISTS conversations (
	conversation_id TEXT PRIMARY KEY,
	created_at      DATETIME NOT NULL,
	last_activity   DATETIME NOT NULL,
	title           TEXT,
	preview         TEXT
);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content_json    TEXT NOT NULL,
	ts              DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conv_messages_conv ON conversation_messages(conversation_id, ts);

CREATE TABLE IF NOT EXISTS alerts (
	alert_id     TEXT PRIMARY KEY,
	worker_id    TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	tool_call_id TEXT,
	severity     TEXT NOT NULL,
	category     TEXT NOT NULL,
	evidence_json TEXT,
	action       TEXT NOT NULL,
	ts           DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_worker ON alerts(worker_id, ts);

CREATE TABLE IF NOT EXISTS elevations (
	id           TEXT PRIMARY KEY,
	worker_id    TEXT NOT NULL,
	command      TEXT NOT NULL,
	risk         TEXT NOT NULL,
	status       TEXT NOT NULL,
	requested_at DATETIME NOT NULL,
	expires_at   DATETIME NOT NULL,
	resolved_at  DATETIME
);

CREATE TABLE IF NOT EXISTS output_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	worker_id  TEXT NOT NULL,
	session_id TEXT,
	ts         DATETIME NOT NULL,
	kind       TEXT NOT NULL,
	raw        TEXT NOT NULL,
	status     TEXT
);
CREATE INDEX IF NOT EXISTS idx_output_events_worker ON output_events(worker_id, ts);

CREATE TABLE IF NOT EXISTS cost_history (
	ts            DATETIME NOT NULL,
	worker_id     TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cost_history_worker ON cost_history(worker_id, ts);
`
