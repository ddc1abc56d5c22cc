package db

// Schema statements are applied at startup and are idempotent. Postgres and
// sqlite share table shapes; only the column types differ.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS user_profiles (
		user_id             TEXT PRIMARY KEY,
		personal_info       JSONB NOT NULL,
		writing_preferences JSONB NOT NULL,
		education           JSONB,
		experience          JSONB,
		skills              JSONB,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS writing_requests (
		request_id      TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		category        TEXT NOT NULL,
		context         JSONB NOT NULL,
		requirements    JSONB NOT NULL,
		additional_info TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_writing_requests_user_id ON writing_requests(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_writing_requests_created_at ON writing_requests(created_at)`,
	`CREATE TABLE IF NOT EXISTS writing_runs (
		request_id  TEXT PRIMARY KEY REFERENCES writing_requests(request_id) ON DELETE CASCADE,
		status      TEXT NOT NULL,
		content     TEXT,
		evaluation  JSONB,
		text_stats  JSONB,
		suggestions JSONB,
		iterations  INTEGER NOT NULL DEFAULT 0,
		error       TEXT,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_writing_runs_created_at ON writing_runs(created_at)`,
	`CREATE TABLE IF NOT EXISTS writing_samples (
		sample_id     TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		category      TEXT NOT NULL,
		content       TEXT NOT NULL,
		context       JSONB,
		quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_writing_samples_user_category ON writing_samples(user_id, category)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		key_id       TEXT PRIMARY KEY,
		prefix       TEXT NOT NULL UNIQUE,
		key_hash     TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		name         TEXT,
		disabled     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS user_profiles (
		user_id             TEXT PRIMARY KEY,
		personal_info       TEXT NOT NULL,
		writing_preferences TEXT NOT NULL,
		education           TEXT,
		experience          TEXT,
		skills              TEXT,
		created_at          TIMESTAMP NOT NULL,
		updated_at          TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS writing_requests (
		request_id      TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		category        TEXT NOT NULL,
		context         TEXT NOT NULL,
		requirements    TEXT NOT NULL,
		additional_info TEXT,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_writing_requests_user_id ON writing_requests(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_writing_requests_created_at ON writing_requests(created_at)`,
	`CREATE TABLE IF NOT EXISTS writing_runs (
		request_id  TEXT PRIMARY KEY REFERENCES writing_requests(request_id) ON DELETE CASCADE,
		status      TEXT NOT NULL,
		content     TEXT,
		evaluation  TEXT,
		text_stats  TEXT,
		suggestions TEXT,
		iterations  INTEGER NOT NULL DEFAULT 0,
		error       TEXT,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_writing_runs_created_at ON writing_runs(created_at)`,
	`CREATE TABLE IF NOT EXISTS writing_samples (
		sample_id     TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		category      TEXT NOT NULL,
		content       TEXT NOT NULL,
		context       TEXT,
		quality_score REAL NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_writing_samples_user_category ON writing_samples(user_id, category)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		key_id       TEXT PRIMARY KEY,
		prefix       TEXT NOT NULL UNIQUE,
		key_hash     TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		name         TEXT,
		disabled     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMP NOT NULL,
		last_used_at TIMESTAMP
	)`,
}

func schemaStatements(driverName string) []string {
	if driverName == DriverSQLite {
		return sqliteSchema
	}
	return postgresSchema
}
