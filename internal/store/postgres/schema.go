package postgres

// schema is applied by Provision. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id                      TEXT PRIMARY KEY,
		created_at              TIMESTAMPTZ NOT NULL,
		updated_at              TIMESTAMPTZ NOT NULL,
		status                  TEXT NOT NULL,
		failure_reason          TEXT NOT NULL DEFAULT '',
		expected_amount         NUMERIC(20, 6) NOT NULL,
		amount                  NUMERIC(20, 6) NOT NULL DEFAULT 0,
		from_user               TEXT NOT NULL DEFAULT '',
		to_user                 TEXT NOT NULL DEFAULT '',
		kind                    TEXT NOT NULL,
		from_external           BOOLEAN NOT NULL DEFAULT FALSE,
		to_external             BOOLEAN NOT NULL DEFAULT FALSE,
		provider                TEXT NOT NULL,
		provider_transaction_id TEXT NOT NULL DEFAULT '',
		metadata                JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_provider_tx_uniq
		ON transactions (provider, provider_transaction_id)
		WHERE provider_transaction_id <> ''`,
	`CREATE INDEX IF NOT EXISTS transactions_from_user_idx ON transactions (from_user)`,
	`CREATE INDEX IF NOT EXISTS transactions_to_user_idx ON transactions (to_user)`,
	`CREATE INDEX IF NOT EXISTS transactions_open_updated_idx
		ON transactions (updated_at)
		WHERE status NOT IN ('success', 'failed')`,
}
