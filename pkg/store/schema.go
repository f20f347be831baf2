package store

// Schema statements run in order and are safe to re-run. Timestamps are
// unix-second BIGINT columns and booleans are 0/1 integers so the same DDL
// works on postgres and sqlite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		owner_id       TEXT NOT NULL,
		mode           TEXT NOT NULL,
		status         TEXT NOT NULL,
		secure_config  TEXT NOT NULL DEFAULT '{}',
		runner_id      TEXT NOT NULL,
		last_seen_at   BIGINT,
		error_message  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots (status)`,

	`CREATE TABLE IF NOT EXISTS bot_metrics (
		bot_id                  TEXT PRIMARY KEY,
		profit_closed_coin      DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_closed_percent   DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_all_coin         DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_all_percent      DOUBLE PRECISION NOT NULL DEFAULT 0,
		trade_count             BIGINT NOT NULL DEFAULT 0,
		closed_trade_count      BIGINT NOT NULL DEFAULT 0,
		open_trade_count        BIGINT NOT NULL DEFAULT 0,
		winning_trades          BIGINT NOT NULL DEFAULT 0,
		losing_trades           BIGINT NOT NULL DEFAULT 0,
		winrate                 DOUBLE PRECISION NOT NULL DEFAULT 0,
		expectancy              DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_factor           DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_drawdown            DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_drawdown_abs        DOUBLE PRECISION NOT NULL DEFAULT 0,
		best_pair               TEXT NOT NULL DEFAULT '',
		best_rate               DOUBLE PRECISION NOT NULL DEFAULT 0,
		first_trade_at          BIGINT,
		latest_trade_at         BIGINT,
		fetched_at              BIGINT,
		last_synced_trade_id    BIGINT NOT NULL DEFAULT 0,
		last_known_max_trade_id BIGINT NOT NULL DEFAULT 0,
		last_trade_sync_at      BIGINT
	)`,

	`CREATE TABLE IF NOT EXISTS trades (
		bot_id             TEXT NOT NULL,
		freqtrade_trade_id BIGINT NOT NULL,
		pair               TEXT NOT NULL,
		is_open            INTEGER NOT NULL DEFAULT 0,
		open_date          BIGINT NOT NULL,
		close_date         BIGINT,
		open_rate          DOUBLE PRECISION NOT NULL DEFAULT 0,
		close_rate         DOUBLE PRECISION,
		amount             DOUBLE PRECISION NOT NULL DEFAULT 0,
		stake_amount       DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_abs         DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_ratio       DOUBLE PRECISION NOT NULL DEFAULT 0,
		strategy_name      TEXT NOT NULL DEFAULT '',
		timeframe          TEXT NOT NULL DEFAULT '',
		sell_reason        TEXT,
		is_short           INTEGER NOT NULL DEFAULT 0,
		raw_data           TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (bot_id, freqtrade_trade_id, open_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_bot_open ON trades (bot_id, is_open)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_bot_open_date ON trades (bot_id, open_date)`,

	`CREATE TABLE IF NOT EXISTS backtests (
		id            TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		strategy_id   TEXT NOT NULL,
		runner_id     TEXT NOT NULL,
		status        TEXT NOT NULL,
		container_id  TEXT NOT NULL DEFAULT '',
		result        TEXT,
		summary       TEXT,
		logs          TEXT NOT NULL DEFAULT '',
		completed_at  BIGINT,
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtests_status ON backtests (status)`,

	`CREATE TABLE IF NOT EXISTS bot_runners (
		id                       TEXT PRIMARY KEY,
		name                     TEXT NOT NULL,
		owner_id                 TEXT NOT NULL,
		type                     TEXT NOT NULL,
		config                   TEXT NOT NULL DEFAULT '{}',
		billing_enabled          INTEGER NOT NULL DEFAULT 0,
		data_download_config     TEXT NOT NULL DEFAULT '{}',
		data_download_status     TEXT NOT NULL DEFAULT 'idle',
		data_download_started_at BIGINT,
		data_download_progress   TEXT,
		data_is_ready            INTEGER NOT NULL DEFAULT 0,
		data_last_updated        BIGINT,
		data_error_message       TEXT NOT NULL DEFAULT '',
		data_object_key          TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS usage_samples (
		resource_type     TEXT NOT NULL,
		resource_id       TEXT NOT NULL,
		owner_id          TEXT NOT NULL,
		runner_id         TEXT NOT NULL,
		cpu_percent       DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory_bytes      BIGINT NOT NULL DEFAULT 0,
		network_rx_bytes  BIGINT NOT NULL DEFAULT 0,
		network_tx_bytes  BIGINT NOT NULL DEFAULT 0,
		block_read_bytes  BIGINT NOT NULL DEFAULT 0,
		block_write_bytes BIGINT NOT NULL DEFAULT 0,
		sampled_at        BIGINT NOT NULL,
		PRIMARY KEY (resource_type, resource_id, sampled_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_samples_sampled_at ON usage_samples (sampled_at)`,

	`CREATE TABLE IF NOT EXISTS usage_rollups (
		resource_type     TEXT NOT NULL,
		resource_id       TEXT NOT NULL,
		owner_id          TEXT NOT NULL,
		runner_id         TEXT NOT NULL,
		granularity       TEXT NOT NULL,
		bucket_start      BIGINT NOT NULL,
		cpu_avg_percent   DOUBLE PRECISION NOT NULL DEFAULT 0,
		cpu_max_percent   DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory_avg_bytes  BIGINT NOT NULL DEFAULT 0,
		memory_max_bytes  BIGINT NOT NULL DEFAULT 0,
		network_rx_bytes  BIGINT NOT NULL DEFAULT 0,
		network_tx_bytes  BIGINT NOT NULL DEFAULT 0,
		block_read_bytes  BIGINT NOT NULL DEFAULT 0,
		block_write_bytes BIGINT NOT NULL DEFAULT 0,
		sample_count      BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (resource_type, resource_id, granularity, bucket_start)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_rollups_owner ON usage_rollups (owner_id, granularity, bucket_start)`,
}
