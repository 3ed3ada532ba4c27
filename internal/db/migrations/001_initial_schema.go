package migrations

// InitialSchema creates the spot and statistics hypertables
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		CREATE EXTENSION IF NOT EXISTS timescaledb;

		CREATE TABLE IF NOT EXISTS spots (
			time TIMESTAMPTZ NOT NULL,
			spotter TEXT NOT NULL,
			spotter_grid TEXT,
			dx_call TEXT NOT NULL,
			dx_grid TEXT,
			freq_khz DOUBLE PRECISION NOT NULL,
			band TEXT NOT NULL,
			mode TEXT,
			comment TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL
		);

		SELECT create_hypertable('spots', 'time', if_not_exists => TRUE);

		CREATE INDEX IF NOT EXISTS idx_spots_dx_call ON spots (dx_call, time DESC);
		CREATE INDEX IF NOT EXISTS idx_spots_spotter ON spots (spotter, time DESC);
		CREATE INDEX IF NOT EXISTS idx_spots_band ON spots (band, time DESC);

		CREATE TABLE IF NOT EXISTS proxy_stats (
			time TIMESTAMPTZ NOT NULL,
			total_lines BIGINT NOT NULL,
			spot_lines BIGINT NOT NULL,
			rejected_lines BIGINT NOT NULL,
			stored_spots BIGINT NOT NULL,
			duplicate_spots BIGINT NOT NULL,
			evicted_spots BIGINT NOT NULL,
			connects BIGINT NOT NULL,
			disconnects BIGINT NOT NULL,
			sink_errors BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		SELECT create_hypertable('proxy_stats', 'time', if_not_exists => TRUE);

		CREATE INDEX IF NOT EXISTS idx_proxy_stats_time ON proxy_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS proxy_stats;
		DROP TABLE IF EXISTS spots;
	`,
}
