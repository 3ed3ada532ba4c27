package migrations

var RetentionPolicies = &Migration{
	ID:   "002_retention_policies",
	Name: "002_retention_policies",
	UpSQL: `
	SELECT add_retention_policy('spots', INTERVAL '30 days', if_not_exists => TRUE);
	SELECT add_retention_policy('proxy_stats', INTERVAL '90 days', if_not_exists => TRUE);

	-- Hourly spot counts per band and mode
	CREATE MATERIALIZED VIEW IF NOT EXISTS spots_hourly
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 hour', time) AS hour,
		band,
		mode,
		COUNT(*) AS spot_count,
		COUNT(DISTINCT dx_call) AS dx_calls
	FROM spots
	GROUP BY hour, band, mode
	WITH NO DATA;

	CREATE MATERIALIZED VIEW IF NOT EXISTS proxy_stats_daily
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 day', time) AS day,
		MAX(total_lines) AS total_lines,
		MAX(stored_spots) AS stored_spots,
		MAX(duplicate_spots) AS duplicate_spots,
		MAX(disconnects) AS disconnects
	FROM proxy_stats
	GROUP BY day
	WITH NO DATA;
	`,
	DownSQL: `
	DROP MATERIALIZED VIEW IF EXISTS proxy_stats_daily;
	DROP MATERIALIZED VIEW IF EXISTS spots_hourly;
	SELECT remove_retention_policy('spots', if_exists => TRUE);
	SELECT remove_retention_policy('proxy_stats', if_exists => TRUE);
	`,
}
