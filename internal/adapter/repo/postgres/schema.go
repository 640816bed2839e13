package postgres

// schemaStatements is applied in order on every entry point. Everything is
// IF NOT EXISTS so repeated application is a no-op.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS observations (
	  observation_id BIGINT PRIMARY KEY,
	  inat_url TEXT,
	  taxon_id BIGINT,
	  taxon_name TEXT,
	  taxon_preferred_common_name TEXT,
	  quality_grade TEXT,
	  captive BOOLEAN,
	  license_code TEXT,
	  observed_at TIMESTAMPTZ,
	  observed_on DATE,
	  created_at TIMESTAMPTZ,
	  updated_at TIMESTAMPTZ,
	  latitude DOUBLE PRECISION,
	  longitude DOUBLE PRECISION,
	  positional_accuracy INTEGER,
	  place_guess TEXT,
	  user_id BIGINT,
	  user_login TEXT,
	  description TEXT,
	  first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	  last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	  raw JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS observations_updated_at_idx ON observations (updated_at)`,
	`CREATE INDEX IF NOT EXISTS observations_last_seen_at_idx ON observations (last_seen_at)`,
	`CREATE INDEX IF NOT EXISTS observations_observed_on_idx ON observations (observed_on)`,
	`CREATE INDEX IF NOT EXISTS observations_place_guess_idx ON observations (place_guess)`,

	`CREATE TABLE IF NOT EXISTS photos (
	  photo_id BIGINT PRIMARY KEY,
	  observation_id BIGINT NOT NULL REFERENCES observations(observation_id) ON DELETE CASCADE,
	  position INTEGER,
	  url_square TEXT,
	  url_large TEXT,
	  url_original TEXT,
	  license_code TEXT,
	  attribution TEXT,
	  first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	  last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	  raw JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS photos_observation_id_idx ON photos (observation_id)`,
	`CREATE INDEX IF NOT EXISTS photos_last_seen_at_idx ON photos (last_seen_at)`,

	`CREATE TABLE IF NOT EXISTS classifications (
	  classification_id BIGSERIAL PRIMARY KEY,
	  photo_id BIGINT NOT NULL REFERENCES photos(photo_id) ON DELETE CASCADE,
	  observation_id BIGINT NOT NULL REFERENCES observations(observation_id) ON DELETE CASCADE,
	  model_provider TEXT NOT NULL DEFAULT 'openrouter',
	  model TEXT NOT NULL,
	  prompt_version TEXT NOT NULL,
	  prompt_hash TEXT,
	  status TEXT NOT NULL,
	  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	  last_attempt_at TIMESTAMPTZ,
	  attempt_count INTEGER NOT NULL DEFAULT 0,
	  retry_after TIMESTAMPTZ,
	  input_image_url TEXT,
	  input_notes TEXT,
	  input_notes_truncated BOOLEAN NOT NULL DEFAULT FALSE,
	  output JSONB,
	  raw_response JSONB,
	  error TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS classifications_unique_config_idx
	 ON classifications (photo_id, model_provider, model, prompt_version)`,
	`CREATE INDEX IF NOT EXISTS classifications_status_idx ON classifications (status)`,
	`CREATE INDEX IF NOT EXISTS classifications_retry_after_idx ON classifications (retry_after)`,

	`CREATE TABLE IF NOT EXISTS sync_state (
	  key TEXT PRIMARY KEY,
	  value TEXT,
	  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
