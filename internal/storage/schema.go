package storage

// Safe to run on every start.
const schema = `
CREATE TABLE IF NOT EXISTS used_track (
    track_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_used_track_used_at ON used_track(used_at);

CREATE TABLE IF NOT EXISTS match (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    winner_id TEXT,
    rounds_played INT NOT NULL,
    ended_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_ended_at ON match(ended_at DESC);

CREATE TABLE IF NOT EXISTS match_standing (
    match_id BIGINT NOT NULL REFERENCES match(id) ON DELETE CASCADE,
    position INT NOT NULL,
    player_id TEXT NOT NULL,
    display_name TEXT NOT NULL,
    score INT NOT NULL,
    PRIMARY KEY (match_id, position)
);
`
