package store

import (
	"strings"
	"time"
)

// RelayTarget is a named RTMP destination for the stream relay. The
// stream key is kept server-side; API consumers only ever see the
// alias.
type RelayTarget struct {
	Alias     string    `json:"alias"`
	RTMPURL   string    `json:"rtmp_url"`
	StreamKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// URI joins the RTMP URL and stream key into the full push address.
func (t *RelayTarget) URI() string {
	if t.StreamKey == "" {
		return t.RTMPURL
	}
	return strings.TrimRight(t.RTMPURL, "/") + "/" + t.StreamKey
}

// SaveRelayTarget inserts or replaces a target under its alias.
func (db *DB) SaveRelayTarget(target *RelayTarget) error {
	_, err := db.Exec(
		`INSERT INTO relay_targets (alias, rtmp_url, stream_key) VALUES (?, ?, ?)
		 ON CONFLICT(alias) DO UPDATE SET rtmp_url = excluded.rtmp_url,
			stream_key = excluded.stream_key`,
		target.Alias, target.RTMPURL, target.StreamKey,
	)
	return mapErr(err, "failed to save relay target")
}

// GetRelayTarget retrieves a target by alias.
func (db *DB) GetRelayTarget(alias string) (*RelayTarget, error) {
	var t RelayTarget
	err := db.QueryRow(
		`SELECT alias, rtmp_url, stream_key, created_at FROM relay_targets WHERE alias = ?`,
		alias,
	).Scan(&t.Alias, &t.RTMPURL, &t.StreamKey, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "failed to read relay target")
	}
	return &t, nil
}

// ListRelayTargets returns all targets ordered by alias.
func (db *DB) ListRelayTargets() ([]RelayTarget, error) {
	rows, err := db.Query(
		`SELECT alias, rtmp_url, stream_key, created_at FROM relay_targets ORDER BY alias`)
	if err != nil {
		return nil, mapErr(err, "failed to list relay targets")
	}
	defer rows.Close()

	var targets []RelayTarget
	for rows.Next() {
		var t RelayTarget
		if err := rows.Scan(&t.Alias, &t.RTMPURL, &t.StreamKey, &t.CreatedAt); err != nil {
			return nil, mapErr(err, "failed to read relay target")
		}
		targets = append(targets, t)
	}
	return targets, mapErr(rows.Err(), "failed to list relay targets")
}

// DeleteRelayTarget removes a target by alias.
func (db *DB) DeleteRelayTarget(alias string) error {
	res, err := db.Exec(`DELETE FROM relay_targets WHERE alias = ?`, alias)
	if err != nil {
		return mapErr(err, "failed to delete relay target")
	}
	return requireRow(res, "relay target %s", alias)
}
