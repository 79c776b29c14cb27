package store

// Config is the single-row runtime configuration. Changes take effect on
// the next detection cycle without a restart.
type Config struct {
	OccupancyMinutes      int     `json:"occupancy_minutes"`
	ExitDebounceSeconds   int     `json:"exit_debounce_seconds"`
	DetectionConfidence   float64 `json:"detection_confidence"`
	UpdateIntervalSeconds int     `json:"update_interval_seconds"`
}

// GetConfig reads the runtime configuration.
func (db *DB) GetConfig() (*Config, error) {
	var cfg Config
	err := db.QueryRow(
		`SELECT occupancy_minutes, exit_debounce_seconds, detection_confidence,
			update_interval_seconds
		 FROM config WHERE id = 1`,
	).Scan(&cfg.OccupancyMinutes, &cfg.ExitDebounceSeconds,
		&cfg.DetectionConfidence, &cfg.UpdateIntervalSeconds)
	if err != nil {
		return nil, mapErr(err, "failed to read config")
	}
	return &cfg, nil
}

// UpdateConfig replaces the runtime configuration.
func (db *DB) UpdateConfig(cfg *Config) error {
	_, err := db.Exec(
		`UPDATE config SET occupancy_minutes = ?, exit_debounce_seconds = ?,
			detection_confidence = ?, update_interval_seconds = ?
		 WHERE id = 1`,
		cfg.OccupancyMinutes, cfg.ExitDebounceSeconds,
		cfg.DetectionConfidence, cfg.UpdateIntervalSeconds,
	)
	return mapErr(err, "failed to update config")
}
