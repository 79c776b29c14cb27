package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/parkwatch/internal/geometry"
)

// Camera is a registered frame source. ExclusionZones are frame regions
// whose detections are discarded (driveways, sidewalks).
type Camera struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	SourceURI      string          `json:"source_uri"`
	ExclusionZones []geometry.Rect `json:"exclusion_zones"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreateCamera inserts a camera, assigning a fresh ID.
func (db *DB) CreateCamera(cam *Camera) error {
	cam.ID = uuid.New().String()
	zones, err := json.Marshal(zonesOrEmpty(cam.ExclusionZones))
	if err != nil {
		return fmt.Errorf("failed to encode exclusion zones: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO cameras (id, name, source_uri, exclusion_zones) VALUES (?, ?, ?, ?)`,
		cam.ID, cam.Name, cam.SourceURI, string(zones),
	)
	return mapErr(err, "failed to create camera")
}

// GetCamera retrieves a camera by ID.
func (db *DB) GetCamera(id string) (*Camera, error) {
	row := db.QueryRow(
		`SELECT id, name, source_uri, exclusion_zones, created_at FROM cameras WHERE id = ?`, id)
	return scanCamera(row)
}

// ListCameras returns all cameras ordered by creation time.
func (db *DB) ListCameras() ([]Camera, error) {
	rows, err := db.Query(
		`SELECT id, name, source_uri, exclusion_zones, created_at FROM cameras ORDER BY created_at, id`)
	if err != nil {
		return nil, mapErr(err, "failed to list cameras")
	}
	defer rows.Close()

	var cams []Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cams = append(cams, *cam)
	}
	return cams, mapErr(rows.Err(), "failed to list cameras")
}

// UpdateCamera updates the camera's name, source URI and exclusion zones.
func (db *DB) UpdateCamera(cam *Camera) error {
	zones, err := json.Marshal(zonesOrEmpty(cam.ExclusionZones))
	if err != nil {
		return fmt.Errorf("failed to encode exclusion zones: %w", err)
	}
	res, err := db.Exec(
		`UPDATE cameras SET name = ?, source_uri = ?, exclusion_zones = ? WHERE id = ?`,
		cam.Name, cam.SourceURI, string(zones), cam.ID,
	)
	if err != nil {
		return mapErr(err, "failed to update camera")
	}
	return requireRow(res, "camera %s", cam.ID)
}

// DeleteCamera removes a camera. Spots and space assignments referencing
// it are removed by cascade.
func (db *DB) DeleteCamera(id string) error {
	res, err := db.Exec(`DELETE FROM cameras WHERE id = ?`, id)
	if err != nil {
		return mapErr(err, "failed to delete camera")
	}
	return requireRow(res, "camera %s", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCamera(row rowScanner) (*Camera, error) {
	var cam Camera
	var zones string
	if err := row.Scan(&cam.ID, &cam.Name, &cam.SourceURI, &zones, &cam.CreatedAt); err != nil {
		return nil, mapErr(err, "failed to read camera")
	}
	if err := json.Unmarshal([]byte(zones), &cam.ExclusionZones); err != nil {
		return nil, fmt.Errorf("failed to decode exclusion zones: %w", err)
	}
	return &cam, nil
}

func zonesOrEmpty(zones []geometry.Rect) []geometry.Rect {
	if zones == nil {
		return []geometry.Rect{}
	}
	return zones
}
