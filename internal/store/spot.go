package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/parkwatch/internal/geometry"
)

// Spot types. Parking spots count toward occupancy aggregates and draw
// sequence numbers; no-park zones are monitored for violations only.
const (
	SpotTypeParking = "parking"
	SpotTypeNoPark  = "nopark"
)

// ValidSpotType reports whether t is a known spot type.
func ValidSpotType(t string) bool {
	return t == SpotTypeParking || t == SpotTypeNoPark
}

// SpotView is an additional camera's rectangle for the same physical
// spot. The primary view lives in the Spot fields directly.
type SpotView struct {
	CameraID string        `json:"camera_id"`
	Rect     geometry.Rect `json:"rect"`
}

// Spot is one marked parking place. SpotNumber is unique within the
// space and never reused after deletion.
type Spot struct {
	ID         string        `json:"id"`
	SpaceID    string        `json:"space_id"`
	CameraID   string        `json:"camera_id"`
	Label      string        `json:"label"`
	Type       string        `json:"type"`
	SpotNumber int           `json:"spot_number"`
	Rect       geometry.Rect `json:"rect"`
	AltViews   []SpotView    `json:"alt_views"`
	CreatedBy  string        `json:"created_by"`
	CreatedAt  time.Time     `json:"created_at"`
}

const spotColumns = `id, space_id, camera_id, label, spot_type, spot_number,
	x1, y1, x2, y2, alt_views, created_by, created_at`

// CreateSpot inserts a spot, reserving the next spot number of its space
// in the same transaction. The spot's rectangle must be valid.
func (db *DB) CreateSpot(spot *Spot) error {
	if err := spot.Rect.Validate(); err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return mapErr(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := createSpotTx(tx, spot); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err, "failed to commit spot")
	}
	return nil
}

// CreateSpotAutoLabel inserts a spot whose label is prefix plus the
// reserved spot number, derived inside the reserving transaction so the
// label always matches the number actually assigned.
func (db *DB) CreateSpotAutoLabel(spot *Spot, prefix string) error {
	if err := spot.Rect.Validate(); err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return mapErr(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	spot.Label = ""
	if err := createSpotLabeledTx(tx, spot, prefix); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err, "failed to commit spot")
	}
	return nil
}

func createSpotTx(tx *sql.Tx, spot *Spot) error {
	return createSpotLabeledTx(tx, spot, "")
}

// createSpotLabeledTx reserves a number and inserts the spot inside tx.
// The number counter only moves forward, so deleted numbers stay
// retired. A non-empty labelPrefix replaces an empty label with
// prefix + number.
func createSpotLabeledTx(tx *sql.Tx, spot *Spot, labelPrefix string) error {
	var number int
	err := tx.QueryRow(
		`UPDATE spaces SET next_spot_number = next_spot_number + 1
		 WHERE id = ? RETURNING next_spot_number - 1`, spot.SpaceID,
	).Scan(&number)
	if err != nil {
		return mapErr(err, "failed to reserve spot number")
	}

	spot.ID = uuid.New().String()
	spot.SpotNumber = number
	if spot.Label == "" && labelPrefix != "" {
		spot.Label = fmt.Sprintf("%s%d", labelPrefix, number)
	}
	if spot.Type == "" {
		spot.Type = SpotTypeParking
	}
	if spot.CreatedBy == "" {
		spot.CreatedBy = "manual"
	}
	views, err := json.Marshal(viewsOrEmpty(spot.AltViews))
	if err != nil {
		return fmt.Errorf("failed to encode alt views: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO spots (id, space_id, camera_id, label, spot_type, spot_number,
			x1, y1, x2, y2, alt_views, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		spot.ID, spot.SpaceID, spot.CameraID, spot.Label, spot.Type, spot.SpotNumber,
		spot.Rect.X1, spot.Rect.Y1, spot.Rect.X2, spot.Rect.Y2, string(views), spot.CreatedBy,
	)
	return mapErr(err, "failed to create spot")
}

// CreateSpots inserts several spots atomically. Either all spots are
// created or none are, and their numbers are consecutive.
func (db *DB) CreateSpots(spots []*Spot) error {
	for _, spot := range spots {
		if err := spot.Rect.Validate(); err != nil {
			return err
		}
	}
	tx, err := db.Begin()
	if err != nil {
		return mapErr(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, spot := range spots {
		if err := createSpotTx(tx, spot); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err, "failed to commit spots")
	}
	return nil
}

// GetSpot retrieves a spot by ID.
func (db *DB) GetSpot(id string) (*Spot, error) {
	row := db.QueryRow(`SELECT `+spotColumns+` FROM spots WHERE id = ?`, id)
	return scanSpot(row)
}

// SpotsBySpace lists a space's spots ordered by spot number.
func (db *DB) SpotsBySpace(spaceID string) ([]Spot, error) {
	return db.querySpots(
		`SELECT `+spotColumns+` FROM spots WHERE space_id = ? ORDER BY spot_number`, spaceID)
}

// SpotsByCamera lists spots whose primary view is on the camera.
func (db *DB) SpotsByCamera(cameraID string) ([]Spot, error) {
	return db.querySpots(
		`SELECT `+spotColumns+` FROM spots WHERE camera_id = ? ORDER BY spot_number`, cameraID)
}

// AllSpots lists every spot across all spaces.
func (db *DB) AllSpots() ([]Spot, error) {
	return db.querySpots(`SELECT ` + spotColumns + ` FROM spots ORDER BY space_id, spot_number`)
}

func (db *DB) querySpots(query string, args ...interface{}) ([]Spot, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, mapErr(err, "failed to list spots")
	}
	defer rows.Close()

	var spots []Spot
	for rows.Next() {
		spot, err := scanSpot(rows)
		if err != nil {
			return nil, err
		}
		spots = append(spots, *spot)
	}
	return spots, mapErr(rows.Err(), "failed to list spots")
}

// UpdateSpot updates the spot's label, type, rectangle and alt views.
// The spot number and owning space never change.
func (db *DB) UpdateSpot(spot *Spot) error {
	if err := spot.Rect.Validate(); err != nil {
		return err
	}
	views, err := json.Marshal(viewsOrEmpty(spot.AltViews))
	if err != nil {
		return fmt.Errorf("failed to encode alt views: %w", err)
	}
	res, err := db.Exec(
		`UPDATE spots SET label = ?, spot_type = ?, camera_id = ?,
			x1 = ?, y1 = ?, x2 = ?, y2 = ?, alt_views = ?
		 WHERE id = ?`,
		spot.Label, spot.Type, spot.CameraID,
		spot.Rect.X1, spot.Rect.Y1, spot.Rect.X2, spot.Rect.Y2, string(views), spot.ID,
	)
	if err != nil {
		return mapErr(err, "failed to update spot")
	}
	return requireRow(res, "spot %s", spot.ID)
}

// DeleteSpot removes a spot. Its number is not returned to the space.
func (db *DB) DeleteSpot(id string) error {
	res, err := db.Exec(`DELETE FROM spots WHERE id = ?`, id)
	if err != nil {
		return mapErr(err, "failed to delete spot")
	}
	return requireRow(res, "spot %s", id)
}

func scanSpot(row rowScanner) (*Spot, error) {
	var spot Spot
	var views string
	err := row.Scan(
		&spot.ID, &spot.SpaceID, &spot.CameraID, &spot.Label, &spot.Type, &spot.SpotNumber,
		&spot.Rect.X1, &spot.Rect.Y1, &spot.Rect.X2, &spot.Rect.Y2,
		&views, &spot.CreatedBy, &spot.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err, "failed to read spot")
	}
	if err := json.Unmarshal([]byte(views), &spot.AltViews); err != nil {
		return nil, fmt.Errorf("failed to decode alt views: %w", err)
	}
	return &spot, nil
}

func viewsOrEmpty(views []SpotView) []SpotView {
	if views == nil {
		return []SpotView{}
	}
	return views
}
