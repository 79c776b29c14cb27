package store

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/parkwatch/internal/fault"
)

// Space is a named parking area. Spots belong to exactly one space and a
// space can be observed by several cameras.
type Space struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NextSpotNumber int       `json:"next_spot_number"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateSpace inserts a space, assigning a fresh ID. Spot numbering for
// the space starts at 1.
func (db *DB) CreateSpace(sp *Space) error {
	sp.ID = uuid.New().String()
	if sp.NextSpotNumber == 0 {
		sp.NextSpotNumber = 1
	}
	_, err := db.Exec(
		`INSERT INTO spaces (id, name, next_spot_number) VALUES (?, ?, ?)`,
		sp.ID, sp.Name, sp.NextSpotNumber,
	)
	return mapErr(err, "failed to create space")
}

// GetSpace retrieves a space by ID.
func (db *DB) GetSpace(id string) (*Space, error) {
	var sp Space
	err := db.QueryRow(
		`SELECT id, name, next_spot_number, created_at FROM spaces WHERE id = ?`, id,
	).Scan(&sp.ID, &sp.Name, &sp.NextSpotNumber, &sp.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "failed to read space")
	}
	return &sp, nil
}

// ListSpaces returns all spaces ordered by creation time.
func (db *DB) ListSpaces() ([]Space, error) {
	rows, err := db.Query(
		`SELECT id, name, next_spot_number, created_at FROM spaces ORDER BY created_at, id`)
	if err != nil {
		return nil, mapErr(err, "failed to list spaces")
	}
	defer rows.Close()

	var spaces []Space
	for rows.Next() {
		var sp Space
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.NextSpotNumber, &sp.CreatedAt); err != nil {
			return nil, mapErr(err, "failed to read space")
		}
		spaces = append(spaces, sp)
	}
	return spaces, mapErr(rows.Err(), "failed to list spaces")
}

// RenameSpace updates the space name.
func (db *DB) RenameSpace(id, name string) error {
	res, err := db.Exec(`UPDATE spaces SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return mapErr(err, "failed to rename space")
	}
	return requireRow(res, "space %s", id)
}

// DeleteSpace removes a space together with its spots and camera
// assignments. Callers must get explicit confirmation first since this
// destroys the space's entire markup.
func (db *DB) DeleteSpace(id string) error {
	res, err := db.Exec(`DELETE FROM spaces WHERE id = ?`, id)
	if err != nil {
		return mapErr(err, "failed to delete space")
	}
	return requireRow(res, "space %s", id)
}

// AssignCamera links a camera to a space. Assigning an already linked
// camera is a Conflict.
func (db *DB) AssignCamera(spaceID, cameraID string) error {
	if _, err := db.GetSpace(spaceID); err != nil {
		return err
	}
	if _, err := db.GetCamera(cameraID); err != nil {
		return err
	}
	_, err := db.Exec(
		`INSERT INTO space_cameras (space_id, camera_id) VALUES (?, ?)`, spaceID, cameraID)
	if err != nil {
		if isUniqueViolation(err) {
			return fault.Errorf(fault.KindConflict,
				"camera %s already assigned to space %s", cameraID, spaceID)
		}
		return mapErr(err, "failed to assign camera")
	}
	return nil
}

// UnassignCamera removes the link between a camera and a space.
func (db *DB) UnassignCamera(spaceID, cameraID string) error {
	res, err := db.Exec(
		`DELETE FROM space_cameras WHERE space_id = ? AND camera_id = ?`, spaceID, cameraID)
	if err != nil {
		return mapErr(err, "failed to unassign camera")
	}
	return requireRow(res, "assignment of camera %s to space %s", cameraID, spaceID)
}

// SpaceCameras lists the cameras assigned to a space.
func (db *DB) SpaceCameras(spaceID string) ([]Camera, error) {
	rows, err := db.Query(`
		SELECT c.id, c.name, c.source_uri, c.exclusion_zones, c.created_at
		FROM cameras c
		JOIN space_cameras sc ON sc.camera_id = c.id
		WHERE sc.space_id = ?
		ORDER BY c.created_at, c.id`, spaceID)
	if err != nil {
		return nil, mapErr(err, "failed to list space cameras")
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
	return cams, mapErr(rows.Err(), "failed to list space cameras")
}

// CameraInSpace reports whether the camera is assigned to the space.
func (db *DB) CameraInSpace(spaceID, cameraID string) (bool, error) {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM space_cameras WHERE space_id = ? AND camera_id = ?`,
		spaceID, cameraID,
	).Scan(&n)
	if err != nil {
		return false, mapErr(err, "failed to check camera assignment")
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLITE_CONSTRAINT")
}
