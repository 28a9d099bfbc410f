// Package catalog is the durable index of datasets and their active version
// pointers. Version membership itself stays on disk next to the artifacts;
// the catalog only remembers which datasets exist and where each one points.
package catalog

import (
	"database/sql"
	"time"

	"github.com/teranos/tessera/db"
	"github.com/teranos/tessera/errors"
)

// Record is one row of the datasets table.
type Record struct {
	ID              string
	Name            string
	RawVersionID    string
	ActiveVersionID string
	CreatedAt       time.Time
}

// Store persists dataset records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already migrated database.
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// PutDataset inserts a dataset record, replacing an existing row with the same id.
func (s *Store) PutDataset(r Record) error {
	query := `
		INSERT INTO datasets (id, name, raw_version_id, active_version_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			raw_version_id = excluded.raw_version_id,
			active_version_id = excluded.active_version_id
	`
	_, err := s.db.Exec(query,
		r.ID,
		r.Name,
		r.RawVersionID,
		r.ActiveVersionID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrapf(db.Classify(err), "failed to save dataset %s", r.ID)
	}
	return nil
}

// SetActiveVersion moves the stored pointer of an existing dataset.
func (s *Store) SetActiveVersion(datasetID, versionID string) error {
	res, err := s.db.Exec(`UPDATE datasets SET active_version_id = ? WHERE id = ?`, versionID, datasetID)
	if err != nil {
		return errors.Wrapf(db.Classify(err), "failed to update active version of dataset %s", datasetID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.NewNotFoundError("dataset %s not in catalog", datasetID)
	}
	return nil
}

// GetDataset loads one record.
func (s *Store) GetDataset(id string) (Record, error) {
	row := s.db.QueryRow(`
		SELECT id, name, raw_version_id, active_version_id, created_at
		FROM datasets
		WHERE id = ?
	`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, errors.NewNotFoundError("dataset %s not in catalog", id)
	}
	return r, err
}

// ListDatasets returns every record, oldest first.
func (s *Store) ListDatasets() ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, name, raw_version_id, active_version_id, created_at
		FROM datasets
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, errors.Wrap(db.Classify(err), "failed to list datasets")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(db.Classify(err), "failed to iterate datasets")
	}
	return records, nil
}

// DeleteDataset forgets a dataset. Its files on disk are left alone.
func (s *Store) DeleteDataset(id string) error {
	if _, err := s.db.Exec(`DELETE FROM datasets WHERE id = ?`, id); err != nil {
		return errors.Wrapf(db.Classify(err), "failed to delete dataset %s", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	var createdAt string
	if err := row.Scan(&r.ID, &r.Name, &r.RawVersionID, &r.ActiveVersionID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, err
		}
		return Record{}, errors.Wrap(db.Classify(err), "failed to scan dataset")
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, errors.Wrapf(err, "failed to parse created_at for dataset %s", r.ID)
	}
	r.CreatedAt = t
	return r, nil
}
