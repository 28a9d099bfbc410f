package lifecycle

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/tessera/errors"
	"github.com/teranos/tessera/stage"
	"github.com/teranos/tessera/storage"
	"github.com/teranos/tessera/transform"
)

// VersionMetadata is descriptive only. Nothing in the engine reads it back to
// make a decision.
type VersionMetadata struct {
	Description   string         `json:"description"`
	Tags          []string       `json:"tags"`
	RowCount      *int64         `json:"row_count"`
	ColumnCount   *int           `json:"column_count"`
	FileSizeBytes *int64         `json:"file_size_bytes"`
	CreatedBy     string         `json:"created_by"`
	CustomFields  map[string]any `json:"custom_fields"`
}

func newMetadata(description string) VersionMetadata {
	return VersionMetadata{
		Description:  description,
		Tags:         []string{},
		CreatedBy:    "system",
		CustomFields: map[string]any{},
	}
}

// DatasetVersion is an immutable snapshot descriptor. ParentID is nil only
// for the dataset's raw root.
type DatasetVersion struct {
	ID           string               `json:"id"`
	DatasetID    string               `json:"dataset_id"`
	ParentID     *string              `json:"parent_id"`
	Stage        stage.Stage          `json:"stage"`
	Pipeline     transform.Pipeline   `json:"pipeline"`
	DataLocation storage.DataLocation `json:"data_location"`
	Metadata     VersionMetadata      `json:"metadata"`
	CreatedAt    time.Time            `json:"created_at"`
}

func newRawVersion(datasetID string, loc storage.DataLocation) DatasetVersion {
	return DatasetVersion{
		ID:           uuid.NewString(),
		DatasetID:    datasetID,
		Stage:        stage.Raw,
		Pipeline:     transform.Empty(),
		DataLocation: loc,
		Metadata:     newMetadata("Raw ingestion"),
		CreatedAt:    now(),
	}
}

func newDerivedVersion(id, datasetID, parentID string, st stage.Stage, p transform.Pipeline, loc storage.DataLocation) DatasetVersion {
	if p.Transforms == nil {
		p = transform.Empty()
	}
	return DatasetVersion{
		ID:           id,
		DatasetID:    datasetID,
		ParentID:     &parentID,
		Stage:        st,
		Pipeline:     p,
		DataLocation: loc,
		Metadata:     newMetadata("Stage: " + st.String()),
		CreatedAt:    now(),
	}
}

// now is UTC without a monotonic reading, so a version equals itself after a
// JSON round trip.
func now() time.Time {
	return time.Now().UTC()
}

// IsRoot reports whether v has no parent.
func (v DatasetVersion) IsRoot() bool { return v.ParentID == nil }

// Parent returns the parent id, or "" for the root.
func (v DatasetVersion) Parent() string {
	if v.ParentID == nil {
		return ""
	}
	return *v.ParentID
}

// ShortID is the first eight characters of the id, for display.
func (v DatasetVersion) ShortID() string {
	if len(v.ID) > 8 {
		return v.ID[:8]
	}
	return v.ID
}

// JSON returns the indented metadata document for v.
func (v DatasetVersion) JSON() ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.WrapSerialization(err, "version "+v.ID)
	}
	return b, nil
}

// VersionFromJSON decodes a metadata document.
func VersionFromJSON(data []byte) (DatasetVersion, error) {
	var v DatasetVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return DatasetVersion{}, errors.WrapSerialization(err, "version")
	}
	return v, nil
}
