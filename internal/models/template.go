package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	FieldTypeText = "text"
	FieldTypeDate = "date"
	FieldTypeQR   = "qr"
)

// MaxStyleBytes caps the serialized style payload per field.
const MaxStyleBytes = 8 * 1024

type Template struct {
	ID             uuid.UUID
	OrgID          uuid.UUID
	Title          string
	CategoryID     sql.NullString
	SubcategoryID  sql.NullString
	LatestVersionID uuid.NullUUID
	IsDeleted      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TemplateVersion is immutable once created. The template's latest pointer
// may move, existing versions never change.
type TemplateVersion struct {
	ID               uuid.UUID
	TemplateID       uuid.UUID
	VersionNumber    int
	SourceFileID     uuid.UUID
	PageCount        int
	PageMetadata     json.RawMessage
	PreviewArtifactID uuid.NullUUID
	CreatedAt        time.Time
}

type Field struct {
	ID         uuid.UUID
	VersionID  uuid.UUID
	Key        string
	Label      string
	Type       string
	PageNumber int
	X          float64
	Y          float64
	Width      float64
	Height     float64
	Style      json.RawMessage
	Required   bool
	CreatedAt  time.Time
}

// FieldStyle is the typed view of a field's style bag. Unknown JSON keys
// are ignored on decode for forward compatibility.
type FieldStyle struct {
	FontFamily string  `json:"fontFamily,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontWeight string  `json:"fontWeight,omitempty"`
	Color      string  `json:"color,omitempty"`
	TextAlign  string  `json:"textAlign,omitempty"`
	Prefix     string  `json:"prefix,omitempty"`
	Suffix     string  `json:"suffix,omitempty"`
	DateFormat string  `json:"dateFormat,omitempty"`
}

// ParseStyle decodes a field's raw style bag, enforcing the size cap and
// falling back to zero values when no style is stored.
func ParseStyle(raw json.RawMessage) (FieldStyle, error) {
	var style FieldStyle
	if len(raw) == 0 {
		return style, nil
	}
	if len(raw) > MaxStyleBytes {
		return style, fmt.Errorf("style payload is %d bytes, exceeds %d byte limit", len(raw), MaxStyleBytes)
	}
	if err := json.Unmarshal(raw, &style); err != nil {
		return style, fmt.Errorf("failed to decode style: %w", err)
	}
	return style, nil
}

// Artifact is an opaque stored binary: rendered certificate, preview,
// source file or zip bundle. Immutable once written.
type Artifact struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	StoragePath string
	MimeType    string
	FileSize    int64
	Checksum    string
	CreatedAt   time.Time
}
