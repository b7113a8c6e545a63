package models

type GenerateRequest struct {
	// Recipients is one map per input row, header name → cell value.
	Recipients []map[string]string `json:"recipients"`
	// FieldMapping maps field keys to recipient row column names.
	FieldMapping map[string]string `json:"field_mapping"`
	Options      GenerateOptions   `json:"options"`
}

type GenerateOptions struct {
	IncludeQR bool `json:"include_qr"`
	// ExpiryType is one of custom, never, day, week, month, year, 5_years.
	ExpiryType       string `json:"expiry_type,omitempty"`
	CustomExpiryDate string `json:"custom_expiry_date,omitempty" example:"2030-06-01"`
	// IssueDate overrides "now" as the issued-at timestamp (RFC 3339 or YYYY-MM-DD).
	IssueDate string `json:"issue_date,omitempty"`
}
