// Package expiry derives certificate expiry timestamps from the batch
// options, a fixed set of relative offsets, or a fallback scan of the
// recipient row.
package expiry

import (
	"strings"
	"time"
)

const (
	TypeCustom    = "custom"
	TypeNever     = "never"
	TypeDay       = "day"
	TypeWeek      = "week"
	TypeMonth     = "month"
	TypeYear      = "year"
	TypeFiveYears = "5_years"
)

// expiryHeaders are the recognized expiry-like column names, checked in
// order against a normalized (lowercased, spacing-stripped) header.
var expiryHeaders = []string{
	"expirydate",
	"expiry",
	"expirationdate",
	"expiresat",
	"validuntil",
	"validto",
}

// dateLayouts are tried in order when parsing free-form date cells.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	"02/01/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// Compute resolves the expires-at timestamp for one certificate.
// Priority: custom date, never (nil), relative offset from issuedAt,
// then a scan of the recipient row for an expiry-like column.
func Compute(expiryType string, issuedAt time.Time, customExpiry *time.Time, row map[string]string) *time.Time {
	switch expiryType {
	case TypeCustom:
		if customExpiry != nil {
			t := *customExpiry
			return &t
		}
		// Presence is validated upstream; a missing custom date falls
		// through to the row scan rather than inventing an offset.
	case TypeNever:
		return nil
	case TypeDay:
		t := issuedAt.AddDate(0, 0, 1)
		return &t
	case TypeWeek:
		t := issuedAt.AddDate(0, 0, 7)
		return &t
	case TypeMonth:
		t := issuedAt.AddDate(0, 1, 0)
		return &t
	case TypeYear, "":
		t := issuedAt.AddDate(1, 0, 0)
		return &t
	case TypeFiveYears:
		t := issuedAt.AddDate(5, 0, 0)
		return &t
	}

	return scanRow(row)
}

// scanRow looks for the first recognized expiry-like column whose value
// parses as a date.
func scanRow(row map[string]string) *time.Time {
	if len(row) == 0 {
		return nil
	}
	for _, want := range expiryHeaders {
		for header, value := range row {
			if normalizeHeader(header) != want {
				continue
			}
			if t, ok := ParseDate(value); ok {
				return &t
			}
		}
	}
	return nil
}

// ParseDate tries the known layouts against a trimmed cell value.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeHeader(header string) string {
	header = strings.ToLower(header)
	header = strings.ReplaceAll(header, " ", "")
	header = strings.ReplaceAll(header, "_", "")
	header = strings.ReplaceAll(header, "-", "")
	return header
}
