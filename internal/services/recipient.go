package services

import "database/sql"

// Recognized header synonyms, checked in priority order with exact
// case-sensitive matching. This is a best-effort convenience: an explicit
// field mapping always takes precedence for rendering; these only feed
// the recipient record's display columns.
var (
	nameHeaders = []string{
		"Name", "Full Name", "FullName", "Recipient Name", "Student Name",
		"Participant Name", "name", "full_name", "recipient_name",
	}
	emailHeaders = []string{
		"Email", "Email Address", "E-mail", "email", "email_address", "e_mail",
	}
	phoneHeaders = []string{
		"Phone", "Phone Number", "Mobile", "Mobile Number",
		"phone", "phone_number", "mobile",
	}
)

// extractIdentity sniffs a recipient row for display name, email and
// phone. Unmatched name falls back to "Unknown"; email and phone stay
// null.
func extractIdentity(row map[string]string) (string, sql.NullString, sql.NullString) {
	name := "Unknown"
	if v, ok := firstMatch(row, nameHeaders); ok {
		name = v
	}

	var email, phone sql.NullString
	if v, ok := firstMatch(row, emailHeaders); ok {
		email = sql.NullString{String: v, Valid: true}
	}
	if v, ok := firstMatch(row, phoneHeaders); ok {
		phone = sql.NullString{String: v, Valid: true}
	}

	return name, email, phone
}

func firstMatch(row map[string]string, headers []string) (string, bool) {
	for _, header := range headers {
		if v, ok := row[header]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}
