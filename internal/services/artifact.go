package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"certgen-backend/internal/models"
	"certgen-backend/internal/render"
)

const maxFilenameLen = 60

// builtArtifact is one recipient's rendered output plus the secrets and
// digests derived alongside it. The plaintext Token is returned to the
// caller once and never persisted; only TokenHash is stored.
type builtArtifact struct {
	Bytes     []byte
	MimeType  string
	Extension string
	Token     string
	TokenHash string
	Checksum  string
	Filename  string
}

type buildInput struct {
	Source        []byte
	Format        render.Format
	PageCount     int
	Fields        []models.Field
	Mapping       map[string]string
	Row           map[string]string
	IncludeQR     bool
	VerifyBaseURL string
	DisplayName   string
}

// buildArtifact renders one recipient's certificate. Failures, including
// panics out of the PDF importer, come back as errors so the orchestrator
// can isolate them to this item.
func buildArtifact(in buildInput) (built *builtArtifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			built = nil
			err = fmt.Errorf("rendering panicked: %v", r)
		}
	}()

	// Every certificate gets a verification token, QR or not; the QR
	// only decides whether the token is printed onto the surface.
	token, tokenHash, err := newVerificationToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification token: %w", err)
	}

	surface, err := render.NewSurface(in.Source, in.Format, in.PageCount)
	if err != nil {
		return nil, err
	}

	fieldInput := render.FieldInput{
		Row:           in.Row,
		Mapping:       in.Mapping,
		IncludeQR:     in.IncludeQR,
		Token:         token,
		VerifyBaseURL: in.VerifyBaseURL,
	}
	for _, field := range in.Fields {
		if err := render.RenderField(surface, field, fieldInput); err != nil {
			return nil, fmt.Errorf("failed to render field %q: %w", field.Key, err)
		}
	}

	data, mimeType, ext, err := surface.Output()
	if err != nil {
		return nil, err
	}

	return &builtArtifact{
		Bytes:     data,
		MimeType:  mimeType,
		Extension: ext,
		Token:     token,
		TokenHash: tokenHash,
		Checksum:  checksumSHA256(data),
		Filename:  sanitizeName(in.DisplayName),
	}, nil
}

// newVerificationToken returns an unguessable URL-safe token and its
// SHA-256 hex digest.
func newVerificationToken() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	return token, HashToken(token), nil
}

// HashToken is the persisted form of a verification token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func checksumSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sanitizeName turns a display name into a filesystem-safe lowercase
// token: keep [a-z0-9_-], map spaces to underscores, collapse repeated
// separators, cap the length.
func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder
	prevSep := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevSep = false
		case r == '_' || r == '-':
			if !prevSep {
				b.WriteRune(r)
			}
			prevSep = true
		case r == ' ':
			if !prevSep {
				b.WriteByte('_')
			}
			prevSep = true
		}
	}

	out := strings.Trim(b.String(), "_-")
	if len(out) > maxFilenameLen {
		out = strings.Trim(out[:maxFilenameLen], "_-")
	}
	if out == "" {
		out = "certificate"
	}
	return out
}
