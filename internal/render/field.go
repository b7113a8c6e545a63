package render

import (
	"fmt"
	"math"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"certgen-backend/internal/expiry"
	"certgen-backend/internal/models"
)

const defaultQRSize = 128.0

// FieldInput carries the per-recipient context a field draw needs.
type FieldInput struct {
	Row       map[string]string
	Mapping   map[string]string
	IncludeQR bool
	// Token is the recipient's plaintext verification token; QR fields
	// are skipped when it is empty.
	Token string
	// VerifyBaseURL is the application base the /verify/{token} payload
	// is built from.
	VerifyBaseURL string
}

// RenderField draws one field onto the surface. Missing mappings and
// empty values skip the field; a date value that fails to parse is drawn
// as its raw string. Only structural problems (bad page, font failure)
// return an error.
func RenderField(s Surface, f models.Field, in FieldInput) error {
	if err := s.SetPage(f.PageNumber); err != nil {
		return err
	}

	if f.Type == models.FieldTypeQR {
		return renderQR(s, f, in)
	}
	return renderText(s, f, in)
}

func renderQR(s Surface, f models.Field, in FieldInput) error {
	if !in.IncludeQR || in.Token == "" {
		return nil
	}

	payload := fmt.Sprintf("%s/verify/%s", strings.TrimRight(in.VerifyBaseURL, "/"), in.Token)

	w, h := f.Width, f.Height
	if w <= 0 {
		w = defaultQRSize
	}
	if h <= 0 {
		h = defaultQRSize
	}
	size := int(math.Max(w, h))

	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return fmt.Errorf("failed to generate qr code: %w", err)
	}

	return s.DrawImagePNG(png, f.X, f.Y, w, h)
}

func renderText(s Surface, f models.Field, in FieldInput) error {
	column, ok := in.Mapping[f.Key]
	if !ok {
		return nil
	}
	raw, ok := in.Row[column]
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	style, err := models.ParseStyle(f.Style)
	if err != nil {
		return err
	}

	if f.Type == models.FieldTypeDate {
		if t, parsed := expiry.ParseDate(raw); parsed {
			raw = t.Format(dateLayout(style.DateFormat))
		}
		// Unparseable dates fall back to the raw string unmodified.
	}

	text := style.Prefix + raw + style.Suffix

	size := style.FontSize
	if size <= 0 {
		size = defaultFontSize
	}

	return s.DrawText(TextOp{
		Text:   text,
		X:      f.X,
		Y:      f.Y,
		Width:  f.Width,
		Height: f.Height,
		Face:   resolveFace(style.FontFamily, style.FontWeight),
		Size:   size,
		Color:  ParseHexColor(style.Color),
		Align:  style.TextAlign,
	})
}
