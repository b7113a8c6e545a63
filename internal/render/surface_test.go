package render_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen-backend/internal/models"
	"certgen-backend/internal/render"
)

func TestFormatForSource(t *testing.T) {
	tests := []struct {
		mime    string
		pdf     bool
		outMime string
		ext     string
	}{
		{"application/pdf", true, "application/pdf", "pdf"},
		{"image/png", false, "image/png", "png"},
		{"image/jpeg", false, "image/jpeg", "jpg"},
		{"image/jpg", false, "image/jpeg", "jpg"},
		{"image/webp", false, "image/png", "png"},
		{"application/octet-stream", false, "image/jpeg", "jpg"},
		{"", false, "image/jpeg", "jpg"},
	}

	for _, tt := range tests {
		got := render.FormatForSource(tt.mime)
		assert.Equal(t, tt.pdf, got.PDF, "mime %q", tt.mime)
		assert.Equal(t, tt.outMime, got.MimeType, "mime %q", tt.mime)
		assert.Equal(t, tt.ext, got.Extension, "mime %q", tt.mime)
	}
}

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func textField(key string, x, y, w, h float64, style string) models.Field {
	return models.Field{
		Key:        key,
		Type:       models.FieldTypeText,
		PageNumber: 1,
		X:          x,
		Y:          y,
		Width:      w,
		Height:     h,
		Style:      json.RawMessage(style),
	}
}

func TestImageSurface_DrawsText(t *testing.T) {
	source := whitePNG(t, 400, 200)
	format := render.FormatForSource("image/png")

	surf, err := render.NewSurface(source, format, 1)
	require.NoError(t, err)

	field := textField("recipient_name", 50, 80, 300, 40, `{"fontSize":24,"color":"#000000","textAlign":"center"}`)
	err = render.RenderField(surf, field, render.FieldInput{
		Row:     map[string]string{"Name": "Ada Lovelace"},
		Mapping: map[string]string{"recipient_name": "Name"},
	})
	require.NoError(t, err)

	out, mime, ext, err := surf.Output()
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "png", ext)

	rendered, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 400, rendered.Bounds().Dx())
	assert.Equal(t, 200, rendered.Bounds().Dy())

	// Text must have darkened pixels somewhere in the field band.
	darkened := false
	for y := 80; y < 120 && !darkened; y++ {
		for x := 50; x < 350; x++ {
			r, g, b, _ := rendered.At(x, y).RGBA()
			if r < 0x8000 && g < 0x8000 && b < 0x8000 {
				darkened = true
				break
			}
		}
	}
	assert.True(t, darkened, "expected text pixels in the field band")
}

func TestImageSurface_MissingMappingSkipsField(t *testing.T) {
	source := whitePNG(t, 100, 100)
	format := render.FormatForSource("image/png")

	surf, err := render.NewSurface(source, format, 1)
	require.NoError(t, err)

	field := textField("unmapped", 10, 10, 80, 20, `{}`)
	err = render.RenderField(surf, field, render.FieldInput{
		Row:     map[string]string{"Name": "Ada"},
		Mapping: map[string]string{},
	})
	require.NoError(t, err)

	out, _, _, err := surf.Output()
	require.NoError(t, err)

	rendered, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			r, g, b, _ := rendered.At(x, y).RGBA()
			require.Equal(t, uint32(0xffff), r, "pixel (%d,%d)", x, y)
			require.Equal(t, uint32(0xffff), g, "pixel (%d,%d)", x, y)
			require.Equal(t, uint32(0xffff), b, "pixel (%d,%d)", x, y)
		}
	}
}

func TestImageSurface_QRSkippedWhenDisabled(t *testing.T) {
	source := whitePNG(t, 200, 200)
	format := render.FormatForSource("image/png")

	surf, err := render.NewSurface(source, format, 1)
	require.NoError(t, err)

	field := models.Field{
		Key:        "qr",
		Type:       models.FieldTypeQR,
		PageNumber: 1,
		X:          10, Y: 10, Width: 100, Height: 100,
		Style: json.RawMessage(`{}`),
	}
	err = render.RenderField(surf, field, render.FieldInput{
		IncludeQR: false,
		Token:     "some-token",
	})
	require.NoError(t, err)

	first, _, _, err := surf.Output()
	require.NoError(t, err)

	// With QR enabled the same field draws modules.
	surf2, err := render.NewSurface(source, format, 1)
	require.NoError(t, err)
	err = render.RenderField(surf2, field, render.FieldInput{
		IncludeQR:     true,
		Token:         "some-token",
		VerifyBaseURL: "https://certs.example.com",
	})
	require.NoError(t, err)
	second, _, _, err := surf2.Output()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestImageSurface_DeterministicOutput(t *testing.T) {
	source := whitePNG(t, 300, 150)
	format := render.FormatForSource("image/png")
	field := textField("recipient_name", 20, 40, 260, 30, `{"fontSize":18}`)
	input := render.FieldInput{
		Row:     map[string]string{"Name": "Grace Hopper"},
		Mapping: map[string]string{"recipient_name": "Name"},
	}

	renderOnce := func() []byte {
		surf, err := render.NewSurface(source, format, 1)
		require.NoError(t, err)
		require.NoError(t, render.RenderField(surf, field, input))
		out, _, _, err := surf.Output()
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, renderOnce(), renderOnce())
}

func TestImageSurface_RejectsPageBeyondOne(t *testing.T) {
	source := whitePNG(t, 50, 50)
	surf, err := render.NewSurface(source, render.FormatForSource("image/png"), 1)
	require.NoError(t, err)

	field := textField("x", 0, 0, 10, 10, `{}`)
	field.PageNumber = 2
	err = render.RenderField(surf, field, render.FieldInput{
		Row:     map[string]string{"Name": "Ada"},
		Mapping: map[string]string{"x": "Name"},
	})
	assert.Error(t, err)
}

func sourcePDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.Text(50, 50, "template artwork")
	}
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func TestPDFSurface_DrawsOntoImportedPages(t *testing.T) {
	source := sourcePDF(t, 2)
	format := render.FormatForSource("application/pdf")

	surf, err := render.NewSurface(source, format, 2)
	require.NoError(t, err)

	field := textField("recipient_name", 100, 300, 400, 40, `{"fontSize":20,"textAlign":"center"}`)
	field.PageNumber = 2
	err = render.RenderField(surf, field, render.FieldInput{
		Row:     map[string]string{"Name": "Ada Lovelace"},
		Mapping: map[string]string{"recipient_name": "Name"},
	})
	require.NoError(t, err)

	out, mime, ext, err := surf.Output()
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mime)
	assert.Equal(t, "pdf", ext)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestPDFSurface_DeterministicOutput(t *testing.T) {
	source := sourcePDF(t, 1)
	format := render.FormatForSource("application/pdf")
	field := textField("recipient_name", 100, 300, 400, 40, `{"fontSize":20,"textAlign":"center"}`)
	input := render.FieldInput{
		Row:     map[string]string{"Name": "Grace Hopper"},
		Mapping: map[string]string{"recipient_name": "Name"},
	}

	renderOnce := func() []byte {
		surf, err := render.NewSurface(source, format, 1)
		require.NoError(t, err)
		require.NoError(t, render.RenderField(surf, field, input))
		out, _, _, err := surf.Output()
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, renderOnce(), renderOnce())
}

func TestPDFSurface_CorruptSourceFailsCleanly(t *testing.T) {
	_, err := render.NewSurface([]byte("not a pdf at all"), render.FormatForSource("application/pdf"), 1)
	assert.Error(t, err)
}

func TestPDFSurface_RejectsPageOutOfRange(t *testing.T) {
	source := sourcePDF(t, 1)
	surf, err := render.NewSurface(source, render.FormatForSource("application/pdf"), 1)
	require.NoError(t, err)

	field := textField("x", 0, 0, 10, 10, `{}`)
	field.PageNumber = 3
	err = render.RenderField(surf, field, render.FieldInput{
		Row:     map[string]string{"Name": "Ada"},
		Mapping: map[string]string{"x": "Name"},
	})
	assert.Error(t, err)
}
