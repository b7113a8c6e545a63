// Package render draws template fields (text and QR codes) onto an output
// surface. A surface is either a PDF built on top of the template's source
// pages or a raster image copied from the template's source image.
package render

import (
	"fmt"
	"strings"
)

// TextOp describes one text draw against a field's box. X/Y are the
// field's top-left corner in template coordinates (origin top-left,
// Y increasing downward); Width/Height form the band the text is aligned
// and vertically centered in.
type TextOp struct {
	Text   string
	X      float64
	Y      float64
	Width  float64
	Height float64
	Face   fontFace
	Size   float64
	Color  RGB
	Align  string
}

// Surface is mutated in place by field draws and serialized once at the
// end of a render pass.
type Surface interface {
	// SetPage selects the 1-based target page for subsequent draws.
	SetPage(n int) error
	DrawText(op TextOp) error
	// DrawImagePNG places a PNG (already encoded) scaled to w x h at the
	// field's top-left position on the current page.
	DrawImagePNG(png []byte, x, y, w, h float64) error
	// Output serializes the surface: bytes, MIME type, file extension.
	Output() ([]byte, string, string, error)
}

// Format is the batch-wide output format decision, made once from the
// template source's MIME type, never per recipient.
type Format struct {
	PDF       bool
	ImageType string // png or jpeg when PDF is false
	MimeType  string
	Extension string
}

// FormatForSource picks the output format. PDF sources stay PDF; image
// sources keep their format, except webp which is re-encoded as PNG
// (Go has no webp encoder); anything unrecognized becomes JPEG.
func FormatForSource(sourceMime string) Format {
	switch strings.ToLower(strings.TrimSpace(sourceMime)) {
	case "application/pdf":
		return Format{PDF: true, MimeType: "application/pdf", Extension: "pdf"}
	case "image/png":
		return Format{ImageType: "png", MimeType: "image/png", Extension: "png"}
	case "image/jpeg", "image/jpg":
		return Format{ImageType: "jpeg", MimeType: "image/jpeg", Extension: "jpg"}
	case "image/webp":
		return Format{ImageType: "png", MimeType: "image/png", Extension: "png"}
	default:
		return Format{ImageType: "jpeg", MimeType: "image/jpeg", Extension: "jpg"}
	}
}

// NewSurface builds a fresh surface over the template source bytes.
// Each recipient gets its own surface; surfaces are not reusable.
func NewSurface(source []byte, format Format, pageCount int) (Surface, error) {
	if format.PDF {
		return newPDFSurface(source, pageCount)
	}
	return newImageSurface(source, format)
}

func pageRangeError(n, pages int) error {
	return fmt.Errorf("page %d out of range, surface has %d page(s)", n, pages)
}
