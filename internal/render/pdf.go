package render

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
)

// pdfSurface overlays fields on top of the template's source PDF. Every
// source page is imported as a page template so the original artwork is
// preserved underneath the drawn fields.
//
// Field coordinates are top-left-origin; gofpdf works in the same space
// and performs the flip to PDF's bottom-left coordinates itself.
type pdfSurface struct {
	pdf       *gofpdf.Fpdf
	pageCount int
	fonts     map[string]bool
	imageSeq  int
}

func newPDFSurface(source []byte, pageCount int) (surf Surface, err error) {
	// gofpdi panics on malformed input; a corrupt template must surface
	// as an item-local error, not kill the batch.
	defer func() {
		if r := recover(); r != nil {
			surf = nil
			err = fmt.Errorf("failed to import source pdf: %v", r)
		}
	}()

	if pageCount < 1 {
		return nil, fmt.Errorf("source pdf has no pages")
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	// Pin the embedded timestamps so re-rendering the same inputs yields
	// byte-identical output.
	pdf.SetCreationDate(time.Unix(0, 0))
	importer := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(source))

	for page := 1; page <= pageCount; page++ {
		tpl := importer.ImportPageFromStream(pdf, &rs, page, "/MediaBox")
		sizes := importer.GetPageSizes()
		w := sizes[page]["/MediaBox"]["w"]
		h := sizes[page]["/MediaBox"]["h"]
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("source pdf page %d has invalid media box", page)
		}
		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: w, Ht: h})
		importer.UseImportedTemplate(pdf, tpl, 0, 0, w, h)
	}

	if pdf.Err() {
		return nil, fmt.Errorf("failed to build pdf surface: %w", pdf.Error())
	}

	return &pdfSurface{
		pdf:       pdf,
		pageCount: pageCount,
		fonts:     make(map[string]bool),
	}, nil
}

func (s *pdfSurface) SetPage(n int) error {
	if n < 1 || n > s.pageCount {
		return pageRangeError(n, s.pageCount)
	}
	s.pdf.SetPage(n)
	return nil
}

func (s *pdfSurface) ensureFont(face fontFace) {
	if s.fonts[face.Name] {
		return
	}
	s.pdf.AddUTF8FontFromBytes(face.Name, "", face.TTF)
	s.fonts[face.Name] = true
}

func (s *pdfSurface) DrawText(op TextOp) error {
	s.ensureFont(op.Face)
	s.pdf.SetFont(op.Face.Name, "", op.Size)
	s.pdf.SetTextColor(int(op.Color.R), int(op.Color.G), int(op.Color.B))

	textWidth := s.pdf.GetStringWidth(op.Text)
	x := alignX(op.Align, op.X, op.Width, textWidth)

	band := op.Height
	if band <= 0 {
		band = op.Size * 1.2
	}
	// Vertically center on the field band; 0.35em approximates the
	// distance from the vertical midpoint down to the baseline.
	baseline := op.Y + band/2 + op.Size*0.35

	s.pdf.Text(x, baseline, op.Text)

	if s.pdf.Err() {
		return fmt.Errorf("failed to draw text: %w", s.pdf.Error())
	}
	return nil
}

func (s *pdfSurface) DrawImagePNG(png []byte, x, y, w, h float64) error {
	s.imageSeq++
	name := fmt.Sprintf("field-img-%d", s.imageSeq)
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	s.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
	s.pdf.ImageOptions(name, x, y, w, h, false, opts, 0, "")

	if s.pdf.Err() {
		return fmt.Errorf("failed to draw image: %w", s.pdf.Error())
	}
	return nil
}

func (s *pdfSurface) Output() ([]byte, string, string, error) {
	if s.pdf.Err() {
		return nil, "", "", fmt.Errorf("pdf surface in error state: %w", s.pdf.Error())
	}
	var buf bytes.Buffer
	if err := s.pdf.Output(&buf); err != nil {
		return nil, "", "", fmt.Errorf("failed to serialize pdf: %w", err)
	}
	// The importer walks maps while emitting copied objects, so the raw
	// serialization is not reproducible; canonicalize it so identical
	// inputs yield identical bytes and checksums.
	out, err := normalizePDF(buf.Bytes())
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to normalize pdf: %w", err)
	}
	return out, "application/pdf", "pdf", nil
}
