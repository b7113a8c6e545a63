package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	_ "image/gif"

	_ "golang.org/x/image/webp"
)

// imageSurface draws fields directly onto a copy of the template's source
// image. Field coordinates are in source pixel space. Always one page.
type imageSurface struct {
	img    *image.RGBA
	format Format
}

func newImageSurface(source []byte, format Format) (Surface, error) {
	src, _, err := image.Decode(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image: %w", err)
	}

	bounds := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)

	return &imageSurface{img: rgba, format: format}, nil
}

func (s *imageSurface) SetPage(n int) error {
	if n != 1 {
		return pageRangeError(n, 1)
	}
	return nil
}

func (s *imageSurface) DrawText(op TextOp) error {
	face, err := newFace(op.Face, op.Size)
	if err != nil {
		return err
	}
	defer face.Close()

	drawer := font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(color.RGBA{R: op.Color.R, G: op.Color.G, B: op.Color.B, A: 255}),
		Face: face,
	}

	textWidth := float64(drawer.MeasureString(op.Text)) / 64
	x := alignX(op.Align, op.X, op.Width, textWidth)

	metrics := face.Metrics()
	ascent := float64(metrics.Ascent) / 64
	descent := float64(metrics.Descent) / 64

	band := op.Height
	if band <= 0 {
		band = ascent + descent
	}
	baseline := op.Y + (band+ascent-descent)/2

	drawer.Dot = fixed.Point26_6{
		X: fixed.Int26_6(x * 64),
		Y: fixed.Int26_6(baseline * 64),
	}
	drawer.DrawString(op.Text)
	return nil
}

func (s *imageSurface) DrawImagePNG(pngBytes []byte, x, y, w, h float64) error {
	overlay, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return fmt.Errorf("failed to decode overlay png: %w", err)
	}

	target := image.Rect(int(x), int(y), int(x+w), int(y+h))
	xdraw.CatmullRom.Scale(s.img, target, overlay, overlay.Bounds(), xdraw.Over, nil)
	return nil
}

func (s *imageSurface) Output() ([]byte, string, string, error) {
	var buf bytes.Buffer
	switch s.format.ImageType {
	case "png":
		if err := png.Encode(&buf, s.img); err != nil {
			return nil, "", "", fmt.Errorf("failed to encode png: %w", err)
		}
	default:
		if err := jpeg.Encode(&buf, s.img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, "", "", fmt.Errorf("failed to encode jpeg: %w", err)
		}
	}
	return buf.Bytes(), s.format.MimeType, s.format.Extension, nil
}
