package render

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// fontFace identifies one embedded typeface by a stable name plus its
// TTF bytes. The name doubles as the gofpdf font family key.
type fontFace struct {
	Name string
	TTF  []byte
}

var (
	faceRegular    = fontFace{Name: "go-regular", TTF: goregular.TTF}
	faceBold       = fontFace{Name: "go-bold", TTF: gobold.TTF}
	faceItalic     = fontFace{Name: "go-italic", TTF: goitalic.TTF}
	faceBoldItalic = fontFace{Name: "go-bolditalic", TTF: gobolditalic.TTF}
	faceMono       = fontFace{Name: "go-mono", TTF: gomono.TTF}
	faceMonoBold   = fontFace{Name: "go-mono-bold", TTF: gomonobold.TTF}
)

// monoFamilies are the family names that map onto the monospace face.
// Every other recognized (or unknown) family falls back to the default
// sans-serif face.
var monoFamilies = map[string]bool{
	"courier":     true,
	"courier new": true,
	"mono":        true,
	"monospace":   true,
	"consolas":    true,
}

// resolveFace picks the embedded face for a style's font family and weight.
func resolveFace(family, weight string) fontFace {
	family = strings.ToLower(strings.TrimSpace(family))
	weight = strings.ToLower(strings.TrimSpace(weight))

	bold := strings.Contains(weight, "bold") || weight == "600" || weight == "700" || weight == "800" || weight == "900"
	italic := strings.Contains(weight, "italic") || strings.Contains(weight, "oblique")

	if monoFamilies[family] {
		if bold {
			return faceMonoBold
		}
		return faceMono
	}

	switch {
	case bold && italic:
		return faceBoldItalic
	case bold:
		return faceBold
	case italic:
		return faceItalic
	default:
		return faceRegular
	}
}

var (
	sfntMu    sync.Mutex
	sfntCache = map[string]*sfnt.Font{}
)

// parsedFont returns the parsed sfnt font for a face, caching across calls.
func parsedFont(face fontFace) (*sfnt.Font, error) {
	sfntMu.Lock()
	defer sfntMu.Unlock()

	if f, ok := sfntCache[face.Name]; ok {
		return f, nil
	}
	f, err := opentype.Parse(face.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font %s: %w", face.Name, err)
	}
	sfntCache[face.Name] = f
	return f, nil
}

// newFace builds a drawing face at the given size in pixels.
func newFace(face fontFace, size float64) (font.Face, error) {
	f, err := parsedFont(face)
	if err != nil {
		return nil, err
	}
	drawFace, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build face for %s: %w", face.Name, err)
	}
	return drawFace, nil
}
