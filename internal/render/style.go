package render

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	AlignLeft   = "left"
	AlignCenter = "center"
	AlignRight  = "right"
)

const defaultFontSize = 16.0

type RGB struct {
	R, G, B uint8
}

// ParseHexColor converts a stored hex color ("#1a2b3c", "1a2b3c" or the
// short "#abc" form) to RGB. Unparseable input yields black.
func ParseHexColor(s string) RGB {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return RGB{}
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// alignX computes the horizontal draw position for text of a measured
// width within a field box.
func alignX(align string, fieldX, fieldWidth, textWidth float64) float64 {
	switch align {
	case AlignCenter:
		return fieldX + (fieldWidth-textWidth)/2
	case AlignRight:
		return fieldX + fieldWidth - textWidth
	default:
		return fieldX
	}
}

// dateLayout converts the style bag's date format tokens (DD/MM/YYYY
// style, as stored by the template editor) to a Go time layout.
func dateLayout(format string) string {
	if strings.TrimSpace(format) == "" {
		return "January 2, 2006"
	}
	replacer := strings.NewReplacer(
		"YYYY", "2006",
		"YY", "06",
		"MMMM", "January",
		"MMM", "Jan",
		"MM", "01",
		"DD", "02",
		"D", "2",
	)
	return replacer.Replace(format)
}

// ValidateAlign rejects alignment values other than left, center, right
// or empty.
func ValidateAlign(align string) error {
	switch align {
	case "", AlignLeft, AlignCenter, AlignRight:
		return nil
	}
	return fmt.Errorf("unknown text alignment %q", align)
}
