package render

import (
	"fmt"
	"image/color"
	"strings"
)

// ParseHexColor 解析 #RRGGBB 或 #RRGGBBAA
func ParseHexColor(s string) (color.RGBA, error) {
	c := color.RGBA{A: 255}
	hex := strings.TrimPrefix(s, "#")
	var err error
	switch len(hex) {
	case 6:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x", &c.R, &c.G, &c.B)
	case 8:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A)
	default:
		return c, fmt.Errorf("invalid color %q", s)
	}
	if err != nil {
		return c, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}
