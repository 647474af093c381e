package domain

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	HueLimit     = 180
	PercentLimit = 100
)

var hexColorPattern = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

// Adjustment is the set of recolor parameters applied to every pixel of an
// image. Hue is in degrees; saturation and brightness are percentages around
// zero; overlay opacity is a percentage.
type Adjustment struct {
	Hue            int    `json:"hue"`
	Saturation     int    `json:"saturation"`
	Brightness     int    `json:"brightness"`
	OverlayColor   string `json:"overlay_color,omitempty"`
	OverlayOpacity int    `json:"overlay_opacity,omitempty"`
}

func (a Adjustment) Validate() error {
	if a.Hue < -HueLimit || a.Hue > HueLimit {
		return fmt.Errorf("hue must be between %d and %d, got %d", -HueLimit, HueLimit, a.Hue)
	}
	if a.Saturation < -PercentLimit || a.Saturation > PercentLimit {
		return fmt.Errorf("saturation must be between %d and %d, got %d", -PercentLimit, PercentLimit, a.Saturation)
	}
	if a.Brightness < -PercentLimit || a.Brightness > PercentLimit {
		return fmt.Errorf("brightness must be between %d and %d, got %d", -PercentLimit, PercentLimit, a.Brightness)
	}
	if a.OverlayOpacity < 0 || a.OverlayOpacity > PercentLimit {
		return fmt.Errorf("overlay_opacity must be between 0 and %d, got %d", PercentLimit, a.OverlayOpacity)
	}
	if color := strings.TrimSpace(a.OverlayColor); color != "" && !hexColorPattern.MatchString(color) {
		return fmt.Errorf("overlay_color must be a #rrggbb hex color, got %q", a.OverlayColor)
	}
	return nil
}

// Clamped pulls every numeric field into its documented range. Overlay color
// is passed through; the pipeline treats an unparseable color as white.
func (a Adjustment) Clamped() Adjustment {
	a.Hue = clamp(a.Hue, -HueLimit, HueLimit)
	a.Saturation = clamp(a.Saturation, -PercentLimit, PercentLimit)
	a.Brightness = clamp(a.Brightness, -PercentLimit, PercentLimit)
	a.OverlayOpacity = clamp(a.OverlayOpacity, 0, PercentLimit)
	return a
}

func (a Adjustment) HasOverlay() bool {
	return strings.TrimSpace(a.OverlayColor) != "" && a.OverlayOpacity > 0
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
