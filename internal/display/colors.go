// Package display renders operation progress and artifact listings on
// a terminal. It is a pure sink: orchestrators publish events, nothing
// in here feeds back into an operation.
package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color names a semantic role, not a concrete ANSI code.
type Color string

const (
	ColorSuccess Color = "success"
	ColorWarning Color = "warning"
	ColorError   Color = "error"
	ColorInfo    Color = "info"
	ColorMuted   Color = "muted"
	ColorBold    Color = "bold"
)

// ColorSystem applies colors when the terminal supports them.
type ColorSystem struct {
	supported bool
	profile   termenv.Profile
	colorMap  map[Color]*color.Color
}

// NewColorSystem creates a color system with terminal detection.
func NewColorSystem() *ColorSystem {
	cs := &ColorSystem{
		supported: detectColorSupport(),
		profile:   termenv.ColorProfile(),
		colorMap: map[Color]*color.Color{
			ColorSuccess: color.New(color.FgGreen),
			ColorWarning: color.New(color.FgYellow),
			ColorError:   color.New(color.FgRed),
			ColorInfo:    color.New(color.FgCyan),
			ColorMuted:   color.New(color.FgHiBlack),
			ColorBold:    color.New(color.Bold),
		},
	}
	if !cs.supported {
		color.NoColor = true
	}
	return cs
}

// detectColorSupport checks if the terminal supports colors.
func detectColorSupport() bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return true
}

// Colorize applies a semantic color to text if supported.
func (cs *ColorSystem) Colorize(text string, clr Color) string {
	if !cs.supported {
		return text
	}
	if colorFunc, ok := cs.colorMap[clr]; ok {
		return colorFunc.Sprint(text)
	}
	return text
}

// Sprintf formats text with a semantic color.
func (cs *ColorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// Supported reports whether colors are in effect.
func (cs *ColorSystem) Supported() bool {
	return cs.supported
}
