// Package cli provides terminal formatting helpers for the cmltest CLI.
package cli

import (
	"os"

	"golang.org/x/term"
)

// colorEnabled is true when stdout is a terminal and NO_COLOR is unset.
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// SetColor forces colour on or off, overriding terminal detection.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return paint("32", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return paint("33", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return paint("31", s) }

// Bold wraps s in ANSI bold.
func Bold(s string) string { return paint("1", s) }

// LabState colours a CML lab state: STARTED green, STOPPED and
// DEFINED_ON_CORE yellow, anything else (including "missing") red.
func LabState(state string) string {
	switch state {
	case "STARTED":
		return Green(state)
	case "STOPPED", "DEFINED_ON_CORE", "QUEUED", "BOOTED":
		return Yellow(state)
	default:
		return Red(state)
	}
}

// Mask hides a secret for display, keeping only its length hint.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
