// Package ui provides terminal output utilities for lingsync.
package ui

import (
	"github.com/fatih/color"

	"lingsync/internal/plan"
)

// Color function types for styled output.
var (
	// Success is used for successful operations (green).
	Success = color.New(color.FgGreen).SprintFunc()
	// Error is used for errors and failures (red).
	Error = color.New(color.FgRed).SprintFunc()
	// Warning is used for warnings and conflicts (yellow).
	Warning = color.New(color.FgYellow).SprintFunc()
	// Info is used for informational messages (cyan).
	Info = color.New(color.FgCyan).SprintFunc()
	// Bold is used for emphasis.
	Bold = color.New(color.Bold).SprintFunc()
	// Dim is used for secondary information (faint).
	Dim = color.New(color.Faint).SprintFunc()
	// Header is used for table headers (bold cyan).
	Header = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// Status symbols.
const (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolConflict = "⚠"
	SymbolSkipped  = "-"
	SymbolPending  = "○"
)

// StatusSuccess returns a green checkmark with optional message.
func StatusSuccess(msg string) string {
	if msg == "" {
		return Success(SymbolSuccess)
	}
	return Success(SymbolSuccess) + " " + msg
}

// StatusError returns a red X with optional message.
func StatusError(msg string) string {
	if msg == "" {
		return Error(SymbolError)
	}
	return Error(SymbolError) + " " + msg
}

// StatusConflict returns a yellow warning with optional message.
func StatusConflict(msg string) string {
	if msg == "" {
		return Warning(SymbolConflict)
	}
	return Warning(SymbolConflict) + " " + msg
}

// StatusSkipped returns a dimmed skip symbol with optional message.
func StatusSkipped(msg string) string {
	if msg == "" {
		return Dim(SymbolSkipped)
	}
	return Dim(SymbolSkipped) + " " + msg
}

// OpLabel renders an operation type with the color matching its effect:
// green for creations and links, cyan for updates, yellow for conflicts,
// dim for skips.
func OpLabel(t plan.OpType) string {
	switch t {
	case plan.OpLink, plan.OpCreateLingq, plan.OpCreateAnki:
		return Success(string(t))
	case plan.OpUpdateHints, plan.OpUpdateStatus, plan.OpRescheduleAnki:
		return Info(string(t))
	case plan.OpConflict:
		return Warning(string(t))
	case plan.OpSkip:
		return Dim(string(t))
	default:
		return string(t)
	}
}

// DisableColors disables all color output, for piping or --no-color.
func DisableColors() {
	color.NoColor = true
}

// EnableColors enables color output.
func EnableColors() {
	color.NoColor = false
}

// IsColorEnabled returns whether colors are currently enabled.
func IsColorEnabled() bool {
	return !color.NoColor
}
