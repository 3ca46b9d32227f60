// Package ui provides colored console output helpers for the CLI layer.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	mutedColor   = color.New(color.Faint)
)

// center pads text with leading spaces so it appears centered in width.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	return strings.Repeat(" ", (width-len(text))/2) + text
}

// Header prints a centered section header.
func Header(title string) {
	fmt.Fprintln(os.Stderr)
	headerColor.Fprintln(os.Stderr, center(title, headerWidth))
	fmt.Fprintln(os.Stderr)
}

// Step prints a numbered progress step.
func Step(n, total int, message string) {
	fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", n, total, message)
}

// Success prints a green checkmark line.
func Success(message string) {
	successColor.Fprintf(os.Stderr, "✓ %s\n", message)
}

// Warning prints a yellow warning line.
func Warning(message string) {
	warningColor.Fprintf(os.Stderr, "! %s\n", message)
}

// Error prints a red error line.
func Error(message string) {
	errorColor.Fprintf(os.Stderr, "✗ %s\n", message)
}

// Muted prints a dimmed detail line.
func Muted(message string) {
	mutedColor.Fprintf(os.Stderr, "  %s\n", message)
}
