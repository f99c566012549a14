package cli

import (
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// NewAccessibleForm builds a huh form that falls back to plain text prompts
// when ACCESSIBLE is set or stdin is not a terminal (scripts, CI).
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	accessible := os.Getenv("ACCESSIBLE") != "" || !term.IsTerminal(int(os.Stdin.Fd()))
	return huh.NewForm(groups...).WithAccessible(accessible)
}
