package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
)

func printSuccess(text string) { fmt.Println(successStyle.Render("✓ " + text)) }
func printError(text string)   { fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+text)) }
func printDetail(text string)  { fmt.Println(detailStyle.Render(text)) }
