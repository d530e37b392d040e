package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// interactive reports whether prompts can be shown on this terminal.
var interactive = func() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// runWithHelp wraps a huh field in a Form with help hints visible at the bottom.
func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptString prompts for a text input. If defaultVal is non-empty it is
// shown as placeholder and returned on an empty answer.
func promptString(title, description, defaultVal string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		Value(&value)

	if description != "" {
		inp = inp.Description(description)
	}
	if defaultVal != "" {
		inp = inp.Placeholder(defaultVal)
	}

	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	if value = strings.TrimSpace(value); value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// promptPassword prompts for a secret with hidden characters.
func promptPassword(title, description string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value)

	if description != "" {
		inp = inp.Description(description)
	}

	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// promptConfirm asks a yes/no question. Returns true for yes.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes

	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)

	if err := runWithHelp(c); err != nil {
		return false, err
	}
	return value, nil
}

// readSecret prompts on a terminal and reads one line from piped stdin
// otherwise.
func readSecret(title, description string) (string, error) {
	if interactive() {
		return promptPassword(title, description)
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(title), err)
	}
	return strings.TrimSpace(line), nil
}
