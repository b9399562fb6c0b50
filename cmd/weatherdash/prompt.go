package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

var errPasswordRequired = errors.New("password required: pass --password or run interactively")

// resolvePassword returns the flag value, prompting on the terminal when it is
// empty.
func resolvePassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errPasswordRequired
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(raw) == 0 {
		return "", errPasswordRequired
	}
	return string(raw), nil
}
