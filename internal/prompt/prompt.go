// Package prompt reads secrets from the controlling terminal.
package prompt

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/systemshift/dmx/internal/config"
)

// Password asks for a secret without echoing it. It returns "" without
// asking when stdin is not a terminal.
func Password(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return string(b), nil
}

// Neo4jPassword fills in the Neo4j password from the terminal when the
// backend needs one and none is configured.
func Neo4jPassword(cfg *config.Config) error {
	if cfg.Storage.Backend != config.BackendNeo4j || cfg.Neo4j.Password != "" {
		return nil
	}
	p, err := Password("Neo4j password for " + cfg.Neo4j.Username)
	if err != nil {
		return err
	}
	cfg.Neo4j.Password = p
	return nil
}
