package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/config"
	"github.com/systemshift/dmx/internal/prompt"
	"github.com/systemshift/dmx/internal/server/engine"
	"github.com/systemshift/dmx/internal/server/graph"
)

var (
	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	uriStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

const usage = `usage: dmx-admin [-config file] [-v] <command>

commands:
  setup         install the core type system on an empty store
  types         list topic and association types
  type <uri>    show one type with its comp defs
  migration     show the migration counter
`

func main() {
	configPath := flag.String("config", os.Getenv("DMX_CONFIG"), "path to the TOML configuration file")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*configPath, *verbose, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}
}

func run(configPath string, verbose bool, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := prompt.Neo4jPassword(cfg); err != nil {
		return err
	}

	log := zerolog.Nop()
	if verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	ctx := context.Background()
	store, err := graph.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close(ctx)
	e := engine.New(store, log)

	switch args[0] {
	case "setup":
		clean, err := e.Setup(ctx)
		if err != nil {
			return err
		}
		if clean {
			fmt.Println(titleStyle.Render("Core type system installed"))
		} else {
			fmt.Println(dimStyle.Render("Store already set up"))
		}
		return nil
	case "types":
		return listTypes(ctx, e)
	case "type":
		if len(args) < 2 {
			return fmt.Errorf("type needs a uri")
		}
		return showType(ctx, e, args[1])
	case "migration":
		return showMigration(ctx, e)
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", args[0])
}
