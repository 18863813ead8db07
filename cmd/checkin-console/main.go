// Command checkin-console is a terminal operator console for the check-in
// daemon. It shows occupancy and station status and drives the stations
// over the HTTP API.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("checkin-console", pflag.ContinueOnError)
	addr := fs.String("addr", "localhost:8080", "check-in API address")
	interval := fs.Duration("refresh", time.Second, "state refresh interval")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if *interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", *interval)
	}

	model := NewModel(NewClient(*addr), *interval)
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}
