// Command tugcastd is the localhost bridge daemon: it multiplexes
// terminal I/O, filesystem and VCS status, stats, and an agent
// conversation over one websocket endpoint, grounded on the teacher's
// cmd/wt single-root-cobra-command layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tugtool/tugcast/internal/config"
)

func main() {
	var logLevel string
	var logFile string

	root := &cobra.Command{
		Use:           "tugcastd",
		Short:         "tugcastd — localhost websocket bridge for terminal, filesystem, VCS, stats, and agent feeds",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "also append logs to this file")

	root.AddCommand(
		serveCmd(&logLevel, &logFile),
		keygenCmd(),
		doctorCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig mirrors clientFromConfig's role in the teacher's cmd/wt: one
// place every subcommand goes through to get a resolved Config.
func loadConfig(projectDirFlag string) (*config.Resolved, error) {
	userDir, err := config.GetUserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user config dir: %w", err)
	}

	projectDir := projectDirFlag
	if projectDir == "" {
		projectDir, err = config.GetProjectDir()
		if err != nil {
			return nil, fmt.Errorf("resolve project dir: %w", err)
		}
	}

	m := config.NewManager()
	if err := m.Load(userDir, projectDir); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	m.Get().ProjectDir = projectDir

	return m.Resolve()
}
