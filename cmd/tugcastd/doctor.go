package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tugtool/tugcast/internal/agentbridge"
)

func doctorCmd() *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the multiplexer, git, and agent binary this bridge depends on",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(projectDir)
			if err != nil {
				return err
			}

			fmt.Println("tugcastd doctor")
			fmt.Println()

			fmt.Println("CLI tools:")
			reportTmux()
			reportTool("git", "git")
			fmt.Println()

			fmt.Println("Agent binary:")
			resolved := agentbridge.ResolveBinary(cfg.AgentBinary, "tugtalk")
			if path, err := exec.LookPath(resolved); err == nil {
				fmt.Printf("  %-12s %s\n", "tugtalk", path)
			} else {
				fmt.Printf("  %-12s not found (resolved to %q)\n", "tugtalk", resolved)
			}
			fmt.Println()

			fmt.Println("Config:")
			fmt.Printf("  bind:           %s:%d\n", cfg.BindHost, cfg.BindPort)
			fmt.Printf("  tmux_session:   %s\n", cfg.TmuxSession)
			fmt.Printf("  project_dir:    %s\n", cfg.ProjectDir)
			fmt.Printf("  watch_root:     %s\n", cfg.WatchRoot)
			if cfg.AuditEnabled {
				fmt.Printf("  audit_log:      %s\n", describeAuditDB(cfg.StateDir))
			}

			return nil
		},
	}
	cmd.Flags().StringVar(&projectDir, "project-dir", "", "project directory (default: detected)")
	return cmd
}

func reportTool(label, binary string) {
	path, err := exec.LookPath(binary)
	if err != nil {
		fmt.Printf("  %-12s not found\n", label)
		return
	}
	fmt.Printf("  %-12s %s\n", label, path)
}

func reportTmux() {
	path, err := exec.LookPath("tmux")
	if err != nil {
		fmt.Printf("  %-12s not found\n", "tmux")
		return
	}
	out, err := exec.Command(path, "-V").Output()
	if err != nil {
		fmt.Printf("  %-12s %s (version check failed)\n", "tmux", path)
		return
	}
	fmt.Printf("  %-12s %s (%s)\n", "tmux", path, trimNewline(out))
}

func describeAuditDB(stateDir string) string {
	path := filepath.Join(stateDir, "audit.db")
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("%s (not yet created)", path)
	}
	return fmt.Sprintf("%s (%s, last written %s)", path, humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
}

func trimNewline(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
