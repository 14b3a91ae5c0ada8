package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tugtool/tugcast/internal/agentbridge"
	"github.com/tugtool/tugcast/internal/audit"
	"github.com/tugtool/tugcast/internal/authgate"
	"github.com/tugtool/tugcast/internal/config"
	"github.com/tugtool/tugcast/internal/logging"
	"github.com/tugtool/tugcast/internal/router"
	"github.com/tugtool/tugcast/internal/statsfeed"
)

func serveCmd(logLevel, logFile *string) *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Init(*logLevel, *logFile); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}

			cfg, err := loadConfig(projectDir)
			if err != nil {
				return err
			}

			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&projectDir, "project-dir", "", "project directory to serve (default: detected)")
	return cmd
}

func runServe(cfg *config.Resolved) error {
	gate, err := authgate.New(cfg.BindPort)
	if err != nil {
		return fmt.Errorf("init auth gate: %w", err)
	}

	agentBinary := agentbridge.ResolveBinary(cfg.AgentBinary, "tugtalk")
	r := router.New(gate, cfg.TmuxSession, cfg.ProjectDir, agentBinary)

	if cfg.AuditEnabled {
		auditLog, err := audit.Open(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
		r.Audit = auditLog
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collectors := []statsfeed.Collector{
		statsfeed.NewProcessInfoCollector(),
		statsfeed.NewTokenUsageCollector(cfg.TmuxSession),
		statsfeed.NewBuildStatusCollector(cfg.ProjectDir),
	}
	r.Start(ctx, cfg.WatchRoot, cfg.ProjectDir, collectors)

	mux := http.NewServeMux()
	mux.HandleFunc("/auth", r.ServeAuth)
	mux.HandleFunc("/ws", r.ServeWS)
	mux.HandleFunc("/api/tell", r.ServeTell)

	addr := fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	token, _ := gate.PendingToken()
	fmt.Printf("tugcastd listening on http://%s\n", addr)
	fmt.Printf("open http://%s/auth?token=%s to connect\n", addr, token)

	// Only auto-launch a browser when stdout is an actual terminal;
	// under a process manager or piped into a log file, printing the
	// URL above is all that's useful.
	if isatty.IsTerminal(os.Stdout.Fd()) && tryOpenBrowser(fmt.Sprintf("http://%s/auth?token=%s", addr, token)) {
		logging.Info("opened browser for auth handoff")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logging.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func tryOpenBrowser(url string) bool {
	var cmdName string
	var cmdArgs []string
	switch {
	case commandExists("xdg-open"):
		cmdName, cmdArgs = "xdg-open", []string{url}
	case commandExists("open"):
		cmdName, cmdArgs = "open", []string{url}
	default:
		return false
	}
	return exec.Command(cmdName, cmdArgs...).Start() == nil
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
