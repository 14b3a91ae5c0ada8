// Package logging provides the process-wide structured logger. Every
// tugcast component logs through here rather than fmt.Println or the
// stdlib log package, following the multi-writer slog pattern the teacher
// repo established in internal/logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Log is the process-wide logger. It is safe for concurrent use once Init
// has run; until then it defaults to a stdout-only logger at info level so
// that packages used from tests never see a nil logger.
var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init configures the process-wide logger: level is one of
// debug/info/warn/error, and logFile, if non-empty, receives a second copy
// of every line alongside stdout.
func Init(level string, logFile string) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
	return nil
}

// With returns a logger scoped to a named component, e.g. logging.With("feed", "terminal").
func With(args ...any) *slog.Logger { return Log.With(args...) }

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
