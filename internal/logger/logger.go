// Package logger builds the process logger.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/config"
)

const permission = 0o664

// Logger is the process logger together with the file it writes to, if any.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New builds a timestamped logger from cfg. Output goes to cfg.File when set,
// stdout otherwise; Pretty selects the console writer.
func New(cfg config.LogConfig) (*Logger, error) {
	return build(cfg, os.Stdout)
}

func build(cfg config.LogConfig, stdout io.Writer) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}

	l := &Logger{}
	w := stdout
	if cfg.File != "" {
		l.file, err = os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		w = zerolog.SyncWriter(l.file)
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, NoColor: cfg.File != ""}
	}
	l.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return l, nil
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
