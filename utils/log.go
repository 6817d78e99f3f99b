package utils

import (
	"io"
	"log/slog"
	"path/filepath"
)

// NewLogger returns a text logger writing to w. Source locations are added
// at debug level and below.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.SourceKey {
				if source, ok := attr.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
				}
			}
			return attr
		},
	}))
}

// InitLogging installs the default logger at the EC3_DEBUG level.
func InitLogging(w io.Writer) {
	slog.SetDefault(NewLogger(w, LogLevel()))
}
