package logging

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ZerologAdapter wraps a zerolog.Logger to implement the Logger interface.
// Key/value argument pairs are mapped onto zerolog event fields.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a Logger from an existing zerolog.Logger.
func NewZerologAdapter(logger zerolog.Logger) Logger {
	return &ZerologAdapter{logger: logger}
}

// NewZerologLogger creates a Logger writing zerolog JSON output to w.
func NewZerologLogger(w io.Writer, level zerolog.Level) Logger {
	return &ZerologAdapter{logger: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) { emit(z.logger.Debug(), msg, args) }

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) { emit(z.logger.Info(), msg, args) }

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) { emit(z.logger.Warn(), msg, args) }

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) { emit(z.logger.Error(), msg, args) }

func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
