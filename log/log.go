package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/velskoi/spotsync/config"
	"github.com/velskoi/spotsync/constants"
)

func FromConfig(conf config.Log) zerolog.Logger {
	level, err := zerolog.ParseLevel(conf.Level)
	if nil != err {
		panic("invalid logging level: " + conf.Level)
	}

	var out io.Writer
	switch strings.ToLower(conf.Format) {
	case "json":
		out = os.Stderr
	case "pretty":
		out = consoleWriter()
	default:
		panic("invalid logging format: " + conf.Format)
	}

	return build(out, level)
}

// NewDefault is the logger used before configuration has been loaded.
func NewDefault() zerolog.Logger {
	return build(consoleWriter(), zerolog.InfoLevel)
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{ //nolint:exhaustruct
		Out:          os.Stderr,
		TimeFormat:   time.RFC3339,
		TimeLocation: time.UTC,
	}
}

func build(out io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.
		New(out).
		Hook(&stackHook{}).
		With().
		Timestamp().
		Str("version", constants.Version).
		Str("compile_time", constants.CompileTime).
		Logger().
		Level(level)
}
