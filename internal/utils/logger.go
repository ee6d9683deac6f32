package utils

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger points the global logger at logFile, or at stderr when logFile is
// empty. Stderr only gets warnings and errors unless debug is set, so the
// progress display stays readable. The returned closer releases the file.
func InitLogger(debug bool, logFile string) (io.Closer, error) {
	switch {
	case debug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case logFile == "":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if logFile == "" {
		SetLogOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	SetLogOutput(f)
	return f, nil
}

func SetLogOutput(w io.Writer) {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.DateTime,
		NoColor:    w != os.Stderr,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
