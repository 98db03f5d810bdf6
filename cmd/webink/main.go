package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	setupLogging()

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("webink exited with error")
	}
}

// setupLogging configures zerolog's global logger with a human-
// readable console writer, matching the corpus's default
// zerolog.ConsoleWriter setup rather than raw JSON to stdout.
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}
