// Package logging provides category-tagged logging for the transcriber,
// backed by logrus. Every package logs through these wrappers so output
// stays uniform across the worker and the dispatch CLI.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Category constants for consistent logging categories.
const (
	CategoryApp        = "App"
	CategoryConfig     = "Config"
	CategoryDispatch   = "Dispatch"
	CategoryWorker     = "Worker"
	CategoryJob        = "Job"
	CategoryRelay      = "Relay"
	CategoryAudio      = "Audio"
	CategorySTT        = "STT"
	CategoryTranscript = "Transcript"
)

var log = logrus.New()

// Init configures the logger. Unknown levels fall back to info.
func Init(level string) {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	log.WithField("category", category).Debugf(msg, params...)
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	log.WithField("category", category).Infof(msg, params...)
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	log.WithField("category", category).Warnf(msg, params...)
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	log.WithField("category", category).Errorf(msg, params...)
}

// Fail logs a failure message. Used on paths where the caller exits afterwards.
func Fail(category, msg string, params ...interface{}) {
	log.WithField("category", category).Errorf(msg, params...)
}
