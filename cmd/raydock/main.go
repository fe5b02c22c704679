package main

import (
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"raydock/internal/cli"
)

func main() {
	cli.Execute(setupLogger())
}

// setupLogger sets up the logger
func setupLogger() *logrus.Logger {
	logger := logrus.New()

	// Set log level from environment variable or default to info
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		log.Printf("Invalid log level %s, defaulting to info", logLevel)
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetOutput(os.Stderr)

	// Set formatter
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return logger
}
