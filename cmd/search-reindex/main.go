package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/reindexer/pkg/cli"
)

func main() {
	logger := setupLogger(os.Getenv("REINDEXER_LOG_LEVEL"))

	root := cli.NewRootCommand(&cli.Env{Out: os.Stdout, Logger: logger})
	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
