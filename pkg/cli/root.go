package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env is what commands share: where to print, how to log and how to reach
// the indexer
type Env struct {
	Out    io.Writer
	Logger *logrus.Logger
	// NewClient builds the API client for a server URL
	NewClient func(server string) *Client
	// NewPublisher connects straight to the queue at a Redis URL
	NewPublisher func(redisURL, prefix string) (Publisher, func() error, error)
}

func (e *Env) withDefaults() *Env {
	env := *e
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.Logger == nil {
		env.Logger = logrus.New()
		env.Logger.SetOutput(io.Discard)
	}
	if env.NewClient == nil {
		logger := env.Logger
		env.NewClient = func(server string) *Client { return NewClient(server, logger) }
	}
	if env.NewPublisher == nil {
		env.NewPublisher = NewRedisPublisher
	}
	return &env
}

// NewRootCommand creates the search-reindex root command
func NewRootCommand(env *Env) *Command {
	env = env.withDefaults()
	root := &Command{
		Name:        "search-reindex",
		Description: "Trigger and follow search reindex jobs",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("search-reindex", flag.ContinueOnError),
	}

	root.Subcommands["reindex"] = newReindexCommand(env)
	root.Subcommands["status"] = newStatusCommand(env)
	root.Subcommands["interrupt"] = newInterruptCommand(env)
	root.Subcommands["classes"] = newClassesCommand(env)
	root.Subcommands["search"] = newSearchCommand(env)
	root.Run = func([]string) error { return root.usage(env.Out) }

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.Run(nil)
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.Run(nil)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(out io.Writer) error {
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.String("server", envOr("REINDEXER_SERVER", "http://localhost:8080"), "Search indexer API URL")
	return fs
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
