package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// stdout receives command output. Tests replace it.
var stdout io.Writer = os.Stdout

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "bioviews",
		Description: "bioviews - profile view tracking CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("bioviews", flag.ExitOnError),
	}

	root.Subcommands["visit"] = newVisitCommand()
	root.Subcommands["count"] = newCountCommand()
	root.Subcommands["analytics"] = newAnalyticsCommand()
	root.Subcommands["watch"] = newWatchCommand()
	root.Subcommands["token"] = newTokenCommand()

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the command with args
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(stdout, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(stdout, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func addServerFlags(fs *flag.FlagSet) {
	fs.String("server", envOr("BIOVIEWS_SERVER", "http://localhost:8080"), "bioviews server URL")
	fs.String("token", os.Getenv("BIOVIEWS_TOKEN"), "Bearer token of the signed-in user")
}

func flagString(fs *flag.FlagSet, name string) string {
	return fs.Lookup(name).Value.String()
}

// profileArg returns the single positional profile id.
func profileArg(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 || fs.Arg(0) == "" {
		return "", fmt.Errorf("exactly one profile id is required")
	}
	return fs.Arg(0), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
