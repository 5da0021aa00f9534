package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one gridcache subcommand.
type Command struct {
	// Flags holds the command flags, including the shared ones bound to the
	// command config.
	Flags *flag.FlagSet

	// Usage is shown after "gridcache" in help, starting with the command
	// name.
	Usage string

	// Short is the one-line description of the command listing.
	Short string

	// Exec runs the command with the merged configuration.
	Exec func(ctx context.Context, cfg Config, out io.Writer, args []string) error

	cfg *Config
}

// newCommand returns a command whose flag set carries the shared flags.
func newCommand(usage, short string) *Command {
	cfg := DefaultConfig()
	c := &Command{
		Flags: flag.NewFlagSet(usage, flag.ContinueOnError),
		Usage: usage,
		Short: short,
		cfg:   &cfg,
	}
	bindFlags(c.Flags, c.cfg)
	return c
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

func (c *Command) printHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: gridcache", c.Usage)
	fmt.Fprintln(w)
	fmt.Fprintln(w, c.Short)
	if c.Flags.HasFlags() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Flags:")
		c.Flags.SetOutput(w)
		c.Flags.PrintDefaults()
	}
}

// Run parses args, loads the config file and executes the command. It
// returns the process exit code.
func (c *Command) Run(ctx context.Context, out, errOut io.Writer, args []string) int {
	c.Flags.SetOutput(io.Discard)

	var cfgPath string
	c.Flags.StringVar(&cfgPath, "config", "", "JSON config file (comments and trailing commas allowed)")

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.printHelp(out)
			return 0
		}
		fmt.Fprintln(errOut, "error:", err)
		fmt.Fprintln(errOut)
		c.printHelp(errOut)
		return 2
	}

	if cfgPath != "" {
		if err := loadConfigFile(cfgPath, c.cfg); err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}
		// Flags override the file.
		_ = c.Flags.Parse(args)
	}
	if err := c.Exec(ctx, *c.cfg, out, c.Flags.Args()); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

func commands() []*Command {
	return []*Command{seedCommand(), queryCommand(), layersCommand()}
}

func printUsage(w io.Writer, cmds []*Command) {
	fmt.Fprintln(w, "Usage: gridcache <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range cmds {
		fmt.Fprintf(w, "  %-10s %s\n", c.Name(), c.Short)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, `Run "gridcache <command> --help" for command flags.`)
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	cmds := commands()
	if len(args) == 0 {
		printUsage(errOut, cmds)
		return 2
	}
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(out, cmds)
		return 0
	}
	for _, c := range cmds {
		if c.Name() == args[0] {
			return c.Run(ctx, out, errOut, args[1:])
		}
	}
	fmt.Fprintf(errOut, "error: unknown command %q\n\n", args[0])
	printUsage(errOut, cmds)
	return 2
}
