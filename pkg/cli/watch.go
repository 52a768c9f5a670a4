package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/bioviews/pkg/client"
)

func newWatchCommand() *Command {
	cmd := &Command{
		Name:        "watch",
		Description: "Print the live viewer count of your profile",
		Flags:       flag.NewFlagSet("watch", flag.ContinueOnError),
		Run:         runWatch,
	}
	addServerFlags(cmd.Flags)
	cmd.Flags.Duration("interval", 2*time.Second, "Poll interval")
	cmd.Flags.Duration("duration", 0, "Stop after this long (0: until interrupted)")
	return cmd
}

func runWatch(args []string) error {
	cmd := newWatchCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	profile, err := profileArg(cmd.Flags)
	if err != nil {
		return err
	}
	if flagString(cmd.Flags, "token") == "" {
		return fmt.Errorf("--token is required: only the owner sees live viewers")
	}

	interval := cmd.Flags.Lookup("interval").Value.(flag.Getter).Get().(time.Duration)
	duration := cmd.Flags.Lookup("duration").Value.(flag.Getter).Get().(time.Duration)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	return watch(ctx, newClient(cmd.Flags), profile, interval)
}

func watch(ctx context.Context, c *client.Client, profile string, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		n, err := c.ActiveViewers(ctx, profile)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			fmt.Fprintf(stdout, "error: %v\n", err)
		case n != last:
			fmt.Fprintf(stdout, "%s  active viewers: %d\n", time.Now().Format("15:04:05"), n)
			last = n
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
