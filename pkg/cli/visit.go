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
	"github.com/platinummonkey/bioviews/pkg/dedup"
	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/tracker"
	"github.com/platinummonkey/bioviews/pkg/viewer"
)

// anonymousKeyRecord holds this machine's anonymous presence key in the cooldown file.
const anonymousKeyRecord = "anonymous_viewer_key"

func newVisitCommand() *Command {
	cmd := &Command{
		Name:        "visit",
		Description: "Visit a profile page and stay present until interrupted",
		Flags:       flag.NewFlagSet("visit", flag.ContinueOnError),
		Run:         runVisit,
	}

	addServerFlags(cmd.Flags)
	cmd.Flags.String("cooldown-file", "", "Cooldown file (default: user config dir)")
	cmd.Flags.Duration("cooldown", dedup.DefaultCooldown, "Minimum time between counted visits")
	cmd.Flags.String("device", "", "Device id sent for the server-side cooldown")
	cmd.Flags.Duration("duration", 0, "Leave after this long (0: until interrupted)")
	cmd.Flags.Bool("verbose", false, "Log background failures")

	return cmd
}

func runVisit(args []string) error {
	cmd := newVisitCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	profile, err := profileArg(cmd.Flags)
	if err != nil {
		return err
	}

	cooldown := cmd.Flags.Lookup("cooldown").Value.(flag.Getter).Get().(time.Duration)
	duration := cmd.Flags.Lookup("duration").Value.(flag.Getter).Get().(time.Duration)

	level := observability.ErrorLevel
	if flagString(cmd.Flags, "verbose") == "true" {
		level = observability.DebugLevel
	}
	logger := observability.NewLogger(level, os.Stderr)

	path := flagString(cmd.Flags, "cooldown-file")
	if path == "" {
		if path, err = dedup.DefaultFilePath(); err != nil {
			return fmt.Errorf("failed to locate cooldown file: %w", err)
		}
	}
	store, err := dedup.OpenFileStore(path, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	c := newClient(cmd.Flags, client.WithDeviceID(flagString(cmd.Flags, "device")))
	guard := dedup.NewGuard(store, cooldown)
	tr := tracker.New(tracker.Options{
		Guard:        guard,
		Recorder:     tracker.ClientRecorder(c),
		Transport:    c.Presence(),
		Viewer:       viewer.Anonymous(),
		AnonymousKey: anonymousKey(store),
		Logger:       logger,
	})

	return visit(ctx, c, tr, guard, profile)
}

func visit(ctx context.Context, c *client.Client, tr *tracker.Tracker, guard *dedup.Guard, profile string) error {
	session := tr.Mount(ctx, profile)
	defer session.Unmount()

	if err := session.Wait(ctx); err != nil {
		return nil
	}
	if session.Tracked() {
		fmt.Fprintf(stdout, "Visited %s (view counted)\n", profile)
	} else {
		fmt.Fprintf(stdout, "Visited %s (within cooldown, not counted)\n", profile)
		now := time.Now()
		if last, ok := guard.LastTracked(profile, now); ok {
			wait := last.Add(guard.Cooldown()).Sub(now).Round(time.Second)
			fmt.Fprintf(stdout, "Next counted visit in %s\n", wait)
		}
	}
	if n, err := c.ViewCount(ctx, profile); err == nil {
		fmt.Fprintf(stdout, "Views: %d\n", n)
	}

	channel := session.Presence()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-channel.Done():
			fmt.Fprintln(stdout, "Presence stream closed")
			return nil
		case n := <-channel.Counts():
			fmt.Fprintf(stdout, "Active viewers: %d\n", n)
		}
	}
}

// anonymousKey returns the key stored in store, creating it on first use.
func anonymousKey(store dedup.CooldownStore) string {
	if key, ok := store.Get(anonymousKeyRecord); ok && viewer.IsAnonymousKey(key) {
		return key
	}
	key := viewer.NewAnonymousKey()
	store.Set(anonymousKeyRecord, key)
	return key
}

func newClient(fs *flag.FlagSet, opts ...client.Option) *client.Client {
	if token := flagString(fs, "token"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(flagString(fs, "server"), opts...)
}
