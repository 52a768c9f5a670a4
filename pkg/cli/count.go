package cli

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/platinummonkey/bioviews/pkg/analytics"
)

func newCountCommand() *Command {
	cmd := &Command{
		Name:        "count",
		Description: "Print a profile's view count",
		Flags:       flag.NewFlagSet("count", flag.ContinueOnError),
		Run:         runCount,
	}
	addServerFlags(cmd.Flags)
	return cmd
}

func runCount(args []string) error {
	cmd := newCountCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	profile, err := profileArg(cmd.Flags)
	if err != nil {
		return err
	}

	n, err := newClient(cmd.Flags).ViewCount(context.Background(), profile)
	if err != nil {
		return fmt.Errorf("failed to get view count: %w", err)
	}

	fmt.Fprintf(stdout, "%s: %d views\n", profile, n)
	return nil
}

func newAnalyticsCommand() *Command {
	cmd := &Command{
		Name:        "analytics",
		Description: "Print the owner's view analytics",
		Flags:       flag.NewFlagSet("analytics", flag.ContinueOnError),
		Run:         runAnalytics,
	}
	addServerFlags(cmd.Flags)
	cmd.Flags.String("tz", "", "IANA time zone for daily totals (default: server zone)")
	cmd.Flags.Int("limit", 0, "Recent views to show (max 10)")
	return cmd
}

func runAnalytics(args []string) error {
	cmd := newAnalyticsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}
	profile, err := profileArg(cmd.Flags)
	if err != nil {
		return err
	}
	limit, err := strconv.Atoi(flagString(cmd.Flags, "limit"))
	if err != nil {
		return fmt.Errorf("invalid limit: %w", err)
	}

	summary, err := newClient(cmd.Flags).Analytics(context.Background(), profile, limit, flagString(cmd.Flags, "tz"))
	if err != nil {
		return fmt.Errorf("failed to get analytics: %w", err)
	}

	printSummary(summary)
	return nil
}

func printSummary(s *analytics.Summary) {
	fmt.Fprintf(stdout, "Profile %s: %d views\n", s.ProfileUserID, s.ViewCount)
	if len(s.ByDay) == 0 && len(s.RecentViews) == 0 {
		fmt.Fprintln(stdout, "No analytics available (only the profile owner can see them)")
		return
	}

	fmt.Fprintf(stdout, "\nDaily views (%s, last %d days):\n", s.Timezone, s.WindowDays)
	for _, d := range s.ByDay {
		fmt.Fprintf(stdout, "  %s  %d\n", d.Day, d.Count)
	}

	fmt.Fprintln(stdout, "\nRecent views:")
	for _, v := range s.RecentViews {
		who := "anonymous"
		if v.ViewerUserID != nil {
			who = *v.ViewerUserID
		}
		fmt.Fprintf(stdout, "  %s  %s\n", v.CreatedAt.Format("2006-01-02 15:04:05 MST"), who)
	}
}
