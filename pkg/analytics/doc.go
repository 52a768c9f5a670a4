// Package analytics builds the profile owner's view dashboard.
//
// Only the owner of a profile may see its views. Every other caller, signed in or not,
// receives an empty result and no error, so the response never reveals whether a
// profile has any view history.
//
// Recent views are limited to a short preview (at most ten rows), newest first with
// ties broken by insertion order. Daily totals bucket views by calendar day in the
// owner's display time zone, so two views a minute apart on either side of local
// midnight land in different days.
//
//	svc := analytics.NewService(store, counter, analytics.Options{})
//	summary, err := svc.Summary(ctx, caller, "alesta", loc)
//
// Retention purges old view rows on a cron schedule. The per-profile counters are
// never adjusted by a purge.
package analytics
