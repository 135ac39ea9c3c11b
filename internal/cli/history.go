package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/history"
)

type historyOptions struct {
	dbPath string
	tenant string
	job    string
	limit  int
	stats  bool
	since  time.Duration
}

func newHistoryCommand() *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled events or per-minute stats for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.dbPath == "" {
				return fmt.Errorf("--db is required")
			}
			if opts.tenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			return runHistory(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dbPath, "db", "", "SQLite journal path")
	f.StringVar(&opts.tenant, "tenant", "", "tenant to inspect")
	f.StringVar(&opts.job, "job", "", "show the full history of one job")
	f.IntVar(&opts.limit, "limit", 50, "most recent events to show")
	f.BoolVar(&opts.stats, "stats", false, "show per-minute stats instead of events")
	f.DurationVar(&opts.since, "since", 24*time.Hour, "stats window")
	return cmd
}

func runHistory(ctx context.Context, out io.Writer, opts historyOptions) error {
	db, err := history.OpenSQLite(opts.dbPath)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	journal := history.NewGormJournal(db)
	if err := journal.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	tenant := core.TenantID(opts.tenant)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	if opts.stats {
		stats, err := journal.GetStatsHistory(ctx, tenant, "", time.Now().Add(-opts.since), time.Time{})
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "MINUTE\tQUEUE\tENQUEUED\tCOMPLETED\tFAILED\tRETRIED\tCANCELED")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				s.Timestamp.Format(time.RFC3339), s.Queue, s.Enqueued, s.Completed, s.Failed, s.Retried, s.Canceled)
		}
		return tw.Flush()
	}

	var rows []history.EventRecord
	if opts.job != "" {
		rows, err = journal.JobHistory(ctx, tenant, core.JobID(opts.job))
	} else {
		rows, err = journal.RecentEvents(ctx, tenant, opts.limit)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(tw, "SEQ\tTIME\tJOB\tTYPE\tKIND\tATTEMPT\tDETAIL")
	for _, r := range rows {
		detail := r.Error
		if detail == "" {
			detail = r.Result
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Seq, r.Timestamp.Format(time.RFC3339Nano), r.JobID, r.JobType, r.Kind, r.Attempt, detail)
	}
	return tw.Flush()
}
