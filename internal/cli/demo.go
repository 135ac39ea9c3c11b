package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/wrapperspb"

	jobs "github.com/jdziat/tenant-jobs"
	"github.com/jdziat/tenant-jobs/pkg/config"
	"github.com/jdziat/tenant-jobs/pkg/history"
)

type demoOptions struct {
	tenants     []string
	jobs        int
	failRate    float64
	duration    time.Duration
	dbPath      string
	metricsAddr string
}

type emailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func newDemoCommand(logger func(*cobra.Command) (*slog.Logger, error)) *cobra.Command {
	var opts demoOptions

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a sample workload for a few tenants and print the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logger(cmd)
			if err != nil {
				return err
			}
			if opts.jobs < 1 {
				return fmt.Errorf("--jobs must be at least 1")
			}
			if opts.failRate < 0 || opts.failRate > 1 {
				return fmt.Errorf("--fail-rate must be in [0, 1]")
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), log, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.tenants, "tenants", []string{"acme", "globex"}, "tenants to run")
	f.IntVar(&opts.jobs, "jobs", 10, "email jobs to enqueue per tenant")
	f.Float64Var(&opts.failRate, "fail-rate", 0.2, "probability that an email attempt fails")
	f.DurationVar(&opts.duration, "duration", 30*time.Second, "maximum run time")
	f.StringVar(&opts.dbPath, "db", "", "SQLite journal path; empty disables the journal")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :2113")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, log *slog.Logger, opts demoOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	engineOpts := []jobs.EngineOption{jobs.WithLogger(log), jobs.WithMetrics(reg)}

	if opts.dbPath != "" {
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
		engineOpts = append(engineOpts, jobs.WithJournal(journal, history.WithLogger(log)))
	}

	engine, err := jobs.NewEngine(cfg, engineOpts...)
	if err != nil {
		return err
	}

	email := jobs.MustRegister(engine, jobs.Definition[emailArgs]{
		Type:       "email.send",
		Queue:      "emails",
		MaxRetries: 3,
		IdempotencyKey: func(a emailArgs) string {
			return a.To + "/" + a.Subject
		},
		Handler: func(ctx context.Context, a emailArgs) (jobs.ResultRef, error) {
			if rand.Float64() < opts.failRate {
				return "", errors.New("smtp: 421 service not available")
			}
			return jobs.ResultRef("msg-" + string(jobs.JobIDFromContext(ctx))), nil
		},
	})
	render := jobs.MustRegister(engine, jobs.Definition[*wrapperspb.StringValue]{
		Type:     "report.render",
		Queue:    "reports",
		Codec:    jobs.CodecProto,
		Priority: jobs.PriorityHigh,
		Handler: func(ctx context.Context, name *wrapperspb.StringValue) (jobs.ResultRef, error) {
			return jobs.ResultRef(fmt.Sprintf("reports/%s/%s.pdf", jobs.TenantFromContext(ctx), name.GetValue())), nil
		},
	})

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "addr", opts.metricsAddr, "error", err)
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", "addr", opts.metricsAddr)
	}

	tenants := make([]jobs.TenantID, len(opts.tenants))
	for i, t := range opts.tenants {
		tenants[i] = jobs.TenantID(t)
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- engine.Run(runCtx, tenants...) }()

	select {
	case <-engine.Ready():
	case err := <-done:
		return err
	}

	submitted := make(map[jobs.TenantID][]jobs.JobID)
	for _, t := range tenants {
		qc := jobs.QueueCtx{TenantID: t, TraceID: "demo"}
		for i := 0; i < opts.jobs; i++ {
			id, err := jobs.Enqueue(runCtx, engine, qc, email, emailArgs{
				To:      fmt.Sprintf("user%d@%s.example", i, t),
				Subject: "welcome",
			})
			if err != nil {
				cancel()
				<-done
				return fmt.Errorf("enqueue email for %s: %w", t, err)
			}
			submitted[t] = append(submitted[t], id)
		}
		id, err := jobs.Enqueue(runCtx, engine, qc, render, wrapperspb.String("monthly"))
		if err != nil {
			cancel()
			<-done
			return fmt.Errorf("enqueue report for %s: %w", t, err)
		}
		submitted[t] = append(submitted[t], id)
	}

	waitSettled(runCtx, engine, submitted)
	cancel()
	if err := <-done; err != nil {
		return err
	}

	return printSummary(ctx, out, engine, tenants)
}

// waitSettled returns once every submitted job is terminal or ctx ends.
func waitSettled(ctx context.Context, engine *jobs.Engine, submitted map[jobs.TenantID][]jobs.JobID) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		settled := true
		for t, ids := range submitted {
			qc := jobs.QueueCtx{TenantID: t}
			for _, id := range ids {
				st, err := engine.Status(ctx, qc, id)
				if err != nil || !st.IsTerminal() {
					settled = false
					break
				}
			}
			if !settled {
				break
			}
		}
		if settled {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var summaryStates = []jobs.State{
	jobs.StateEnqueued,
	jobs.StateProcessing,
	jobs.StateRetrying,
	jobs.StateCompleted,
	jobs.StateFailed,
	jobs.StateCanceled,
}

func printSummary(ctx context.Context, out io.Writer, engine *jobs.Engine, tenants []jobs.TenantID) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "TENANT")
	for _, s := range summaryStates {
		fmt.Fprintf(tw, "\t%s", s)
	}
	fmt.Fprintln(tw)

	for _, t := range tenants {
		qc := jobs.QueueCtx{TenantID: t}
		fmt.Fprint(tw, t)
		for _, s := range summaryStates {
			recs, err := engine.Queue().Jobs(ctx, qc, s, 0)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "\t%d", len(recs))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
