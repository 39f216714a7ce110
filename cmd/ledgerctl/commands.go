package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"lexledger/internal/amqp"
	"lexledger/internal/backend"
	"lexledger/internal/cli"
	"lexledger/internal/core"
	"lexledger/internal/reconcile"
)

var commands = []subcommands.Command{
	&reconcileCmd{},
	&repairCmd{},
	&monthlyCmd{},
	&yearlyCmd{},
	&eventsCmd{},
}

// withBackend opens the configured backend for the duration of fn. The
// periodic reconcile processor is never started from the CLI.
func withBackend(ctx context.Context, fn func(b *backend.Backend) error) subcommands.ExitStatus {
	cfg, logger, err := cli.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	b, err := cli.InitBackend(ctx, logger, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer b.Close()

	if err := fn(b); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// scopeFlags selects one aggregate: -case, or -advocate together with -year.
type scopeFlags struct {
	caseID   int64
	advocate int64
	year     int
}

func (s *scopeFlags) register(f *flag.FlagSet) {
	f.Int64Var(&s.caseID, "case", 0, "Case id of a case aggregate.")
	f.Int64Var(&s.advocate, "advocate", 0, "Advocate id of an advocate-year aggregate.")
	f.IntVar(&s.year, "year", 0, "Year of an advocate-year aggregate.")
}

func (s *scopeFlags) set() bool {
	return s.caseID != 0 || s.advocate != 0 || s.year != 0
}

func (s *scopeFlags) scope() (core.Scope, error) {
	switch {
	case s.caseID != 0 && (s.advocate != 0 || s.year != 0):
		return core.Scope{}, errors.New("use either -case or -advocate with -year, not both")
	case s.caseID != 0:
		return core.CaseScope(s.caseID), nil
	case s.advocate != 0 && s.year != 0:
		return core.AdvocateYearScope(s.advocate, s.year), nil
	}
	return core.Scope{}, errors.New("-case or -advocate with -year is required")
}

func printResults(w io.Writer, results []reconcile.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCOPE\tSTATUS\tSTORED\tCOMPUTED")
	for _, r := range results {
		status := "ok"
		switch {
		case r.Repaired:
			status = "repaired"
		case !r.Consistent():
			status = "DRIFT"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Scope, status, r.Stored, r.Computed)
	}
	tw.Flush()
}

type reconcileCmd struct {
	scopeFlags
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "compare stored aggregates with their entries" }
func (*reconcileCmd) Usage() string {
	return `ledgerctl reconcile [-case <id> | -advocate <id> -year <yyyy>]

  Recomputes aggregate totals from the ledger entries and reports every
  aggregate whose stored totals differ. Without flags every aggregate is
  checked. Exits non-zero when drift is found.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	drifted := false
	status := withBackend(ctx, func(b *backend.Backend) error {
		var results []reconcile.Result
		if c.set() {
			scope, err := c.scope()
			if err != nil {
				return err
			}
			res, err := b.Checker.Reconcile(ctx, scope)
			if err != nil && !core.IsConsistency(err) {
				return err
			}
			results = append(results, res)
		} else {
			var err error
			if results, err = b.Checker.ReconcileAll(ctx); err != nil {
				return err
			}
		}
		printResults(os.Stdout, results)
		for _, r := range results {
			if !r.Consistent() {
				drifted = true
			}
		}
		return nil
	})
	if status == subcommands.ExitSuccess && drifted {
		return subcommands.ExitFailure
	}
	return status
}

type repairCmd struct {
	scopeFlags
	all bool
}

func (*repairCmd) Name() string     { return "repair" }
func (*repairCmd) Synopsis() string { return "overwrite drifted aggregates with recomputed totals" }
func (*repairCmd) Usage() string {
	return `ledgerctl repair (-case <id> | -advocate <id> -year <yyyy> | -all)

  Rewrites the stored totals of an aggregate with the totals recomputed from
  its entries and records the repair in the activity log. Consistent
  aggregates are left untouched.
`
}

func (c *repairCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.BoolVar(&c.all, "all", false, "Repair every drifted aggregate.")
}

func (c *repairCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.all == c.set() {
		fmt.Fprintln(os.Stderr, "use exactly one of -all or a single scope")
		return subcommands.ExitUsageError
	}
	return withBackend(ctx, func(b *backend.Backend) error {
		var scopes []core.Scope
		if c.all {
			results, err := b.Checker.ReconcileAll(ctx)
			if err != nil {
				return err
			}
			for _, r := range results {
				if !r.Consistent() {
					scopes = append(scopes, r.Scope)
				}
			}
		} else {
			scope, err := c.scope()
			if err != nil {
				return err
			}
			scopes = append(scopes, scope)
		}

		results := make([]reconcile.Result, 0, len(scopes))
		for _, scope := range scopes {
			res, err := b.Checker.Repair(ctx, scope)
			if err != nil {
				return fmt.Errorf("repair %s: %w", scope, err)
			}
			results = append(results, res)
		}
		printResults(os.Stdout, results)
		return nil
	})
}

type monthlyCmd struct {
	advocate int64
	year     int
	caseID   int64
}

func (*monthlyCmd) Name() string     { return "monthly" }
func (*monthlyCmd) Synopsis() string { return "print an advocate's income and expenses per month" }
func (*monthlyCmd) Usage() string {
	return `ledgerctl monthly -advocate <id> -year <yyyy> [-case <id>]
`
}

func (c *monthlyCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.advocate, "advocate", 0, "Advocate id.")
	f.IntVar(&c.year, "year", 0, "Year to report.")
	f.Int64Var(&c.caseID, "case", 0, "Restrict to one case.")
}

func (c *monthlyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.advocate == 0 || c.year == 0 {
		fmt.Fprintln(os.Stderr, "-advocate and -year are required")
		return subcommands.ExitUsageError
	}
	return withBackend(ctx, func(b *backend.Backend) error {
		f := core.ReportFilter{Year: c.year}
		if c.caseID != 0 {
			f.CaseID = &c.caseID
		}
		series, err := b.Reports.MonthlySeries(ctx, core.Actor{AdvocateID: c.advocate}, f)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "MONTH\tINCOME\tEXPENSES\tPROFIT\t")
		for _, p := range series {
			fmt.Fprintf(tw, "%02d\t%s\t%s\t%s\t\n", p.Month, p.Income, p.Expenses, p.Profit)
		}
		return tw.Flush()
	})
}

type yearlyCmd struct {
	advocate int64
	from     int
	to       int
}

func (*yearlyCmd) Name() string     { return "yearly" }
func (*yearlyCmd) Synopsis() string { return "print an advocate's totals per year" }
func (*yearlyCmd) Usage() string {
	return `ledgerctl yearly -advocate <id> -from <yyyy> [-to <yyyy>]
`
}

func (c *yearlyCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.advocate, "advocate", 0, "Advocate id.")
	f.IntVar(&c.from, "from", 0, "First year.")
	f.IntVar(&c.to, "to", 0, "Last year (defaults to -from).")
}

func (c *yearlyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.advocate == 0 || c.from == 0 {
		fmt.Fprintln(os.Stderr, "-advocate and -from are required")
		return subcommands.ExitUsageError
	}
	to := c.to
	if to == 0 {
		to = c.from
	}
	return withBackend(ctx, func(b *backend.Backend) error {
		series, err := b.Reports.YearlySeries(ctx, core.Actor{AdvocateID: c.advocate}, c.from, to)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "YEAR\tINCOME\tEXPENSES\tPROFIT\t")
		for _, p := range series {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", p.Year, p.Income, p.Expenses, p.Profit)
		}
		return tw.Flush()
	})
}

type eventsCmd struct{}

func (*eventsCmd) Name() string     { return "events" }
func (*eventsCmd) Synopsis() string { return "print ledger events from the configured AMQP queue" }
func (*eventsCmd) Usage() string {
	return `ledgerctl events

  Binds AMQP_QUEUE to AMQP_EXCHANGE and prints every ledger event as one
  JSON line until interrupted.
`
}

func (*eventsCmd) SetFlags(*flag.FlagSet) {}

func (*eventsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, logger, err := cli.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if cfg.AMQPURL == "" || cfg.AMQPQueue == "" {
		fmt.Fprintln(os.Stderr, "AMQP_URL and AMQP_QUEUE must be set")
		return subcommands.ExitUsageError
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	client.SetLogger(logger)

	ctx, done := cli.GracefulShutdown(logger, 5*time.Second, func(context.Context) {
		_ = client.Close()
	})
	err = client.ConsumeLedgerEvents(ctx, func(msg *amqp.LedgerEventMessage) error {
		data, err := msg.ToJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	cli.WaitForShutdown(ctx, done)
	return subcommands.ExitSuccess
}
