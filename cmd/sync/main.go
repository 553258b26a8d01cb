// Command sync brings every configured destination up to date with the
// market data source: trade calendar first, then symbol lists, then one
// pipeline per configured kind.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"marketsync/internal/config"
	"marketsync/internal/domain"
	"marketsync/internal/gather"
	"marketsync/internal/gather/cn"
	"marketsync/internal/gather/us"
	"marketsync/internal/store"
	"marketsync/internal/util"
)

const version = "0.1.0"

const defaultConfigPath = "config/marketsync.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfgPath := defaultConfigPath
	if p := os.Getenv("MARKETSYNC_CONFIG"); p != "" {
		cfgPath = p
	}

	var (
		showVersion bool
		level       string
		taskN       int
		dests       []string
		kinds       []string
	)
	fs := pflag.NewFlagSet("sync", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	fs.StringVar(&cfgPath, "config", cfgPath, "YAML config file (env MARKETSYNC_CONFIG)")
	fs.StringVarP(&level, "level", "l", "", "log level, overrides logging.level")
	fs.IntVarP(&taskN, "task-n", "n", 0, "fetch workers per kind, overrides sync.task_n")
	fs.StringArrayVarP(&dests, "dest", "d", nil, "destination kind=connection, replaces sync.dest")
	fs.StringSliceVarP(&kinds, "kinds", "k", nil, "kinds to sync, replaces sync.kinds")
	fs.BoolVarP(&showVersion, "version", "v", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		fmt.Fprintf(stdout, "sync %s\n", version)
		return 0
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "sync: failed to load config: %v\n", err)
		return 2
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	if taskN > 0 {
		cfg.Sync.TaskN = taskN
	}
	if len(dests) > 0 {
		cfg.Sync.Dest = dests
	}
	if len(kinds) > 0 {
		cfg.Sync.Kinds = kinds
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "sync: %v\n", err)
		return 2
	}
	if _, err := util.ParseLevel(cfg.Logging.Level); err != nil {
		fmt.Fprintf(stderr, "sync: %v\n", err)
		return 2
	}

	logger := util.NewWriterLogger(cfg.Logging.Level, stdout)
	if cfg.Logging.File != "" {
		var closer io.Closer
		logger, closer = util.NewFileLogger(cfg.Logging.Level, cfg.Logging.File, stdout)
		defer closer.Close()
	}
	util.SetDefault(logger)

	job, err := newJob(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "sync: %v\n", err)
		return 2
	}
	job.provider = newProvider(cfg, job.start)

	logger.Info("starting sync", "source", cfg.Source, "dests", len(cfg.Sync.Dest), "kinds", cfg.Sync.Kinds)
	if err := job.Run(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return 1
	}
	return 0
}

// provider is what one market data source offers. Margin and financial
// fetchers are nil for sources without them.
type provider struct {
	bars      gather.BarFetcher
	lister    gather.SymbolLister
	margin    gather.MarginFetcher
	financial gather.FinancialFetcher
	calendar  util.CalendarSource
}

// newProvider builds the configured source client. Clients log through the
// default logger, so it must be set first.
func newProvider(cfg *config.Config, start time.Time) provider {
	if cfg.Source == "us" {
		c := us.NewClient(cfg.Alpaca)
		return provider{bars: c, lister: c, calendar: c.Calendar(start)}
	}
	c := cn.NewClient(cfg.CN)
	return provider{bars: c, lister: c, margin: c, financial: c, calendar: c.Calendar(cfg.Sync.CalendarIndex)}
}

// job is one sync pass over every destination.
type job struct {
	cfg      *config.Config
	provider provider
	dests    []config.Dest
	kinds    []domain.Kind
	start    time.Time
	gate     gather.Gate
	retry    util.RetryPolicy
	log      *slog.Logger
	now      func() time.Time
}

func newJob(cfg *config.Config, log *slog.Logger) (*job, error) {
	dests, err := config.ParseDests(cfg.Sync.Dest)
	if err != nil {
		return nil, err
	}
	kinds := make([]domain.Kind, 0, len(cfg.Sync.Kinds))
	for _, k := range cfg.Sync.Kinds {
		kind, err := domain.ParseKind(k)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	start, err := cfg.StartDate()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	closeAt, err := cfg.CloseOffset()
	if err != nil {
		return nil, err
	}

	retry := util.RetryPolicy{
		MaxAttempts: cfg.Sync.Retry.Attempts,
		BaseDelay:   cfg.Sync.Retry.Delay,
		MaxDelay:    cfg.Sync.Retry.MaxDelay,
		Jitter:      0.2,
		Retryable:   domain.Retryable,
		OnRetry: func(attempt int, err error, next time.Duration) {
			log.Warn("retrying", "attempt", attempt, "error", err, "backoff", next.String())
		},
	}
	return &job{
		cfg:   cfg,
		dests: dests,
		kinds: kinds,
		start: start,
		gate:  gather.Gate{Location: loc, Close: closeAt},
		retry: retry,
		log:   log,
		now:   time.Now,
	}, nil
}

// Run syncs each destination in turn. A failed destination does not stop
// the others; cancellation does.
func (j *job) Run(ctx context.Context) error {
	var errs []error
	for _, d := range j.dests {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := j.syncDest(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func (j *job) syncDest(ctx context.Context, d config.Dest) error {
	log := j.log.With("dest", d.Kind)
	st, err := store.Open(ctx, d)
	if err != nil {
		return err
	}
	defer st.Close()

	cal, err := util.LoadCalendar(ctx, j.provider.calendar, store.IndexCalendar{Loader: st, Code: j.cfg.Sync.CalendarIndex})
	if err != nil {
		return err
	}
	if last, ok := cal.Last(); ok {
		log.Info("trade calendar loaded", "sessions", cal.Len(), "last", domain.FormatDate(last))
	} else {
		log.Warn("trade calendar is empty, extrapolating weekdays")
	}

	opts := gather.SyncerOptions{
		Store:     st,
		Calendar:  cal,
		Gate:      j.gate,
		StartDate: j.start,
		Retry:     j.retry,
		Logger:    log,
		Now:       j.now,
	}
	symbols := make(map[domain.Kind][]domain.Symbol)
	for _, kind := range j.kinds {
		if err := ctx.Err(); err != nil {
			return err
		}
		info := infoKind(kind)
		syms, ok := symbols[info]
		if !ok {
			if syms, err = j.symbols(ctx, st, info, log); err != nil {
				return err
			}
			symbols[info] = syms
		}
		if kind.IsInfo() {
			continue
		}

		syncer, err := j.syncer(kind, opts)
		if err != nil {
			return err
		}
		if len(syms) == 0 {
			log.Warn("no symbols to sync", "kind", string(kind))
			continue
		}
		p := &gather.Pipeline{
			Syncer:  syncer,
			Symbols: syms,
			TaskN:   j.cfg.Sync.TaskN,
			Buffer:  j.cfg.Sync.ChannelSize,
			Logger:  log,
		}
		if err := p.Run(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

// symbols refreshes an info kind from the source, falling back to the stored
// list when the source cannot list it, and narrows it to the configured
// codes.
func (j *job) symbols(ctx context.Context, st store.Store, info domain.Kind, log *slog.Logger) ([]domain.Symbol, error) {
	syms, err := gather.SyncSymbols(ctx, j.provider.lister, st, info, j.retry)
	switch {
	case errors.Is(err, domain.ErrUnsupported):
		log.Info("source cannot list symbols, using stored list", "kind", string(info))
	case err != nil:
		return nil, err
	}
	if len(syms) == 0 {
		if syms, err = st.LoadSymbols(ctx, info); err != nil {
			return nil, err
		}
	}

	codes := j.cfg.Sync.Symbols
	if info == domain.KindIndexInfo {
		codes = j.cfg.Sync.Indexes
	}
	return gather.FilterSymbols(syms, codes), nil
}

func (j *job) syncer(kind domain.Kind, opts gather.SyncerOptions) (gather.Syncer, error) {
	switch {
	case kind.IsBar():
		return gather.NewBarSyncer(kind, j.provider.bars, opts), nil
	case kind == domain.KindStockMargin && j.provider.margin != nil:
		return gather.NewMarginSyncer(j.provider.margin, opts), nil
	case kind == domain.KindStockFinancial && j.provider.financial != nil:
		return gather.NewFinancialSyncer(j.provider.financial, opts), nil
	}
	return nil, fmt.Errorf("%w: source %s cannot sync %s", domain.ErrUnsupported, j.cfg.Source, kind)
}

// infoKind is the symbol list a kind is synced for.
func infoKind(kind domain.Kind) domain.Kind {
	switch kind {
	case domain.KindIndexInfo, domain.KindIndexDaily:
		return domain.KindIndexInfo
	}
	return domain.KindStockInfo
}
