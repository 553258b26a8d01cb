// Command strategy runs one strategy, built in or loaded from a plugin,
// over every symbol of a destination store and prints the matches as JSON.
//
//	strategy -d file=./data -b watchlist
//	strategy -d sqlite=./market.db -p ./limitup.so test_end_date=2024-03-01 min_trade_days=60
//	strategy usage -b sma-cross
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"marketsync/internal/config"
	"marketsync/internal/engine"
	"marketsync/internal/store"
	"marketsync/internal/strategy"
	"marketsync/internal/strategy/builtins"
	"marketsync/internal/util"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

type options struct {
	version    bool
	level      string
	logFile    string
	concurrent int
	dests      []string
	path       string
	builtin    string
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	return fs
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "usage" {
		return usage(args[1:], stdout, stderr)
	}

	var opts options
	fs := newFlagSet("strategy", stderr)
	fs.BoolVarP(&opts.version, "version", "v", false, "print the version and exit")
	fs.StringVarP(&opts.level, "level", "l", "info", "log level: debug, info, warn or error")
	fs.StringVar(&opts.logFile, "log-file", "", "also write logs to this rotated file")
	fs.IntVarP(&opts.concurrent, "concurrent", "c", engine.DefaultConcurrency, "symbols tested concurrently")
	fs.StringArrayVarP(&opts.dests, "dest", "d", nil, "destination kind=connection; the first one is read")
	fs.StringVarP(&opts.path, "path", "p", "", "strategy plugin (.so) to load")
	fs.StringVarP(&opts.builtin, "builtin", "b", "", "built-in strategy name")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: strategy [options] [key=value ...]\n       strategy usage [-p path] [-b name]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if opts.version {
		fmt.Fprintf(stdout, "strategy %s\n", version)
		return exitOK
	}

	if _, err := util.ParseLevel(opts.level); err != nil {
		fmt.Fprintf(stderr, "strategy: %v\n", err)
		return exitUsage
	}
	logger := util.NewWriterLogger(opts.level, stderr)
	if opts.logFile != "" {
		var closer io.Closer
		logger, closer = util.NewFileLogger(opts.level, opts.logFile, stderr)
		defer closer.Close()
	}
	util.SetDefault(logger)

	s, common, params, dest, err := configure(opts, fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "strategy: %v\n", err)
		return exitUsage
	}
	if len(opts.dests) > 1 {
		logger.Warn("only the first destination is read", "dest", dest.String(), "ignored", len(opts.dests)-1)
	}

	st, err := store.Open(ctx, dest)
	if err != nil {
		fmt.Fprintf(stderr, "strategy: open %s: %v\n", dest.Kind, err)
		return exitFailed
	}
	defer st.Close()

	if err := s.Prepare(ctx, st, common, params); err != nil {
		fmt.Fprintf(stderr, "strategy: prepare %s: %v\n", s.Name(), err)
		return exitUsage
	}

	results, err := engine.New(s, st, engine.Options{Concurrency: opts.concurrent, Logger: logger}).Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Warn("interrupted, printing partial results", "matched", results.Len())
	default:
		fmt.Fprintf(stderr, "strategy: %v\n", err)
		return exitFailed
	}
	if err := printResults(stdout, results); err != nil {
		fmt.Fprintf(stderr, "strategy: %v\n", err)
		return exitFailed
	}
	return exitOK
}

// configure resolves the strategy and its parameters without touching the
// store.
func configure(opts options, args []string) (strategy.Strategy, *strategy.CommonParam, map[string]string, config.Dest, error) {
	var dest config.Dest
	if opts.concurrent < 1 {
		return nil, nil, nil, dest, fmt.Errorf("--concurrent must be positive, got %d", opts.concurrent)
	}
	if len(opts.dests) == 0 {
		return nil, nil, nil, dest, errors.New("at least one --dest is required")
	}
	dests, err := config.ParseDests(opts.dests)
	if err != nil {
		return nil, nil, nil, dest, err
	}
	dest = dests[0]

	all, err := strategy.ParseParams(args)
	if err != nil {
		return nil, nil, nil, dest, err
	}
	common, err := strategy.CommonParamFrom(all)
	if err != nil {
		return nil, nil, nil, dest, err
	}

	s, err := resolve(opts.path, opts.builtin)
	if err != nil {
		return nil, nil, nil, dest, err
	}
	return s, common, strategy.StrategyParams(all), dest, nil
}

// resolve picks the plugin at path or the named built-in; exactly one must
// be given.
func resolve(path, builtin string) (strategy.Strategy, error) {
	switch {
	case path != "" && builtin != "":
		return nil, errors.New("--path and --builtin are mutually exclusive")
	case path != "":
		return strategy.LoadPlugin(path)
	case builtin != "":
		return builtins.Registry().New(builtin)
	default:
		return nil, errors.New("one of --path or --builtin is required")
	}
}

func usage(args []string, stdout, stderr io.Writer) int {
	var path, builtin string
	fs := newFlagSet("strategy usage", stderr)
	fs.StringVarP(&path, "path", "p", "", "strategy plugin (.so)")
	fs.StringVarP(&builtin, "builtin", "b", "", "built-in strategy name")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if path == "" && builtin == "" {
		reg := builtins.Registry()
		for _, name := range reg.List() {
			s, err := reg.New(name)
			if err != nil {
				fmt.Fprintf(stderr, "strategy: %v\n", err)
				return exitFailed
			}
			printHelp(stdout, s)
		}
		return exitOK
	}
	// Both may be given: each one's help is printed.
	code := exitOK
	for _, r := range []struct{ path, builtin string }{{"", builtin}, {path, ""}} {
		if r.path == "" && r.builtin == "" {
			continue
		}
		s, err := resolve(r.path, r.builtin)
		if err != nil {
			fmt.Fprintf(stderr, "strategy: %v\n", err)
			code = exitUsage
			continue
		}
		printHelp(stdout, s)
	}
	return code
}

func printHelp(w io.Writer, s strategy.Strategy) {
	fmt.Fprintf(w, "%s (%s)\n%s\n\n", s.Name(), strategy.TypeOf(s), s.Help())
}

func printResults(w io.Writer, results strategy.Results) error {
	if results == nil {
		results = strategy.Results{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	slog.Debug("results printed", "matched", results.Len())
	return nil
}
