package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/export"
	"github.com/zero-network/txexporter/pkg/files"
	"github.com/zero-network/txexporter/pkg/logging"
	"github.com/zero-network/txexporter/pkg/pager"
	"github.com/zero-network/txexporter/pkg/presets"
	"github.com/zero-network/txexporter/pkg/utils"
	"go.uber.org/zap"
)

const (
	exitOK   = 0
	exitFail = 1

	legacyOutput = "transactions.csv"
)

const usage = `Fetch and export Zero Network token transactions to CSV.

Usage:
  exporter export (--address A | --addresses A B ... | --address-file F) [flags]
  exporter recent [-n N]
  exporter preset list
  exporter preset save NAME -a ADDR [flags]
  exporter preset delete NAME
  exporter preset use NAME [-o out]
  exporter 0xADDR [flags]

Run "exporter export -h" for the export flags.
`

// listFlag collects repeated and comma separated values.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, utils.SplitList(v)...)
	return nil
}

// exportFlags are shared by export, legacy mode and preset save.
type exportFlags struct {
	output        string
	page          int
	maxPages      int
	records       int
	sort          string
	internal      bool
	apiURL        string
	fields        listFlag
	startDate     string
	endDate       string
	noDateFilter  bool
	tokenContract string
	verbose       bool
}

func (f *exportFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&f.page, "p", 1, "page to start from")
	fs.IntVar(&f.page, "page", 1, "page to start from")
	fs.StringVar(&f.apiURL, "u", "", "explorer API base URL (default: EXPLORER_API_URLS)")
	fs.StringVar(&f.apiURL, "api-url", "", "explorer API base URL")
	fs.IntVar(&f.maxPages, "m", 0, "maximum pages per address (0 = all)")
	fs.IntVar(&f.maxPages, "max-pages", 0, "maximum pages per address (0 = all)")
	fs.IntVar(&f.records, "r", pager.DefaultPageSize, "records per page")
	fs.IntVar(&f.records, "records", pager.DefaultPageSize, "records per page")
	fs.StringVar(&f.sort, "s", "asc", "sort order: asc or desc")
	fs.StringVar(&f.sort, "sort", "asc", "sort order: asc or desc")
	fs.BoolVar(&f.internal, "i", false, "fetch internal transactions")
	fs.BoolVar(&f.internal, "internal", false, "fetch internal transactions")
	fs.Var(&f.fields, "f", "extra fields, comma separated or repeated")
	fs.Var(&f.fields, "fields", "extra fields, comma separated or repeated")
	fs.StringVar(&f.startDate, "start-date", "", "start date YYYY-MM-DD")
	fs.StringVar(&f.endDate, "end-date", "", "end date YYYY-MM-DD")
	fs.BoolVar(&f.noDateFilter, "no-date-filter", false, "disable date filtering")
	fs.StringVar(&f.tokenContract, "token-contract", "", "token contract address")
	fs.BoolVar(&f.verbose, "v", false, "verbose logging")
	fs.BoolVar(&f.verbose, "verbose", false, "verbose logging")
}

func (f *exportFlags) registerOutput(fs *flag.FlagSet) {
	fs.StringVar(&f.output, "o", "", "output CSV path (default: generated in EXPORT_DIR)")
	fs.StringVar(&f.output, "output", "", "output CSV path")
}

func (f *exportFlags) validate() error {
	if f.sort != "asc" && f.sort != "desc" {
		return fmt.Errorf("invalid sort %q: use asc or desc", f.sort)
	}
	if f.page < 1 || f.records < 1 || f.maxPages < 0 {
		return errors.New("page and records must be positive, max-pages must not be negative")
	}
	return nil
}

func (f *exportFlags) window() (pager.Window, error) {
	if f.noDateFilter {
		return pager.Window{}, nil
	}
	return pager.ParseWindow(f.startDate, f.endDate)
}

func (f *exportFlags) request(addresses []string) (export.Request, error) {
	if err := f.validate(); err != nil {
		return export.Request{}, err
	}
	w, err := f.window()
	if err != nil {
		return export.Request{}, err
	}
	return export.Request{
		Addresses:     addresses,
		OutputFile:    f.output,
		StartPage:     f.page,
		MaxPages:      f.maxPages,
		PageSize:      f.records,
		Sort:          explorer.ParseSort(f.sort),
		Internal:      f.internal,
		Fields:        f.fields,
		Window:        w,
		TokenContract: f.tokenContract,
		APIURL:        f.apiURL,
	}, nil
}

// cli carries the process wiring for one invocation.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger
}

func newLogger(verbose bool) *zap.Logger {
	level := utils.Env("LOG_LEVEL", "info")
	if verbose {
		level = "debug"
	}
	logger, err := logging.NewWith(level, utils.Env("LOG_ENCODING", "console"))
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// run executes the command line in args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitFail
	}

	var err error
	switch cmd := args[0]; {
	case strings.HasPrefix(strings.ToLower(cmd), "0x"):
		err = c.legacy(ctx, args)
	case cmd == "export":
		err = c.export(ctx, args[1:])
	case cmd == "recent":
		err = c.recent(args[1:])
	case cmd == "preset":
		err = c.preset(ctx, args[1:])
	case cmd == "-h" || cmd == "--help" || cmd == "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		err = fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}

	if c.logger != nil {
		_ = c.logger.Sync()
	}
	switch {
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case err != nil:
		fmt.Fprintln(stderr, "Error:", err)
		return exitFail
	}
	return exitOK
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parseInterleaved parses fs allowing positional arguments between flags and returns the positionals.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		i := 0
		for i < len(rest) && (rest[i] == "-" || !strings.HasPrefix(rest[i], "-")) {
			positional = append(positional, rest[i])
			i++
		}
		if i == len(rest) {
			return positional, nil
		}
		args = rest[i:]
	}
}

func parseNoArgs(fs *flag.FlagSet, args []string) error {
	extra, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(extra) > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(extra, " "))
	}
	return nil
}

// legacy handles "exporter 0xADDR [flags]": one address, output transactions.csv unless -o is given.
func (c *cli) legacy(ctx context.Context, args []string) error {
	var f exportFlags
	fs := c.flagSet("exporter 0xADDR")
	f.register(fs)
	f.registerOutput(fs)
	extra, err := parseInterleaved(fs, args[1:])
	if err != nil {
		return err
	}
	if len(extra) > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(extra, " "))
	}
	if f.output == "" {
		f.output = legacyOutput
	}
	c.logger = newLogger(f.verbose)
	c.logger.Info("Legacy mode", zap.String("address", args[0]))
	return c.runExport(ctx, &f, []string{args[0]})
}

func (c *cli) export(ctx context.Context, args []string) error {
	var (
		f           exportFlags
		address     string
		addresses   listFlag
		addressFile string
	)
	fs := c.flagSet("exporter export")
	fs.StringVar(&address, "a", "", "address to export")
	fs.StringVar(&address, "address", "", "address to export")
	fs.Var(&addresses, "as", "several addresses, comma separated, repeated or trailing")
	fs.Var(&addresses, "addresses", "several addresses, comma separated, repeated or trailing")
	fs.StringVar(&addressFile, "af", "", "file with one address per line")
	fs.StringVar(&addressFile, "address-file", "", "file with one address per line")
	f.register(fs)
	f.registerOutput(fs)
	extra, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	c.logger = newLogger(f.verbose)

	// --addresses A B C: the values after the first one arrive as positional arguments.
	if len(addresses) > 0 {
		addresses = append(addresses, extra...)
	} else if len(extra) > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(extra, " "))
	}

	given := 0
	for _, set := range []bool{address != "", len(addresses) > 0, addressFile != ""} {
		if set {
			given++
		}
	}
	if given != 1 {
		return errors.New("exactly one of --address, --addresses or --address-file is required")
	}

	var list []string
	switch {
	case address != "":
		list = []string{address}
	case len(addresses) > 0:
		list = export.ParseAddresses(strings.Join(addresses, ","))
		c.logger.Info("Processing addresses in batch mode", zap.Int("addresses", len(list)))
	default:
		fh, err := os.Open(addressFile)
		if err != nil {
			return fmt.Errorf("load addresses: %w", err)
		}
		all, err := export.ReadAddresses(fh, false)
		_ = fh.Close()
		if err != nil {
			return err
		}
		list = export.HexOnly(all)
		c.logger.Info("Loaded addresses from file", zap.String("file", addressFile), zap.Int("addresses", len(list)))
	}
	if len(list) == 0 {
		return errors.New("no valid addresses provided")
	}
	return c.runExport(ctx, &f, list)
}

func (c *cli) service() *export.Service {
	opts := explorer.OptsFromEnv(c.logger)
	pinned := explorer.FetcherFor(opts)
	return export.NewService(export.ServiceOpts{
		Fetcher: explorer.NewClient(opts),
		FetcherFor: func(baseURL string) pager.Fetcher {
			return pinned(baseURL)
		},
		Dir:    exportDir(),
		Logger: c.logger,
	})
}

func (c *cli) runExport(ctx context.Context, f *exportFlags, addresses []string) error {
	req, err := f.request(addresses)
	if err != nil {
		return err
	}
	return c.exportRequest(ctx, req)
}

func (c *cli) exportRequest(ctx context.Context, req export.Request) error {
	n, err := c.service().Run(ctx, req, nil)
	var none *export.NoTransactionsError
	switch {
	case errors.As(err, &none):
		c.logger.Warn(none.Error())
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintf(c.stdout, "Exported %d transactions\n", n)
	return c.printRecent(5)
}

func (c *cli) recent(args []string) error {
	var (
		n       int
		verbose bool
	)
	fs := c.flagSet("exporter recent")
	fs.IntVar(&n, "n", 5, "number of files to show")
	fs.IntVar(&n, "num-files", 5, "number of files to show")
	fs.BoolVar(&verbose, "v", false, "verbose logging")
	if err := parseNoArgs(fs, args); err != nil {
		return err
	}
	c.logger = newLogger(verbose)
	return c.printRecent(n)
}

func (c *cli) printRecent(n int) error {
	paths, err := files.Recent([]string{exportDir()}, "*.csv", n)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(c.stdout, "No export files found.")
		return nil
	}
	fmt.Fprintf(c.stdout, "Recent exports in %s:\n", exportDir())
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSIZE\tMODIFIED\tROWS")
	for _, info := range files.NewDescriber(len(paths)).DescribeAll(paths) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", info.Name, info.SizeKB, info.ModifiedText(), info.Rows)
	}
	return tw.Flush()
}

func (c *cli) store() *presets.Store {
	return presets.NewStore(utils.Env("PRESETS_FILE", presets.DefaultPath), c.logger)
}

func (c *cli) preset(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no preset command specified\n\n%s", usage)
	}
	sub, rest := args[0], args[1:]

	// Subcommands taking a NAME get it first, flags after it.
	var name string
	if sub != "list" {
		if len(rest) == 0 || strings.HasPrefix(rest[0], "-") {
			return fmt.Errorf("preset %s: NAME is required", sub)
		}
		name, rest = rest[0], rest[1:]
	}

	switch sub {
	case "list":
		fs := c.flagSet("exporter preset list")
		verbose := fs.Bool("v", false, "verbose logging")
		if err := parseNoArgs(fs, rest); err != nil {
			return err
		}
		c.logger = newLogger(*verbose)
		return c.listPresets()

	case "save":
		var (
			f        exportFlags
			address  listFlag
			schedule string
		)
		fs := c.flagSet("exporter preset save")
		fs.Var(&address, "a", "address (comma separated for several)")
		fs.Var(&address, "address", "address (comma separated for several)")
		fs.StringVar(&schedule, "schedule", "", "cron schedule for the web scheduler")
		f.register(fs)
		if err := parseNoArgs(fs, rest); err != nil {
			return err
		}
		c.logger = newLogger(f.verbose)
		if len(address) == 0 {
			return errors.New("preset save: --address is required")
		}
		if err := f.validate(); err != nil {
			return err
		}
		p := presets.Preset{
			Address:       presets.Addresses(address),
			Page:          f.page,
			APIURL:        f.apiURL,
			MaxPages:      f.maxPages,
			Records:       f.records,
			Sort:          f.sort,
			Internal:      f.internal,
			Fields:        f.fields,
			TokenContract: f.tokenContract,
			NoDateFilter:  f.noDateFilter,
			Schedule:      schedule,
		}
		if !f.noDateFilter {
			p.StartDate, p.EndDate = f.startDate, f.endDate
		}
		if err := c.store().Save(name, p); err != nil {
			return fmt.Errorf("save preset '%s': %w", name, err)
		}
		fmt.Fprintf(c.stdout, "Preset '%s' saved with address: %s\n", name, p.Address)
		return c.listPresets()

	case "delete":
		fs := c.flagSet("exporter preset delete")
		verbose := fs.Bool("v", false, "verbose logging")
		if err := parseNoArgs(fs, rest); err != nil {
			return err
		}
		c.logger = newLogger(*verbose)
		if err := c.store().Delete(name); err != nil {
			return fmt.Errorf("delete preset '%s': %w", name, err)
		}
		fmt.Fprintf(c.stdout, "Preset '%s' deleted\n", name)
		return c.listPresets()

	case "use":
		fs := c.flagSet("exporter preset use")
		var output string
		fs.StringVar(&output, "o", "", "output CSV path")
		fs.StringVar(&output, "output", "", "output CSV path")
		verbose := fs.Bool("v", false, "verbose logging")
		if err := parseNoArgs(fs, rest); err != nil {
			return err
		}
		c.logger = newLogger(*verbose)
		p, err := c.store().Get(name)
		if err != nil {
			return fmt.Errorf("preset '%s': %w", name, err)
		}
		c.logger.Info("Using preset", zap.String("preset", name), zap.String("config", p.Describe()))
		req, err := export.RequestFromPreset(p, output)
		if err != nil {
			return err
		}
		return c.exportRequest(ctx, req)

	default:
		return fmt.Errorf("unknown preset command %q", sub)
	}
}

func (c *cli) listPresets() error {
	all, err := c.store().Load()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(c.stdout, "No presets found.")
		return nil
	}
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintln(c.stdout, "Available presets:")
	for _, n := range names {
		fmt.Fprintf(c.stdout, "  %s: %s\n", n, all[n].Describe())
	}
	return nil
}

func exportDir() string {
	return utils.Env("EXPORT_DIR", export.DefaultDir)
}
