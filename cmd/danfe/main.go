package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"github.com/xhad/danfe/internal/app"
	"github.com/xhad/danfe/internal/logger"
	"github.com/xhad/danfe/internal/models"
	cfgPkg "github.com/xhad/danfe/pkg/config"
	"github.com/xhad/danfe/pkg/keys"
	"github.com/xhad/danfe/pkg/report"
)

type flags struct {
	configPath  string
	apiKey      string
	outDir      string
	keysFile    string
	dbURL       string
	pdf         bool
	zip         bool
	failFast    bool
	inspect     bool
	verbose     bool
	maxAttempts int
	keyRate     float64
}

func main() {
	if err := run(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	var f flags

	flagSet := pflag.NewFlagSet("danfe", pflag.ContinueOnError)
	flagSet.StringVar(&f.configPath, "config", "", "path to config file")
	flagSet.StringVar(&f.apiKey, "api-key", "", "registry API key (default: $DANFE_API_KEY)")
	flagSet.StringVarP(&f.outDir, "out", "o", "", "destination folder for downloaded files")
	flagSet.StringVarP(&f.keysFile, "keys-file", "f", "", "file with one access key per line (- for stdin)")
	flagSet.StringVar(&f.dbURL, "db-url", "", "PostgreSQL connection string for the retrieval ledger")
	flagSet.BoolVar(&f.pdf, "pdf", true, "also download the DANFE PDF")
	flagSet.BoolVar(&f.zip, "zip", true, "bundle the destination folder into a zip archive")
	flagSet.BoolVar(&f.failFast, "fail-fast", false, "stop polling a key as soon as the registry reports an error")
	flagSet.BoolVar(&f.inspect, "inspect", false, "check downloaded XML and PDF contents")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "also write progress to the structured log")
	flagSet.IntVar(&f.maxAttempts, "max-attempts", 0, "status checks per key before giving up")
	flagSet.Float64Var(&f.keyRate, "key-rate", 0, "maximum keys started per second (0 for no limit)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	config, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(flagSet, &f, config)

	if errs := config.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	documentKeys, err := readKeys(flagSet.Args(), f.keysFile)
	if err != nil {
		return err
	}
	if len(documentKeys) == 0 {
		color.Yellow("no valid 44-digit access keys found")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	log := logger.New("danfe")
	a, err := app.New(ctx, config, log)
	if err != nil {
		return err
	}
	defer a.Close()

	color.Blue("\nStarting download of %d documents into %s\n", len(documentKeys), config.Output.Dir)

	console := report.NewConsole(os.Stdout, len(documentKeys))
	reporter := report.Multi{console}
	if f.verbose {
		reporter = append(reporter, report.Log{Logger: log})
	}

	result, archive, err := a.Run(ctx, a.Request(documentKeys), reporter)
	console.Summary(result)
	if err != nil {
		return fmt.Errorf("batch aborted: %w", err)
	}
	if archive != "" {
		color.Green("✓ Archive written to %s", archive)
	}
	return nil
}

// applyFlags lets explicitly set flags win over the config file.
func applyFlags(flagSet *pflag.FlagSet, f *flags, config *cfgPkg.Config) {
	if flagSet.Changed("api-key") {
		config.Registry.APIKey = f.apiKey
	}
	if flagSet.Changed("out") {
		config.Output.Dir = f.outDir
	}
	if flagSet.Changed("db-url") {
		config.Database.URL = f.dbURL
	}
	if flagSet.Changed("pdf") {
		config.Retrieval.FetchSecondary = &f.pdf
	}
	if flagSet.Changed("zip") {
		config.Output.Archive = &f.zip
	}
	if flagSet.Changed("fail-fast") {
		config.Retrieval.FailFast = f.failFast
	}
	if flagSet.Changed("inspect") {
		config.Retrieval.Inspect = f.inspect
	}
	if flagSet.Changed("max-attempts") {
		config.Retrieval.MaxAttempts = f.maxAttempts
	}
	if flagSet.Changed("key-rate") {
		config.Retrieval.KeyRate = f.keyRate
	}
}

// readKeys takes keys from positional arguments, then the keys file, then
// stdin when neither is given.
func readKeys(args []string, keysFile string) ([]models.DocumentKey, error) {
	if len(args) > 0 {
		return keys.Parse(strings.Join(args, "\n")), nil
	}

	if keysFile != "" && keysFile != "-" {
		file, err := os.Open(keysFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open keys file: %w", err)
		}
		defer file.Close()
		return keys.ReadFrom(file)
	}

	color.Cyan("Paste access keys, one per line (Ctrl-D to finish):")
	return keys.ReadFrom(os.Stdin)
}
