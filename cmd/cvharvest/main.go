package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mixelka/cvharvest/internal/archive"
	"github.com/mixelka/cvharvest/internal/config"
	"github.com/mixelka/cvharvest/internal/export"
	"github.com/mixelka/cvharvest/internal/extract"
	"github.com/mixelka/cvharvest/internal/llm"
	"github.com/mixelka/cvharvest/internal/mailbox"
	"github.com/mixelka/cvharvest/internal/processor"
	"github.com/mixelka/cvharvest/internal/store"
)

const usage = `usage: cvharvest <command> [flags]

commands:
  watch         poll the mailbox and download new CV attachments
  full-process  one harvest + process + save cycle
  single FILE   structure a single CV file, bypassing the mailbox
  reset-uid     clear the UID watermark so the next run rescans everything
`

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	switch os.Args[1] {
	case "watch":
		err = runWatch(ctx, cfg, logger, os.Args[2:])
	case "full-process":
		err = runFullProcess(ctx, cfg, logger, os.Args[2:])
	case "single":
		err = runSingle(ctx, cfg, logger, os.Args[2:])
	case "reset-uid":
		err = runResetUID(cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func runWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := flags.Duration("interval", cfg.PollInterval, "time between mailbox scans")
	host := flags.String("host", cfg.IMAPHost, "IMAP host")
	port := flags.Int("port", cfg.IMAPPort, "IMAP port")
	user := flags.String("user", cfg.IMAPUser, "IMAP user")
	password := flags.String("password", cfg.IMAPPassword, "IMAP password")
	all := flags.Bool("all", !cfg.UnseenOnly, "scan all messages, not only unseen")
	from := flags.String("from", "", "only messages sent on or after this date (2006-01-02)")
	to := flags.String("to", "", "only messages sent before this date (2006-01-02)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg.IMAPHost, cfg.IMAPPort, cfg.IMAPUser, cfg.IMAPPassword = *host, *port, *user, *password
	if err := cfg.ValidateMail(); err != nil {
		return err
	}

	opts, err := harvestOptions(cfg, !*all, *from, *to)
	if err != nil {
		return err
	}

	client := newMailClient(cfg, logger)
	harvester := newHarvester(cfg, client, logger)
	watcher := mailbox.NewWatcher(client, harvester, *interval, logger)
	return watcher.Run(ctx, opts)
}

func runFullProcess(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("full-process", flag.ExitOnError)
	all := flags.Bool("all", !cfg.UnseenOnly, "scan all messages, not only unseen")
	from := flags.String("from", "", "only messages sent on or after this date (2006-01-02)")
	to := flags.String("to", "", "only messages sent before this date (2006-01-02)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := cfg.ValidateMail(); err != nil {
		return err
	}

	harvestOpts, err := harvestOptions(cfg, !*all, *from, *to)
	if err != nil {
		return err
	}

	client := newMailClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Logout()

	structurer, err := newStructurer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer structurer.Close()

	harvester := newHarvester(cfg, client, logger)
	proc := processor.New(
		harvester,
		extract.New(logger),
		structurer,
		ledgerFor(cfg),
		cfg.AttachmentDir,
		logger,
	)

	records, err := proc.Process(ctx, processor.Options{Harvest: harvestOpts})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		logger.Info("nothing to process")
		return nil
	}

	if err := export.WriteCSV(records, cfg.OutputCSV); err != nil {
		return err
	}
	if err := export.WriteExcel(records, cfg.OutputExcel, cfg.AttachmentDir); err != nil {
		return err
	}
	logger.Info("results written", "records", len(records), "csv", cfg.OutputCSV, "excel", cfg.OutputExcel)

	history, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		logger.Warn("could not open archive", "error", err)
		return nil
	}
	defer history.Close()
	runID, err := history.SaveRun(ctx, records)
	if err != nil {
		logger.Warn("could not archive run", "error", err)
		return nil
	}
	logger.Info("run archived", "run_id", runID)
	return nil
}

func runSingle(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: cvharvest single FILE")
	}

	structurer, err := newStructurer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer structurer.Close()

	proc := processor.New(nil, extract.New(logger), structurer, ledgerFor(cfg), cfg.AttachmentDir, logger)
	record, err := proc.ProcessFile(ctx, args[0])
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func runResetUID(cfg *config.Config, logger *slog.Logger) error {
	watermark := store.NewWatermark(watermarkPath(cfg))
	if err := watermark.Reset(); err != nil {
		return err
	}
	logger.Info("watermark reset, next harvest scans the whole mailbox")
	return nil
}

func newMailClient(cfg *config.Config, logger *slog.Logger) *mailbox.Client {
	return mailbox.NewClient(mailbox.ClientConfig{
		Host:        cfg.IMAPHost,
		Port:        cfg.IMAPPort,
		User:        cfg.IMAPUser,
		Password:    cfg.IMAPPassword,
		DialTimeout: cfg.IMAPDialTimeout,
	}, logger)
}

func newHarvester(cfg *config.Config, client *mailbox.Client, logger *slog.Logger) *mailbox.Harvester {
	return mailbox.NewHarvester(
		client,
		ledgerFor(cfg),
		store.NewWatermark(watermarkPath(cfg)),
		cfg.AttachmentDir,
		logger,
	)
}

func newStructurer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.Structurer, error) {
	backend, err := llm.NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return llm.NewStructurer(backend, logger), nil
}

func ledgerFor(cfg *config.Config) *store.Ledger {
	return store.NewLedger(filepath.Join(cfg.AttachmentDir, "sent_times.json"))
}

func watermarkPath(cfg *config.Config) string {
	return filepath.Join(cfg.StateDir, "last_uid.txt")
}

func harvestOptions(cfg *config.Config, unseenOnly bool, from, to string) (mailbox.Options, error) {
	opts := mailbox.Options{
		Keywords:   cfg.Keywords,
		UnseenOnly: unseenOnly,
		BatchSize:  cfg.BatchSize,
		// -all means a true rescan: seen messages and UIDs below the
		// watermark are both back in scope.
		IgnoreWatermark: !unseenOnly,
	}
	if from != "" {
		since, err := time.Parse("2006-01-02", from)
		if err != nil {
			return opts, fmt.Errorf("invalid -from date: %w", err)
		}
		opts.Since = since
	}
	if to != "" {
		before, err := time.Parse("2006-01-02", to)
		if err != nil {
			return opts, fmt.Errorf("invalid -to date: %w", err)
		}
		opts.Before = before
	}
	return opts, nil
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
