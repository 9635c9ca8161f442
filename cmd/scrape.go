package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/goldrate-cli/internal/browser"
	"github.com/sells-group/goldrate-cli/internal/events"
	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/monitoring"
	"github.com/sells-group/goldrate-cli/internal/pipeline"
	"github.com/sells-group/goldrate-cli/internal/scrape"
	"github.com/sells-group/goldrate-cli/internal/validate"
)

// errRunFailed is returned when every target failed. The report has
// already been printed.
var errRunFailed = eris.New("every target failed")

var (
	scrapeJewellers   []string
	scrapeCities      []string
	scrapeDays        int
	scrapeCollection  string
	scrapeCredentials string
	scrapeNoStore     bool
	scrapeOutputFile  string
	scrapeTargetsFile string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Extract gold prices for jeweller/city targets and store them",
	Long: `Extract 18K, 22K and 24K gold prices for a trailing window of days from
each target's rate page, validate them and upsert them into the store.

Targets are every --jewellers x --cities pair, or the pairs listed in
--targets-file. Jewellers default to tanishq; cities default to every city
the jeweller serves.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyScrapeFlags(cmd)
		mode := "scrape"
		if scrapeNoStore {
			mode = "extract"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		registry := scrape.DefaultRegistry()
		targets, err := resolveTargets(registry)
		if err != nil {
			return err
		}

		report, err := runScrape(ctx, registry, targets)
		if report != nil {
			fmt.Fprint(cmd.OutOrStdout(), pipeline.FormatReport(report))
		}
		if err != nil {
			return err
		}
		if report.Status == model.StatusFailed {
			return errRunFailed
		}
		return nil
	},
}

// applyScrapeFlags lets explicitly set flags override configuration.
func applyScrapeFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("days") {
		cfg.Scrape.Days = scrapeDays
	}
	if scrapeCredentials != "" {
		cfg.Store.CredentialsFile = scrapeCredentials
	}
	if scrapeCollection != "" {
		cfg.Store.Collection = scrapeCollection
	}
}

func resolveTargets(registry *scrape.Registry) ([]model.Target, error) {
	if scrapeTargetsFile != "" {
		return pipeline.LoadTargetsFile(scrapeTargetsFile)
	}

	var jewellers []model.Jeweller
	for _, j := range pipeline.ParseList(scrapeJewellers) {
		jewellers = append(jewellers, model.Jeweller(j))
	}
	var cities []model.City
	for _, c := range pipeline.ParseList(scrapeCities) {
		cities = append(cities, model.City(c))
	}
	return pipeline.Targets(registry, jewellers, cities), nil
}

func runScrape(ctx context.Context, registry *scrape.Registry, targets []model.Target) (*model.RunReport, error) {
	loc, err := cfg.Scrape.Location()
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Registry: registry,
		Extractor: scrape.NewExtractor(scrape.Options{
			DayDelay:       time.Duration(cfg.Scrape.DayDelayMs) * time.Millisecond,
			RefreshTimeout: time.Duration(cfg.Scrape.RefreshTimeoutMs) * time.Millisecond,
			ReadyTimeout:   time.Duration(cfg.Scrape.ReadyTimeoutMs) * time.Millisecond,
			Location:       loc,
		}),
		Validator: validate.New(cfg.Band.MinPrice, cfg.Band.MaxPrice),
	}

	// Credentials and the store are checked before Chrome is launched.
	if !scrapeNoStore {
		w, err := initWriter(ctx, "")
		if err != nil {
			return nil, err
		}
		defer w.Store().Close() //nolint:errcheck
		deps.Writer = w
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close() //nolint:errcheck
		deps.Events = producer
	}

	if alerter := monitoring.NewAlerter(cfg.Monitoring); alerter.Enabled() {
		deps.Notifier = alerter
	}

	mgr := browser.NewManager(browser.ConfigFrom(cfg.Browser))
	defer mgr.Close() //nolint:errcheck
	if err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	deps.Sessions = mgr

	opts := pipeline.Options{
		Days:             cfg.Scrape.Days,
		TargetDelay:      time.Duration(cfg.Scrape.TargetDelayMs) * time.Millisecond,
		PartialThreshold: cfg.Scrape.PartialThreshold,
		BackupPath:       scrapeOutputFile,
		BackupDir:        cfg.Backup.Dir,
	}
	if scrapeNoStore && opts.BackupPath == "" && opts.BackupDir == "" {
		opts.BackupDir = "."
	}

	zap.L().Info("scrape starting",
		zap.Int("targets", len(targets)),
		zap.String("store", storeLabel()),
	)
	return pipeline.New(deps, opts).Run(ctx, targets)
}

func storeLabel() string {
	if scrapeNoStore {
		return "none"
	}
	return cfg.Store.Driver
}

func init() {
	f := scrapeCmd.Flags()
	f.StringSliceVar(&scrapeJewellers, "jewellers", nil, "jewellers to scrape (default tanishq)")
	f.StringSliceVar(&scrapeCities, "cities", nil, "cities to scrape (default every city the jeweller serves)")
	f.IntVar(&scrapeDays, "days", 30, "days of history per target, counting today")
	f.StringVar(&scrapeCollection, "collection", "", "store collection (default from config)")
	f.StringVar(&scrapeCredentials, "credentials", "", "service account JSON for the firestore store")
	f.BoolVar(&scrapeNoStore, "no-store", false, "skip the store and only write the backup file")
	f.StringVar(&scrapeOutputFile, "output-file", "", "write the JSON backup artifact here")
	f.StringVar(&scrapeTargetsFile, "targets-file", "", "YAML file listing {jeweller, city} targets")
	rootCmd.AddCommand(scrapeCmd)
}
