//go:build !integration

package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/goldrate-cli/internal/config"
	"github.com/sells-group/goldrate-cli/internal/model"
)

// sqliteConfig points the global config at a fresh SQLite file.
func sqliteConfig(t *testing.T) {
	t.Helper()
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "gold.db"),
			Collection:  "gold_prices",
		},
		Retry:   config.RetryConfig{MaxAttempts: 1},
		Circuit: config.CircuitConfig{FailureThreshold: 5, ResetTimeoutSecs: 30},
		Server:  config.ServerConfig{Port: 8080},
	}
}

func record(carat model.Carat, price string, day string) model.PriceRecord {
	d, _ := time.Parse(model.DateLayout, day)
	return model.PriceRecord{
		Jeweller:         "tanishq",
		City:             "Bangalore",
		Carat:            carat,
		Price:            decimal.RequireFromString(price),
		Date:             d,
		ExtractedAt:      time.Date(2025, 1, 15, 4, 30, 0, 0, time.UTC),
		SourceURL:        "https://www.tanishq.co.in/gold-rate.html?lang=en_IN",
		ExtractionMethod: "hidden_input",
		Currency:         model.CurrencyINR,
		Unit:             model.UnitPerGram,
	}
}
