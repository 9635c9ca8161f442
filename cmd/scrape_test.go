//go:build !integration

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/goldrate-cli/internal/config"
	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/scrape"
)

func resetScrapeFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		scrapeJewellers, scrapeCities = nil, nil
		scrapeTargetsFile, scrapeCredentials, scrapeCollection = "", "", ""
		scrapeNoStore = false
	})
}

func TestResolveTargets_Flags(t *testing.T) {
	resetScrapeFlags(t)
	scrapeJewellers = []string{"tanishq,kalyan"}
	scrapeCities = []string{"Delhi"}

	got, err := resolveTargets(scrape.DefaultRegistry())
	require.NoError(t, err)
	assert.Equal(t, []model.Target{
		{Jeweller: "tanishq", City: "Delhi"},
		{Jeweller: "kalyan", City: "Delhi"},
	}, got)
}

func TestResolveTargets_Defaults(t *testing.T) {
	resetScrapeFlags(t)

	got, err := resolveTargets(scrape.DefaultRegistry())
	require.NoError(t, err)
	assert.Len(t, got, len(scrape.Tanishq().Cities))
}

func TestResolveTargets_File(t *testing.T) {
	resetScrapeFlags(t)
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte("targets:\n  - jeweller: tanishq\n    city: Pune\n"), 0o644))
	scrapeTargetsFile = path
	scrapeJewellers = []string{"kalyan"}

	got, err := resolveTargets(scrape.DefaultRegistry())
	require.NoError(t, err)
	assert.Equal(t, []model.Target{{Jeweller: "tanishq", City: "Pune"}}, got)
}

func TestApplyScrapeFlags(t *testing.T) {
	resetScrapeFlags(t)
	cfg = &config.Config{}
	cfg.Scrape.Days = 30
	cfg.Store.Collection = "gold_prices"

	require.NoError(t, scrapeCmd.Flags().Set("days", "7"))
	t.Cleanup(func() {
		_ = scrapeCmd.Flags().Set("days", "30")
		scrapeCmd.Flags().Lookup("days").Changed = false
	})
	scrapeCollection = "gold_prices_test"
	scrapeCredentials = "/secrets/key.json"

	applyScrapeFlags(scrapeCmd)
	assert.Equal(t, 7, cfg.Scrape.Days)
	assert.Equal(t, "gold_prices_test", cfg.Store.Collection)
	assert.Equal(t, "/secrets/key.json", cfg.Store.CredentialsFile)
}

func TestStoreLabel(t *testing.T) {
	resetScrapeFlags(t)
	cfg = &config.Config{Store: config.StoreConfig{Driver: "redis"}}

	assert.Equal(t, "redis", storeLabel())
	scrapeNoStore = true
	assert.Equal(t, "none", storeLabel())
}

func TestTargetsCmd_ListsRegistry(t *testing.T) {
	var buf bytes.Buffer
	targetsCmd.SetOut(&buf)
	defer targetsCmd.SetOut(nil)

	require.NoError(t, printTargets(targetsCmd, scrape.DefaultRegistry()))
	out := buf.String()
	assert.Contains(t, out, "tanishq")
	assert.Contains(t, out, "supported")
	assert.Contains(t, out, "kalyan")
	assert.Contains(t, out, "not implemented")
	assert.Contains(t, out, "Thrissur")
}
