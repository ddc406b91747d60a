package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kberan/marksmith/internal/config"
)

func memoryConfig() config.Config {
	cfg := config.Config{}
	cfg.Storage.Provider = "memory"
	cfg.Enrichment.Enabled = true
	cfg.Enrichment.BatchSize = 5
	cfg.Enrichment.Concurrency = 2
	cfg.Enrichment.FreshnessDays = 30
	cfg.Enrichment.ProbeTimeoutSeconds = 5
	cfg.Enrichment.FetchTimeoutSeconds = 10
	return cfg
}

func TestNewWiresMemoryProvider(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	require.NotNil(t, a.Provider())
	require.NotNil(t, a.Pool())
	require.NotNil(t, a.Stats())
	require.NotNil(t, a.Server())

	size, err := a.Provider().Queue().Size(context.Background())
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestNewUnknownProviderFails(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Provider = "bogus"
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewSQLiteProvider(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Provider = "sqlite"
	cfg.Storage.SQLite.Path = t.TempDir() + "/marksmith.db"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Close())
}
