package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/breaker"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/filesystem"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/progress"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/redisstore"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/sqlstore"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.StaticDir = ""
	cfg.Storage.Filesystem.Dir = filepath.Join(t.TempDir(), "uploads")
	cfg.Progress.Log = false
	return cfg
}

func shutdown(t *testing.T, a *App) {
	t.Helper()
	t.Cleanup(func() { _ = a.shutdown(context.Background()) })
}

func TestBuild_StoreSelection(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		check   func(t *testing.T, a *App)
		wantErr bool
	}{
		{
			name: "filesystem with breaker",
			mutate: func(cfg *config.Config) {
				cfg.Storage.Breaker.Enabled = true
			},
		},
		{
			name: "filesystem without breaker",
			mutate: func(cfg *config.Config) {
				cfg.Storage.Breaker.Enabled = false
			},
		},
		{
			name: "segment log",
			mutate: func(cfg *config.Config) {
				cfg.Storage.Backend = config.BackendSegment
				cfg.Storage.Segment.Dir = filepath.Join(t.TempDir(), "segments")
			},
		},
		{
			name: "sqlite",
			mutate: func(cfg *config.Config) {
				cfg.Storage.Backend = config.BackendSQL
				cfg.Storage.SQL = config.SQLConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "u.db")}
			},
		},
		{
			name: "redis store and progress",
			mutate: func(cfg *config.Config) {
				cfg.Storage.Backend = config.BackendRedis
				cfg.Progress.Mode = config.ProgressRedis
				cfg.Redis.Addr = mr.Addr()
			},
			check: func(t *testing.T, a *App) {
				assert.NotNil(t, a.relay)
			},
		},
		{
			name: "unknown backend",
			mutate: func(cfg *config.Config) {
				cfg.Storage.Backend = "tape"
			},
			wantErr: true,
		},
		{
			name: "unknown progress mode",
			mutate: func(cfg *config.Config) {
				cfg.Progress.Mode = "carrier-pigeon"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			a, err := Build(context.Background(), cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			shutdown(t, a)

			if tt.check != nil {
				tt.check(t, a)
			}
		})
	}
}

func TestBuildStore_Types(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Breaker.Enabled = false
	a := &App{cfg: cfg}
	store, err := a.buildStore(context.Background(), nil)
	require.NoError(t, err)
	assert.IsType(t, &filesystem.Store{}, store)

	cfg.Storage.Breaker.Enabled = true
	store, err = a.buildStore(context.Background(), nil)
	require.NoError(t, err)
	assert.IsType(t, &breaker.Store{}, store)

	cfg.Storage.Breaker.Enabled = false
	cfg.Storage.Backend = config.BackendSQL
	cfg.Storage.SQL = config.SQLConfig{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "t.db")}
	store, err = a.buildStore(context.Background(), nil)
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Store{}, store)

	cfg.Storage.Backend = config.BackendRedis
	store, err = a.buildStore(context.Background(), nil)
	require.NoError(t, err)
	assert.IsType(t, &redisstore.Store{}, store)

	a.close(context.Background())
}

func TestBuildNotifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Progress.Log = true
	a := &App{cfg: cfg, hub: progress.NewHub(4)}

	n, err := a.buildNotifier(nil)
	require.NoError(t, err)
	fan, ok := n.(progress.Fanout)
	require.True(t, ok)
	require.Len(t, fan, 2)
	assert.Equal(t, progress.LogNotifier{}, fan[0])
	assert.Same(t, a.hub, fan[1])
	assert.Nil(t, a.relay)
}

func TestBuild_ServesUploads(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	shutdown(t, a)

	resp, err := a.server.App().Test(httptest.NewRequest(http.MethodGet, "/files/nothing.bin", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
