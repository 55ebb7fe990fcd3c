package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"shelfkeeper/internal/clients"
	"shelfkeeper/internal/config"
	"shelfkeeper/internal/identity"
	"shelfkeeper/internal/library"
	"shelfkeeper/internal/logger"
	"shelfkeeper/internal/telemetry"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Setenv("LIBRARY_ADDR", ":7000")
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--addr", ":7100", "--store", "sqlite3", "--dsn", "x.db"}))

	cfg, err := config.Load("")
	require.NoError(t, err)
	var flags config.Config
	flags.Addr, flags.Store = ":7100", config.StoreConfig{Driver: "sqlite3", DSN: "x.db"}
	applyFlags(cmd, &cfg, flags)

	assert.Equal(t, ":7100", cfg.Addr)
	assert.Equal(t, config.StoreConfig{Driver: "sqlite3", DSN: "x.db"}, cfg.Store)
	assert.Equal(t, "library", cfg.Namespace, "unset flags keep loaded values")
}

func TestRouterServesLibraries(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			cfg := config.Default()
			cfg.Store.Driver = driver
			cfg.Store.DSN = filepath.Join(t.TempDir(), "library.db")
			require.NoError(t, cfg.Validate())

			store, closeStore, err := openStore(ctx, cfg)
			require.NoError(t, err)
			t.Cleanup(func() { closeStore() })

			logs := &syncBuffer{}
			server := httptest.NewServer(newRouter(cfg, store, logger.New(logs, false)))
			t.Cleanup(server.Close)

			key, owner, err := identity.GenerateKey()
			require.NoError(t, err)
			client := clients.NewLibraryClient(server.URL, key).WithHTTPClient(server.Client())

			_, err = client.CreateLibrary(ctx, "Home")
			require.NoError(t, err)
			require.NoError(t, client.AddBook(ctx, owner, "Dune", 412))

			books, err := client.ListBooks(ctx, owner)
			require.NoError(t, err)
			assert.Equal(t, []library.Book{{Name: "Dune", Pages: 412, Available: true}}, books)

			resp, err := server.Client().Get(server.URL + "/healthz")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			server.Close()
			assert.Contains(t, logs.String(), `"path":"/libraries"`)
			assert.Contains(t, logs.String(), `"message":"library created"`)
		})
	}
}

func TestRouterHealthFollowsStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.DSN = filepath.Join(t.TempDir(), "library.db")

	store, closeStore, err := openStore(ctx, cfg)
	require.NoError(t, err)

	server := httptest.NewServer(newRouter(cfg, store, logger.New(&syncBuffer{}, false)))
	t.Cleanup(server.Close)

	health := func() int {
		resp, err := server.Client().Get(server.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, health())

	require.NoError(t, closeStore())
	assert.Equal(t, http.StatusServiceUnavailable, health())
}

func TestRouterExportsOperationMetrics(t *testing.T) {
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})

	var (
		mu      sync.Mutex
		metrics []byte
	)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path == "/v1/metrics" {
			mu.Lock()
			metrics = append(metrics, body...)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(collector.Close)

	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, "library", "test", collector.URL)
	require.NoError(t, err)

	cfg := config.Default()
	server := httptest.NewServer(newRouter(cfg, library.NewMemoryStore(), logger.New(&syncBuffer{}, false)))
	t.Cleanup(server.Close)

	key, _, err := identity.GenerateKey()
	require.NoError(t, err)
	_, err = clients.NewLibraryClient(server.URL, key).WithHTTPClient(server.Client()).CreateLibrary(ctx, "Home")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, shutdown(shutdownCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, bytes.Contains(metrics, []byte("library.operations")))
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger.New(&syncBuffer{}, false)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
