package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-i2p/asyncpool/lib/config"
	apperrors "github.com/go-i2p/asyncpool/lib/errors"
	"github.com/go-i2p/asyncpool/lib/metrics"
	"github.com/go-i2p/asyncpool/lib/pool"
	"github.com/go-i2p/asyncpool/lib/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(*testing.T, *options)
	}{
		{
			name: "defaults",
			args: nil,
			check: func(t *testing.T, o *options) {
				if o.workers != 4 || o.cycles != 100 || o.timeout != time.Second {
					t.Errorf("unexpected defaults: %+v", o)
				}
			},
		},
		{
			name: "overrides",
			args: []string{"-endpoint", "db:5432", "-size", "3", "-workers", "8", "-timeout", "250ms", "-metrics", ":9300"},
			check: func(t *testing.T, o *options) {
				cfg := config.DefaultConfig()
				o.apply(cfg)
				if cfg.Pool.Endpoint != "db:5432" || cfg.Pool.Size != 3 {
					t.Errorf("pool overrides not applied: %+v", cfg.Pool)
				}
				if !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9300" {
					t.Errorf("metrics overrides not applied: %+v", cfg.Metrics)
				}
				if o.workers != 8 || o.timeout != 250*time.Millisecond {
					t.Errorf("bench flags not parsed: %+v", o)
				}
			},
		},
		{
			name:    "zero workers",
			args:    []string{"-workers", "0"},
			wantErr: true,
		},
		{
			name:    "unknown flag",
			args:    []string{"-bogus"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("poolbench", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			o, err := parseFlags(fs, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, o)
			}
		})
	}
}

func TestBenchAgainstEchoServer(t *testing.T) {
	srv, err := testutil.NewEchoServer()
	if err != nil {
		t.Fatalf("NewEchoServer() error = %v", err)
	}
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Pool.Endpoint = srv.Addr()
	cfg.Pool.Size = 3
	cfg.Circuit.Enabled = true

	reg := metrics.NewRegistry()
	b, err := newBench(cfg, reg, quietLogger())
	if err != nil {
		t.Fatalf("newBench() error = %v", err)
	}
	defer b.close()

	if !waitSettled(context.Background(), b.pool, 2*time.Second) {
		t.Fatalf("pool did not settle: %+v", b.pool.Stats())
	}
	if st := b.pool.Stats(); st.Ready != 3 {
		t.Fatalf("Expected 3 ready connections, got %+v", st)
	}

	res := runCycles(context.Background(), b.pool, quietLogger(), 6, 20, time.Second, time.Millisecond)
	if res.acquired != 120 || res.missed != 0 {
		t.Errorf("runCycles() = %+v, want 120 acquired", res)
	}

	st := b.pool.Stats()
	if st.Ready != 3 || st.AcquireSuccess != 120 || st.ReleaseCount != 120 {
		t.Errorf("unexpected stats: %+v", st)
	}

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"asyncpool_pool_release_total 120", "asyncpool_circuit_state 0"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

func TestRunCyclesStopsOnCancel(t *testing.T) {
	f := testutil.NewFakeConnector()
	p, err := pool.New(testutil.MustEndpoint("db.internal:5432"), f, pool.Config{Size: 1})
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	defer p.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := runCycles(ctx, p, quietLogger(), 2, 1000, time.Hour, 0)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("runCycles ignored cancellation for %v", elapsed)
	}
	if res.acquired != 0 {
		t.Errorf("acquired %d connections from an empty pool", res.acquired)
	}
}

func TestWaitSettledTimesOut(t *testing.T) {
	f := testutil.NewFakeConnector()
	p, err := pool.New(testutil.MustEndpoint("db.internal:5432"), f, pool.Config{Size: 1})
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	defer p.Shutdown()

	if waitSettled(context.Background(), p, 30*time.Millisecond) {
		t.Error("waitSettled reported a pending pool as settled")
	}
	f.Succeed(0)
	if !waitSettled(context.Background(), p, time.Second) {
		t.Error("waitSettled missed the completed connect")
	}
}

func TestLoadConfigFlagOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poolbench.toml")
	if err := os.WriteFile(path, []byte("[pool]\nendpoint = \"no-port\"\nsize = 2\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := loadConfig(&options{configPath: path}); err == nil {
		t.Fatal("Expected the file endpoint to be rejected without an override")
	}

	cfg, err := loadConfig(&options{configPath: path, endpoint: "db.internal:5432"})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Pool.Endpoint != "db.internal:5432" || cfg.Pool.Size != 2 {
		t.Errorf("unexpected pool config: %+v", cfg.Pool)
	}
}

func TestRunCyclesAfterShutdown(t *testing.T) {
	f := testutil.NewFakeConnector()
	p, err := pool.New(testutil.MustEndpoint("db.internal:5432"), f, pool.Config{Size: 1})
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	f.Succeed(0)

	go func() {
		time.Sleep(30 * time.Millisecond)
		p.Shutdown()
	}()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	res := runCycles(context.Background(), p, logger, 1, 5, time.Second, 100*time.Millisecond)

	if res.acquired != 1 || res.missed != 1 {
		t.Errorf("runCycles() = %+v, want 1 acquired and 1 missed", res)
	}
	if !apperrors.IsClosed(res.lastErr) {
		t.Fatalf("lastErr = %v, want ErrPoolClosed", res.lastErr)
	}
	if e := apperrors.FromSentinel(res.lastErr); e.Code != apperrors.CodeClosed {
		t.Errorf("report code = %d, want %d", e.Code, apperrors.CodeClosed)
	}
	if !strings.Contains(buf.String(), "release failed") {
		t.Errorf("release after shutdown was not logged: %q", buf.String())
	}
}
