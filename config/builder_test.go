package config

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/jpalmerr/sensorsync"
	"github.com/jpalmerr/sensorsync/internal/store/pgstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// unreachableDSN parses cleanly but nothing listens on port 1.
const unreachableDSN = "postgres://sensors@127.0.0.1:1/sensors?sslmode=disable"

func TestBuildOptions(t *testing.T) {
	cfg, err := Parse([]byte(`
port: 0
poll_interval: 250ms
channels: [heart_rate, gaze]
subscriber_buffer: 8
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	st := sensorsync.NewMemoryStore()
	eng, err := sensorsync.New(BuildOptions(cfg, st, testLogger())...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if eng.Port() != 0 {
		t.Errorf("Port() = %d, want 0", eng.Port())
	}
	if eng.PollInterval() != 250*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 250ms", eng.PollInterval())
	}
	if got := eng.Channels(); !reflect.DeepEqual(got, []string{"heart_rate", "gaze"}) {
		t.Errorf("Channels() = %v", got)
	}
}

func TestBuildOptions_DefaultsProduceValidEngine(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	eng, err := sensorsync.New(BuildOptions(cfg, nil, nil)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if eng.Port() != 3000 {
		t.Errorf("Port() = %d, want 3000", eng.Port())
	}
	if eng.PollInterval() != 500*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 500ms", eng.PollInterval())
	}
}

func TestOpenStore_Memory(t *testing.T) {
	cfg, _ := Parse(nil)

	st, err := OpenStore(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer st.Close()

	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestOpenStore_PostgresConnectsLazily(t *testing.T) {
	cfg, err := Parse([]byte("store:\n  driver: postgres\n  dsn: " + unreachableDSN + "\n  connect_timeout: 1s"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	st, err := OpenStore(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("OpenStore() error = %v, want lazy connect", err)
	}
	defer st.Close()

	if _, ok := st.(*pgstore.Store); !ok {
		t.Errorf("OpenStore() returned %T, want *pgstore.Store", st)
	}
	if err := st.Ping(context.Background()); err == nil {
		t.Error("Ping() against unreachable database should fail")
	}
}

func TestOpenStore_MigrateFailure(t *testing.T) {
	cfg, err := Parse([]byte("store:\n  driver: postgres\n  dsn: " + unreachableDSN + "\n  connect_timeout: 1s\n  migrate: true"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := OpenStore(ctx, cfg, testLogger()); err == nil {
		t.Error("OpenStore() with migrate against unreachable database should fail")
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "sqlite"}}
	if _, err := OpenStore(context.Background(), cfg, nil); err == nil {
		t.Error("OpenStore() with unknown driver should fail")
	}
}

func TestOpenPostgres(t *testing.T) {
	tests := []struct {
		name    string
		store   StoreConfig
		wantErr bool
	}{
		{
			name:    "memory driver",
			store:   StoreConfig{Driver: DriverMemory},
			wantErr: true,
		},
		{
			name:    "malformed dsn",
			store:   StoreConfig{Driver: DriverPostgres, DSN: "postgres://%zz"},
			wantErr: true,
		},
		{
			name:  "valid dsn",
			store: StoreConfig{Driver: DriverPostgres, DSN: unreachableDSN, MaxConns: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := OpenPostgres(context.Background(), &Config{Store: tt.store})
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenPostgres() error = %v, wantErr %v", err, tt.wantErr)
			}
			if st != nil {
				_ = st.Close()
			}
		})
	}
}
