package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jpalmerr/sensorsync/internal/store"
)

// dsnEnv names the variable that enables the database-backed tests.
const dsnEnv = "SENSORSYNC_TEST_DSN"

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{name: "nil", err: nil, unavailable: false},
		{name: "network error", err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), unavailable: true},
		{name: "context canceled", err: context.Canceled, unavailable: false},
		{name: "deadline exceeded", err: fmt.Errorf("query: %w", context.DeadlineExceeded), unavailable: false},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}, unavailable: false},
		{name: "connection exception", err: &pgconn.PgError{Code: "08006"}, unavailable: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, unavailable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("classify(nil) = %v, want nil", got)
				}
				return
			}
			if errors.Is(got, store.ErrUnavailable) != tt.unavailable {
				t.Errorf("classify(%v) unavailable = %v, want %v", tt.err, !tt.unavailable, tt.unavailable)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classify(%v) lost the original error", tt.err)
			}
		})
	}
}

func TestOpen_InvalidDSN(t *testing.T) {
	_, err := Open(context.Background(), Options{DSN: "postgres://%zz"})
	if err == nil {
		t.Fatal("Open() with invalid DSN should fail")
	}
}

// openTestStore connects to the database named by SENSORSYNC_TEST_DSN,
// migrates it and clears the readings table.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set, skipping database test", dsnEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := Open(ctx, Options{DSN: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := st.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	return st
}

func TestStore_AppendAndQuery(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		r := store.Reading{
			Channel:   "stress",
			Value:     json.RawMessage(fmt.Sprintf(`{"level":%d}`, i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			SourceID:  "operator-1",
		}
		if err := st.Append(ctx, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	newest, err := st.QueryNewerThan(ctx, "stress", nil, 1)
	if err != nil {
		t.Fatalf("QueryNewerThan() error = %v", err)
	}
	if len(newest) != 1 || !newest[0].Timestamp.Equal(base.Add(3*time.Second)) {
		t.Fatalf("QueryNewerThan(nil) = %+v, want the t=3 reading", newest)
	}
	if newest[0].SourceID != "operator-1" {
		t.Errorf("SourceID = %q, want %q", newest[0].SourceID, "operator-1")
	}

	cursor := base.Add(3 * time.Second)
	none, err := st.QueryNewerThan(ctx, "stress", &cursor, 1)
	if err != nil {
		t.Fatalf("QueryNewerThan(cursor) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("QueryNewerThan(newest cursor) = %d items, want 0", len(none))
	}

	recent, err := st.QueryRecent(ctx, "stress", 2)
	if err != nil {
		t.Fatalf("QueryRecent() error = %v", err)
	}
	if len(recent) != 2 || !recent[0].Timestamp.After(recent[1].Timestamp) {
		t.Errorf("QueryRecent() = %+v, want 2 readings newest first", recent)
	}

	all, err := st.QueryRecent(ctx, "stress", 0)
	if err != nil {
		t.Fatalf("QueryRecent(0) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("QueryRecent(0) = %d items, want 3", len(all))
	}
}

func TestStore_Ping(t *testing.T) {
	st := openTestStore(t)
	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
