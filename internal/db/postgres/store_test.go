package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/soaringjerry/Pulse/internal/storetest"
)

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("plain"), false},
		{&pgconn.PgError{Code: "23505"}, true},
		{fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{&pgconn.PgError{Code: "23503"}, false},
	}
	for i, c := range cases {
		if got := isUniqueViolation(c.err); got != c.want {
			t.Fatalf("case %d: isUniqueViolation(%v) = %v, want %v", i, c.err, got, c.want)
		}
	}
}

func TestJSONArgEmptyIsNull(t *testing.T) {
	v, err := jsonArg([]string{}, true)
	if err != nil || v != nil {
		t.Fatalf("jsonArg(empty) = %v, %v; want nil", v, err)
	}
	v, err = jsonArg(map[string]int{"a": 1}, false)
	if err != nil || v != `{"a":1}` {
		t.Fatalf("jsonArg = %v, %v", v, err)
	}
	if textArg("") != nil || textArg("x") != "x" {
		t.Fatalf("textArg mismatch")
	}
}

// TestPostgresStoreContract runs against a live database when
// PULSE_TEST_POSTGRES_DSN is set. Every table is truncated between subtests.
func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("PULSE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PULSE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	storetest.Run(t, func(t *testing.T) storetest.Store {
		// TRUNCATE skips row triggers, so locked snapshots go too.
		_, err := s.Pool().Exec(ctx, `TRUNCATE audit_log, snapshots, submissions, cycle_pointer, cycles`)
		if err != nil {
			t.Fatalf("reset: %v", err)
		}
		return s
	})
}
