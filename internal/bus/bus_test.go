package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"dispatchd/internal/domain"
	"dispatchd/internal/pg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient builds a client with a nil pool: every test here stays
// on code paths that return before touching the pool (the inline-size
// short-circuit and the disabled-bus fast path), exactly like the
// pgx-backed stores this package's sibling packages don't unit test
// either, since none of them can stand up a real Postgres connection
// inside a table-driven test.
func newTestClient(enabled bool, inlineThreshold int64) Bus {
	tables := pg.NewTableNames("test_")
	return New(nil, tables, enabled, inlineThreshold, time.Hour, 3, time.Second, testLogger())
}

func TestRouteInlineBelowThreshold(t *testing.T) {
	b := newTestClient(true, 1024)

	route, err := b.Route(context.Background(), []byte("small payload"), "text/plain")
	if err != nil {
		t.Fatalf("Route() unexpected error: %v", err)
	}
	if !route.Inline {
		t.Fatal("Route() expected inline routing for a payload under the threshold")
	}
	if string(route.Payload) != "small payload" {
		t.Errorf("Route() inline payload = %q, want original bytes echoed back", route.Payload)
	}
}

func TestRouteOversizedWithBusDisabled(t *testing.T) {
	b := newTestClient(false, 4)

	_, err := b.Route(context.Background(), []byte("this payload exceeds the tiny threshold"), "text/plain")
	if domain.KindOf(err) != domain.KindPayloadBusDown {
		t.Errorf("Route() error kind = %v, want PayloadTooLargeBusDown when bus disabled and payload oversized", domain.KindOf(err))
	}
}

func TestFetchWithBusDisabled(t *testing.T) {
	b := newTestClient(false, 1024)

	_, err := b.Fetch(context.Background(), "some-transaction-id")
	if domain.KindOf(err) != domain.KindBusUnavailable {
		t.Errorf("Fetch() error kind = %v, want BusUnavailable when bus disabled", domain.KindOf(err))
	}
}
