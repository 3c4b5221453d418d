package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"dispatchd/internal/bus"
	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/provider"
	"dispatchd/internal/session"
	"dispatchd/internal/toolframe"
	"dispatchd/internal/toolregistry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVerifier struct{ principal string }

func (f fakeVerifier) VerifyToken(string) (string, error) { return f.principal, nil }

type fakeBus struct {
	fetchPayload []byte
}

func (b *fakeBus) Route(context.Context, []byte, string) (bus.Route, error) {
	return bus.Route{Inline: true}, nil
}

func (b *fakeBus) Fetch(context.Context, string) ([]byte, error) {
	return b.fetchPayload, nil
}

func (b *fakeBus) Purge(context.Context) (int, error) { return 0, nil }

type spySimpleHandler struct{ calls int }

func (h *spySimpleHandler) Capabilities() []models.Capability                    { return nil }
func (h *spySimpleHandler) ComplexityScore(map[string]interface{}) float64       { return 0 }
func (h *spySimpleHandler) Validate(map[string]interface{}) error               { return nil }
func (h *spySimpleHandler) BuildMessages(map[string]interface{}, []models.Turn) ([]provider.Message, error) {
	h.calls++
	return nil, nil
}

func newTestHandler(t *testing.T) (*Handler, string, string) {
	t.Helper()

	tools := toolregistry.New()
	tools.Register(models.ToolDescriptor{Name: "public_tool", Category: models.ToolCategorySimple, Visibility: models.VisibilityPublic, TimeoutBudget: time.Second})
	tools.Register(models.ToolDescriptor{Name: "internal_tool", Category: models.ToolCategorySimple, Visibility: models.VisibilityInternal, TimeoutBudget: time.Second})

	sessions := session.NewManager(fakeVerifier{principal: "alice"}, time.Hour, 4, 0, testLogger())
	sess, err := sessions.Open("tok")
	if err != nil {
		t.Fatalf("sessions.Open() unexpected error: %v", err)
	}

	conns := session.NewConnections(4)
	conn := conns.Open(sess.ID)

	h := &Handler{
		Sessions:      sessions,
		Connections:   conns,
		Tools:         tools,
		QueueLimiter:  rate.NewLimiter(rate.Inf, 1),
		MaxQueueDepth: 10,
	}
	return h, sess.ID, conn.ID
}

func TestHandleCallToolRejectsInternalVisibilityOnCallPath(t *testing.T) {
	h, sessionID, connID := newTestHandler(t)
	spy := &spySimpleHandler{}
	h.SimpleHandlers = map[string]toolframe.SimpleHandler{"internal_tool": spy}

	_, err := h.HandleCallTool(context.Background(), CallToolRequest{
		SessionID: sessionID,
		ConnID:    connID,
		Tool:      "internal_tool",
	})
	if domain.KindOf(err) != domain.KindUnknownTool {
		t.Fatalf("error kind = %v, want UnknownTool", domain.KindOf(err))
	}
	// A bound handler exists for this tool — if the visibility gate were
	// missing, dispatch would reach it. It must not.
	if spy.calls != 0 {
		t.Errorf("handler was invoked %d times, want 0 (internal tool must be rejected before dispatch)", spy.calls)
	}
}

func TestHandleRetrieveComputesSHA256(t *testing.T) {
	payload := []byte("hello world")
	h := &Handler{Bus: &fakeBus{fetchPayload: payload}}

	bytes, sha, err := h.HandleRetrieve(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("HandleRetrieve() unexpected error: %v", err)
	}
	if string(bytes) != string(payload) {
		t.Errorf("HandleRetrieve() bytes = %q, want %q", bytes, payload)
	}

	want := sha256.Sum256(payload)
	if sha != hex.EncodeToString(want[:]) {
		t.Errorf("HandleRetrieve() sha256 = %q, want %q", sha, hex.EncodeToString(want[:]))
	}
}
