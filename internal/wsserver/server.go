// Package wsserver is the WebSocket server (spec.md §4.9): accepts
// connections, authenticates the first frame, assigns a session, and
// dispatches decoded frames to the request handler. The safeConn
// wrapper, ping/keepalive goroutine, and "execution context outlives
// the connection" design are grounded on the ClaraVerse
// workflow_websocket.go pattern — gorilla/fasthttp websocket conns
// don't support concurrent writers, and a slow provider call shouldn't
// die just because a reverse proxy or flaky client drops the socket.
package wsserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"dispatchd/internal/domain"
	"dispatchd/internal/domain/models"
	"dispatchd/internal/handler"
	"dispatchd/internal/session"
)

const (
	readDeadline = 360 * time.Second
	pingInterval = 20 * time.Second
)

// safeConn serializes writes — gofiber/contrib/websocket (fasthttp
// websocket underneath) doesn't support concurrent writers.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (sc *safeConn) writeJSON(v interface{}) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteJSON(v)
}

func (sc *safeConn) ping() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
}

// Server wires an authenticated session onto each accepted socket and
// dispatches every decoded frame to Handler.
type Server struct {
	Handler     *handler.Handler
	Sessions    *session.Manager
	Connections *session.Connections
	MaxInboundBytes int64
	Logger      *slog.Logger
}

// Handle is the gofiber/contrib/websocket handler func.
func (s *Server) Handle(c *websocket.Conn) {
	sc := &safeConn{conn: c}
	c.SetReadDeadline(time.Now().Add(readDeadline))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	var sessionID, connID string
	defer func() {
		if connID != "" {
			s.Connections.Close(connID)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sc.ping(); err != nil {
					s.Logger.Debug("ping failed, connection likely dead", "error", err)
					return
				}
			}
		}
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.SetReadDeadline(time.Now().Add(readDeadline))

		if int64(len(raw)) > s.MaxInboundBytes {
			writeError(sc, "", domain.New(domain.KindPayloadTooLarge, "inbound frame exceeds max_inbound_bytes"))
			continue
		}

		var frame models.InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			writeError(sc, "", domain.New(domain.KindInvalidInput, "malformed frame"))
			continue
		}

		switch frame.Op {
		case models.OpHello:
			sid, err := s.handleHello(frame)
			if err != nil {
				writeError(sc, frame.RequestID, err)
				continue
			}
			sessionID = sid
			connID = s.Connections.Open(sessionID).ID
			sc.writeJSON(models.OutboundEnvelope{RequestID: frame.RequestID, Status: models.StatusOK, Payload: models.HelloResponse{SessionID: sessionID}})

		case models.OpPing:
			sc.writeJSON(models.OutboundEnvelope{RequestID: frame.RequestID, Status: models.StatusOK})

		case models.OpCallTool:
			if sessionID == "" {
				writeError(sc, frame.RequestID, domain.New(domain.KindAuthFailed, "hello required before call_tool"))
				continue
			}
			// Each call runs in its own goroutine, detached from this
			// connection's context: a disconnect must not kill in-flight
			// provider calls or orphan a workflow mid-step.
			go s.handleCallTool(context.Background(), sc, sessionID, connID, frame)

		case models.OpCancel:
			go s.handleCancel(context.Background(), sc, frame)

		case models.OpRetrieve:
			go s.handleRetrieve(context.Background(), sc, frame)

		default:
			writeError(sc, frame.RequestID, domain.New(domain.KindInvalidInput, "unknown opcode"))
		}
	}
}

func (s *Server) handleHello(frame models.InboundFrame) (string, error) {
	var payload models.HelloPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return "", domain.New(domain.KindInvalidInput, "malformed hello payload")
	}
	sess, err := s.Sessions.Open(payload.AuthToken)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (s *Server) handleCallTool(ctx context.Context, sc *safeConn, sessionID, connID string, frame models.InboundFrame) {
	var payload models.CallToolPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		writeError(sc, frame.RequestID, domain.New(domain.KindInvalidInput, "malformed call_tool payload"))
		return
	}

	resp, err := s.Handler.HandleCallTool(ctx, handler.CallToolRequest{
		SessionID:      sessionID,
		ConnID:         connID,
		RequestID:      frame.RequestID,
		Tool:           payload.Tool,
		Arguments:      payload.Arguments,
		ContinuationID: payload.ContinuationID,
	})
	if err != nil {
		writeError(sc, frame.RequestID, err)
		return
	}

	sc.writeJSON(models.OutboundEnvelope{
		RequestID: frame.RequestID,
		Status:    resp.Status,
		Payload:   resp.Payload,
		Pointer:   resp.Pointer,
	})
}

func (s *Server) handleCancel(ctx context.Context, sc *safeConn, frame models.InboundFrame) {
	var payload struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		writeError(sc, frame.RequestID, domain.New(domain.KindInvalidInput, "malformed cancel payload"))
		return
	}
	if err := s.Handler.HandleCancel(ctx, payload.WorkflowID); err != nil {
		writeError(sc, frame.RequestID, err)
		return
	}
	sc.writeJSON(models.OutboundEnvelope{RequestID: frame.RequestID, Status: models.StatusOK})
}

func (s *Server) handleRetrieve(ctx context.Context, sc *safeConn, frame models.InboundFrame) {
	var payload models.RetrievePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		writeError(sc, frame.RequestID, domain.New(domain.KindInvalidInput, "malformed retrieve payload"))
		return
	}

	bytes, sha, err := s.Handler.HandleRetrieve(ctx, payload.TransactionID)
	if err != nil {
		writeError(sc, frame.RequestID, err)
		return
	}

	sc.writeJSON(models.OutboundEnvelope{
		RequestID: frame.RequestID,
		Status:    models.StatusOK,
		Payload:   models.RetrieveResponse{BytesB64: base64.StdEncoding.EncodeToString(bytes), SHA256: sha},
	})
}

func writeError(sc *safeConn, requestID string, err error) {
	// §7: the envelope carries the Kind and a sanitized Message only — the
	// wrapped cause (raw pgx/provider errors etc.) is logged server-side
	// via %v, never rendered into the client-facing frame.
	slog.Default().Error("request failed", "request_id", requestID, "kind", domain.KindOf(err), "error", err)
	sc.writeJSON(models.OutboundEnvelope{
		RequestID: requestID,
		Status:    models.StatusError,
		Kind:      string(domain.KindOf(err)),
		Message:   domain.MessageOf(err),
	})
}
