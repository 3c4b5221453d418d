package models

import "encoding/json"

// Status is the outbound envelope's status field (§6).
type Status string

const (
	StatusOK              Status = "ok"
	StatusWorkflowPaused  Status = "workflow_paused"
	StatusError           Status = "error"
	StatusBusy            Status = "busy"
)

// Op is the inbound frame's opcode (§6 wire protocol).
type Op string

const (
	OpHello    Op = "hello"
	OpCallTool Op = "call_tool"
	OpCancel   Op = "cancel"
	OpRetrieve Op = "retrieve"
	OpPing     Op = "ping"
)

// InboundFrame is the generic shape every WebSocket frame from a client
// is decoded into before opcode-specific dispatch (§6: "{op, request_id,
// payload}").
type InboundFrame struct {
	Op        Op              `json:"op"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// HelloPayload is the body of a `hello` frame.
type HelloPayload struct {
	AuthToken  string                 `json:"auth_token"`
	ClientInfo map[string]interface{} `json:"client_info,omitempty"`
}

// HelloResponse answers a `hello` frame.
type HelloResponse struct {
	SessionID string `json:"session_id"`
}

// CallToolPayload is the body of a `call_tool` frame.
type CallToolPayload struct {
	Tool           string                 `json:"tool"`
	Arguments      map[string]interface{} `json:"arguments"`
	ContinuationID string                 `json:"continuation_id,omitempty"`
}

// RetrievePayload is the body of a `retrieve` frame.
type RetrievePayload struct {
	TransactionID string `json:"transaction_id"`
}

// RetrieveResponse answers a `retrieve` frame.
type RetrieveResponse struct {
	BytesB64 string `json:"bytes_b64"`
	SHA256   string `json:"sha256"`
}

// OutboundEnvelope is the generic shape of every frame sent to a client
// (§6: "{request_id, status, payload | pointer}").
type OutboundEnvelope struct {
	RequestID     string           `json:"request_id"`
	Status        Status           `json:"status"`
	Payload       interface{}      `json:"payload,omitempty"`
	Pointer       *PointerEnvelope `json:"pointer,omitempty"`
	Kind          string           `json:"kind,omitempty"`
	Message       string           `json:"message,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}
