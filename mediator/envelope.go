package mediator

// MessageHeader tags a WebSocket control envelope. The set is closed; the
// hub drops frames carrying anything else.
type MessageHeader string

const (
	HelloMessage MessageHeader = "HelloMessage"
	StartSession MessageHeader = "StartSession"
	JoinSession  MessageHeader = "JoinSession"
	DropSession  MessageHeader = "DropSession"
	EndSession   MessageHeader = "EndSession"
	StartTSS     MessageHeader = "StartTSS"
	TSSRouting   MessageHeader = "TSSRouting"
)

// Envelope is the outer frame exchanged on the control channel. Body is a
// JSON document carried as a string; the hub decodes only the fields it
// needs for addressing and always forwards the original frame verbatim.
type Envelope struct {
	Header MessageHeader `json:"header"`
	Body   string        `json:"body"`
}

// HelloPayload binds the sender's long-lived public identifier to its
// connection.
type HelloPayload struct {
	ClientKey string `json:"clientKey"`
}

// SessionPayload is shared by StartSession, JoinSession, DropSession and
// EndSession. For StartSession, ClientKey is the session owner.
type SessionPayload struct {
	SessionID string `json:"sessionID"`
	ClientKey string `json:"clientKey"`
}

// RoutingPayload addresses a TSSRouting envelope. Body carries the opaque
// protocol bytes; the hub never reads it.
type RoutingPayload struct {
	To   string `json:"to"`
	Body string `json:"body,omitempty"`
}

// CommitteePayload lists the identifiers a StartTSS envelope targets.
type CommitteePayload struct {
	Committee []string `json:"committee"`
}
