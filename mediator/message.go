package mediator

// Message is one unit of ceremony traffic. The relay never inspects Body;
// it only fans the message out into each recipient's mailbox.
type Message struct {
	SessionID string   `json:"session_id,omitempty"`
	From      string   `json:"from,omitempty"`
	To        []string `json:"to,omitempty"`
	Body      string   `json:"body,omitempty"`
	Hash      string   `json:"hash,omitempty"`
}

// roundIDHeader carries the optional round ID that keeps repeated keysign
// rounds reusing the same recipient/hash pair from colliding in the store.
const roundIDHeader = "message_id"

func messageKey(sessionID, recipient, roundID, hash string) string {
	if roundID != "" {
		return sessionID + "-" + recipient + "-" + roundID + "-" + hash
	}
	return sessionID + "-" + recipient + "-" + hash
}

// messagePrefix ends with `-` so a participant key that happens to prefix
// another participant's key cannot match their mailbox.
func messagePrefix(sessionID, recipient, roundID string) string {
	if roundID != "" {
		return sessionID + "-" + recipient + "-" + roundID + "-"
	}
	return sessionID + "-" + recipient + "-"
}
