package coordinator

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vultisig/relay/mediator"
)

// Messenger posts ceremony payloads to the relay mailbox. RoundID, when
// set, rides the message_id header so repeated keysign rounds stay apart.
type Messenger struct {
	Server    string
	SessionID string
	RoundID   string
}

// Send deposits body addressed from one party to another. The relay stores
// one copy per recipient, fingerprinted with the md5 of the body.
func (m *Messenger) Send(from, to, body string) error {
	if body == "" {
		return fmt.Errorf("body is empty")
	}
	hash := md5.Sum([]byte(body))
	hashStr := hex.EncodeToString(hash[:])

	buf, err := json.MarshalIndent(mediator.Message{
		SessionID: m.SessionID,
		From:      from,
		To:        []string{to},
		Body:      body,
		Hash:      hashStr,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("fail to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/message/%s", m.Server, m.SessionID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("fail to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.RoundID != "" {
		req.Header.Set("message_id", m.RoundID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fail to send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("fail to send message: %s", resp.Status)
	}
	log.Debugf("sent message %s from %s to %s", hashStr, from, to)
	return nil
}

// MessageHandler consumes the payload of each relayed message addressed to
// this party, typically by feeding it into the signing engine.
type MessageHandler interface {
	ApplyData(body string) error
}

// DownloadMessages polls the relay mailbox for key once a second until
// endCh closes. Each message is acknowledged (deleted from the relay)
// before being handed to the handler; messages sent by key itself are
// skipped. A crash between poll and delete only causes redelivery.
func DownloadMessages(server, session, key, roundID string, handler MessageHandler, endCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-endCh:
			return
		case <-time.After(time.Second):
			messages, err := fetchMessages(server, session, key, roundID)
			if err != nil {
				log.Errorf("fail to get messages from relay: %s", err)
				continue
			}
			for _, message := range messages {
				if message.From == key {
					continue
				}
				if err := deleteMessage(server, session, key, roundID, message.Hash); err != nil {
					log.Errorf("fail to delete message: %s", err)
					continue
				}
				if err := handler.ApplyData(message.Body); err != nil {
					log.Errorf("fail to apply message data: %s", err)
				}
			}
		}
	}
}

func fetchMessages(server, session, key, roundID string) ([]mediator.Message, error) {
	url := fmt.Sprintf("%s/message/%s/%s", server, session, key)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fail to create request: %w", err)
	}
	if roundID != "" {
		req.Header.Set("message_id", roundID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fail to get messages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fail to get messages: %s", resp.Status)
	}
	var messages []mediator.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("fail to decode messages: %w", err)
	}
	return messages, nil
}

func deleteMessage(server, session, key, roundID, hash string) error {
	url := fmt.Sprintf("%s/message/%s/%s/%s", server, session, key, hash)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("fail to create request: %w", err)
	}
	if roundID != "" {
		req.Header.Set("message_id", roundID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fail to delete message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fail to delete message: %s", resp.Status)
	}
	return nil
}
