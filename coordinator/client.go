package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("coordinator")

// RegisterSession advertises key as a participant of session on the relay.
// Registration is additive and idempotent; parties can register in any
// order.
func RegisterSession(server, session, key string) error {
	body, err := json.Marshal([]string{key})
	if err != nil {
		return fmt.Errorf("fail to marshal session body: %w", err)
	}
	resp, err := http.Post(server+"/"+session, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fail to register session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("fail to register session: %s", resp.Status)
	}
	return nil
}

// EndSession deletes the session record and its start marker. Messages
// already deposited for the session stay in the relay mailbox until each
// recipient acknowledges them.
func EndSession(server, session string) error {
	req, err := http.NewRequest(http.MethodDelete, server+"/"+session, nil)
	if err != nil {
		return fmt.Errorf("fail to end session: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fail to end session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fail to end session: %s", resp.Status)
	}
	return nil
}

// WaitAllParties polls the relay until the registered participant set
// matches parties, ignoring order.
func WaitAllParties(ctx context.Context, server, session string, parties []string) error {
	for {
		keys, err := getParticipants(server + "/" + session)
		if err != nil {
			return err
		}
		if equalUnordered(keys, parties) {
			log.Infof("all parties joined session %s", session)
			return nil
		}
		log.Debugf("waiting for all parties to join session %s", session)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// StartCeremony marks the keygen/keysign for session as started with the
// given committee. Repeated calls overwrite the committee snapshot.
func StartCeremony(server, session string, parties []string) error {
	body, err := json.Marshal(parties)
	if err != nil {
		return fmt.Errorf("fail to marshal participants: %w", err)
	}
	resp, err := http.Post(server+"/start/"+session, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fail to start ceremony: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fail to start ceremony: %s", resp.Status)
	}
	return nil
}

// WaitCeremonyStart polls the relay until the ceremony is marked as
// started, then returns the frozen committee.
func WaitCeremonyStart(ctx context.Context, server, session string) ([]string, error) {
	for {
		resp, err := http.Get(server + "/start/" + session)
		if err != nil {
			return nil, fmt.Errorf("fail to query ceremony start: %w", err)
		}
		if resp.StatusCode == http.StatusOK {
			defer resp.Body.Close()
			var committee []string
			if err := json.NewDecoder(resp.Body).Decode(&committee); err != nil {
				return nil, fmt.Errorf("fail to decode committee: %w", err)
			}
			return committee, nil
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			return nil, fmt.Errorf("fail to query ceremony start: %s", resp.Status)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func getParticipants(url string) ([]string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fail to get session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fail to get session: %s", resp.Status)
	}
	buff, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fail to read session body: %w", err)
	}
	var keys []string
	if err := json.Unmarshal(buff, &keys); err != nil {
		return nil, fmt.Errorf("fail to unmarshal session body: %w", err)
	}
	return keys, nil
}

func equalUnordered(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int)
	for _, val := range a {
		counts[val]++
	}
	for _, val := range b {
		if counts[val] == 0 {
			return false
		}
		counts[val]--
	}
	return true
}
