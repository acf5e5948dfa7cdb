package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// peerTopic prefixes every peer change message so subscribers can filter
// at the socket level.
const peerTopic = "PEER:"

// ChangeKind identifies what happened to a peer.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeEnabled  ChangeKind = "enabled"
	ChangeDisabled ChangeKind = "disabled"
	ChangeConfig   ChangeKind = "config"
)

// PeerChange announces a completed peer modification to other nodes.
type PeerChange struct {
	Kind   ChangeKind `json:"kind"`
	PeerID string     `json:"peer_id"`
	SentAt int64      `json:"sent_at"` // Unix millis at publish time
}

// encodeChange frames a change message with the topic prefix.
func encodeChange(change PeerChange) ([]byte, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal peer change: %w", err)
	}
	return append([]byte(peerTopic), data...), nil
}

// decodeChange strips the topic prefix and parses the payload. Messages
// without the prefix are from a foreign topic and are reported as such.
func decodeChange(msg []byte) (PeerChange, error) {
	if !bytes.HasPrefix(msg, []byte(peerTopic)) {
		return PeerChange{}, fmt.Errorf("message missing %q topic prefix", peerTopic)
	}
	var change PeerChange
	if err := json.Unmarshal(msg[len(peerTopic):], &change); err != nil {
		return PeerChange{}, fmt.Errorf("failed to unmarshal peer change: %w", err)
	}
	return change, nil
}

// SurveyRequest is broadcast by the surveyor to all respondents.
type SurveyRequest struct {
	From   string `json:"from"`  // server name of the surveyor
	Round  uint64 `json:"round"` // monotonically increasing survey round
	SentAt int64  `json:"sent_at"`
}

// SurveyResponse reports a replicator's identity and queue census.
type SurveyResponse struct {
	Server string `json:"server"` // host,port,startcode
	Queues int    `json:"queues"` // queues currently owned
	SentAt int64  `json:"sent_at"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
