package cluster

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// MembershipTopicName is the statestore topic carrying backend membership.
const MembershipTopicName = "cluster-membership"

// TopicEntry is one membership record in a topic delta. A nil/empty Value
// with Deleted set is a tombstone for the keyed backend.
type TopicEntry struct {
	Key     BackendId       `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// TopicDelta is one message from the membership topic. When IsDelta is
// false the entries are a full replacement of the topic's contents (sent
// on registration or re-sync); otherwise they are incremental.
type TopicDelta struct {
	Topic   string       `json:"topic"`
	IsDelta bool         `json:"is_delta"`
	Version int64        `json:"version"`
	Entries []TopicEntry `json:"entries"`
}

// DecodeBackendDescriptor parses a topic entry payload. Unknown fields
// are ignored so newer statestore peers can extend the descriptor.
func DecodeBackendDescriptor(payload []byte) (BackendDescriptor, error) {
	var be BackendDescriptor
	if err := json.Unmarshal(payload, &be); err != nil {
		return be, errors.Wrap(err, "decoding backend descriptor")
	}
	if !be.Valid() {
		return be, errors.Errorf("incomplete backend descriptor: %s", be)
	}
	return be, nil
}
