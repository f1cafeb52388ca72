package realtime

import (
	"encoding/json"
	"fmt"
)

// Envelope is a single frame of the channel protocol
type Envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// ChangeFilter subscribes a channel to row changes of one table
type ChangeFilter struct {
	Event  ChangeType `json:"event"`
	Schema string     `json:"schema"`
	Table  string     `json:"table"`
	Filter string     `json:"filter,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastConfig `json:"broadcast"`
	Presence        presenceConfig  `json:"presence"`
	PostgresChanges []ChangeFilter  `json:"postgres_changes"`
}

type broadcastConfig struct {
	Self bool `json:"self"`
	Ack  bool `json:"ack"`
}

type presenceConfig struct {
	Key string `json:"key"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

type accessTokenPayload struct {
	AccessToken string `json:"access_token"`
}

type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type trackPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type changesPayload struct {
	Ids  []int64    `json:"ids"`
	Data changeData `json:"data"`
}

type changeData struct {
	Type            ChangeType      `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
	CommitTimestamp string          `json:"commit_timestamp"`
}

type presenceEntry struct {
	Metas []PresenceMeta `json:"metas"`
}

type presenceDiff struct {
	Joins  map[string]presenceEntry `json:"joins"`
	Leaves map[string]presenceEntry `json:"leaves"`
}

// ChangeEvent is a row change delivered on a channel
type ChangeEvent struct {
	Type            ChangeType
	Schema          string
	Table           string
	Record          json.RawMessage
	OldRecord       json.RawMessage
	CommitTimestamp string
}

// DecodeRecord decodes the new row
func (e *ChangeEvent) DecodeRecord(v interface{}) error {
	if len(e.Record) == 0 {
		return fmt.Errorf("%s event on %s has no record", e.Type, e.Table)
	}
	return Decode(e.Record, v)
}

// DecodeOldRecord decodes the previous row (primary key only unless replica identity is full)
func (e *ChangeEvent) DecodeOldRecord(v interface{}) error {
	if len(e.OldRecord) == 0 {
		return fmt.Errorf("%s event on %s has no old record", e.Type, e.Table)
	}
	return Decode(e.OldRecord, v)
}

// BroadcastEvent is an ephemeral message sent by another client
type BroadcastEvent struct {
	Event   string
	Payload json.RawMessage
}

// Decode decodes the payload
func (e *BroadcastEvent) Decode(v interface{}) error {
	return Decode(e.Payload, v)
}

// newEnvelope marshals payload into a frame
func newEnvelope(topic, event, ref, joinRef string, payload interface{}) (*Envelope, error) {
	raw, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return &Envelope{
		Topic:   topic,
		Event:   event,
		Payload: raw,
		Ref:     ref,
		JoinRef: joinRef,
	}, nil
}

// Encode encodes data to JSON bytes
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to struct
func Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
