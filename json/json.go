package json

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"unicode/utf8"

	"github.com/pkg/errors"
	kafka "github.com/tikivn/kafka-topic"
)

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encoder writes messages as JSON objects. A payload that is compact JSON
// itself is embedded as is, other text is written as a string and binary
// data as base64 in payload_base64. Keys follow the same text/base64 rule.
type Encoder struct{}

func (Encoder) String() string {
	return "json"
}

func (Encoder) Encode(msg *kafka.Message) ([]byte, error) {
	m := msgJSON{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}

	if msg.Key != nil {
		if utf8.Valid(msg.Key) {
			key := string(msg.Key)
			m.Key = &key
		} else {
			m.KeyBase64 = base64.StdEncoding.EncodeToString(msg.Key)
		}
	}

	switch {
	case isCompactJSON(msg.Payload):
		m.Payload = json.RawMessage(msg.Payload)
	case utf8.Valid(msg.Payload):
		raw, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return nil, errors.Wrapf(err, "could not marshal payload of %s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		}
		m.Payload = raw
	default:
		m.PayloadBase64 = base64.StdEncoding.EncodeToString(msg.Payload)
	}

	// HTML escaping would rewrite embedded payloads.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, errors.Wrapf(err, "could not marshal message %s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// isCompactJSON reports whether data is a JSON value other than a string
// that json.Marshal would write back byte for byte.
func isCompactJSON(data []byte) bool {
	if len(data) == 0 || data[0] == '"' || !json.Valid(data) {
		return false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return false
	}
	return bytes.Equal(buf.Bytes(), data)
}

// msgJSON is the message as written on the wire only.
type msgJSON struct {
	Topic         string          `json:"topic"`
	Partition     int32           `json:"partition"`
	Offset        int64           `json:"offset"`
	Key           *string         `json:"key,omitempty"`
	KeyBase64     string          `json:"key_base64,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	PayloadBase64 string          `json:"payload_base64,omitempty"`
}
