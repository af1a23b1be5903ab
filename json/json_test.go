package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kafka "github.com/tikivn/kafka-topic"
)

func encode(t *testing.T, msg *kafka.Message) string {
	t.Helper()
	data, err := NewEncoder().Encode(msg)
	require.NoError(t, err)
	return string(data)
}

func TestEncoderEmbedsCompactJSON(t *testing.T) {
	out := encode(t, &kafka.Message{
		Topic:     "orders",
		Partition: 1,
		Offset:    12,
		Key:       []byte("o-1"),
		Payload:   []byte(`{"id":1,"items":[]}`),
	})
	assert.Equal(t, `{"topic":"orders","partition":1,"offset":12,"key":"o-1","payload":{"id":1,"items":[]}}`, out)

	assert.Equal(t, `{"topic":"t","partition":0,"offset":0,"payload":42}`, encode(t, &kafka.Message{Topic: "t", Payload: []byte("42")}))
	assert.Equal(t, `{"topic":"t","partition":0,"offset":0,"payload":{"html":"<b>&</b>"}}`,
		encode(t, &kafka.Message{Topic: "t", Payload: []byte(`{"html":"<b>&</b>"}`)}))
}

func TestEncoderKeepsPayloadBytes(t *testing.T) {
	// Re-indenting JSON would change the payload, it is written as text.
	out := encode(t, &kafka.Message{Topic: "t", Payload: []byte(`{"a": 1}`)})
	assert.Equal(t, `{"topic":"t","partition":0,"offset":0,"payload":"{\"a\": 1}"}`, out)

	for payload, want := range map[string]string{
		"hello":      `"hello"`,
		`"quoted"`:   `"\"quoted\""`,
		"line\nbreak": `"line\nbreak"`,
	} {
		out := encode(t, &kafka.Message{Topic: "t", Payload: []byte(payload)})
		assert.Equal(t, `{"topic":"t","partition":0,"offset":0,"payload":`+want+`}`, out)
	}
}

func TestEncoderBinaryData(t *testing.T) {
	out := encode(t, &kafka.Message{
		Topic:   "t",
		Key:     []byte{0xff},
		Payload: []byte{0xff, 0xfe, 0x00},
	})
	assert.Equal(t, `{"topic":"t","partition":0,"offset":0,"key_base64":"/w==","payload_base64":"//4A"}`, out)
}

func TestEncoderEmptyPayload(t *testing.T) {
	out := encode(t, &kafka.Message{Topic: "t", Payload: []byte{}})
	assert.Equal(t, `{"topic":"t","partition":0,"offset":0,"payload":""}`, out)
	assert.Equal(t, "json", NewEncoder().String())
}
