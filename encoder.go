package kafka

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Encoder turns a consumed message into a printable line.
type Encoder interface {
	Encode(*Message) ([]byte, error)
	String() string
}

// NewWriterHandler returns a MessageHandler that writes every message to w
// encoded with enc, one per line.
func NewWriterHandler(w io.Writer, enc Encoder) MessageHandler {
	var mu sync.Mutex
	return HandlerFunc(func(topic string, partition int32, offset int64, key, payload []byte) error {
		data, err := enc.Encode(&Message{
			Topic:     topic,
			Partition: partition,
			Offset:    offset,
			Key:       key,
			Payload:   payload,
		})
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write(append(data, '\n')); err != nil {
			return errors.Wrapf(err, "could not write %s message", enc)
		}
		return nil
	})
}
