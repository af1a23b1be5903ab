package kafka

import (
	"github.com/pkg/errors"
)

var (
	ErrConfig        = errors.New("invalid configuration")
	ErrAlreadyActive = errors.New("session is already active")
	ErrNotStarted    = errors.New("session is not started")
	ErrNotFound      = errors.New("session not found")

	// ErrPartitionEOF is returned by a ConsumerTopic when it has caught up
	// with the end of the partition. It is informational.
	ErrPartitionEOF = errors.New("reached end of partition")
)

var ErrHandlerNil = errors.Wrap(ErrConfig, "handler can't be nil")
