package main

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	kafka "github.com/tikivn/kafka-topic"
)

// parsePartition accepts a partition number in the range 0..2^31-1.
func parsePartition(raw string) (int32, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 || n > math.MaxInt32 {
		return 0, errors.Wrapf(kafka.ErrConfig, "partition needs to be a number in the range 0..%d, got %q", math.MaxInt32, raw)
	}
	return int32(n), nil
}

var offsetNames = map[string]int64{
	"beginning": kafka.OffsetBeginning,
	"end":       kafka.OffsetEnd,
	"stored":    kafka.OffsetStored,
}

// parseOffset accepts an absolute offset, one of the sentinel values or
// their names (beginning, end, stored).
func parseOffset(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if offset, ok := offsetNames[strings.ToLower(raw)]; ok {
		return offset, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(kafka.ErrConfig, "offset needs to be a number or one of beginning, end, stored, got %q", raw)
	}
	switch {
	case n >= 0, n == kafka.OffsetBeginning, n == kafka.OffsetEnd, n == kafka.OffsetStored:
		return n, nil
	}
	return 0, errors.Wrapf(kafka.ErrConfig, "offset %d is neither absolute nor a known sentinel", n)
}

// parseTimeout accepts a timeout in milliseconds in the range 0..2^32-1.
func parseTimeout(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 || n > math.MaxUint32 {
		return 0, errors.Wrapf(kafka.ErrConfig, "timeout needs to be a number in the range 0..%d, got %q", uint32(math.MaxUint32), raw)
	}
	return n, nil
}
