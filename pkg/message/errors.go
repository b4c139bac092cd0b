package message

import "github.com/pkg/errors"

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrTruncatedStream = errors.New("stream ended before a full record was read")
	ErrInvalidMessage  = errors.New("message fails proof of work")
	ErrSignExhausted   = errors.New("counter space exhausted without a valid signature")
)
