// Package protocol implements the default envelope codec: a kind byte, a
// length-prefixed correlation-id and the raw payload.
package protocol

import (
	"errors"
	"fmt"

	"github.com/wavely/roomcast"
)

const (
	kindSize       = 1
	idLenSize      = 1
	maxIDSize      = 255
	maxPayloadSize = 10 * 1024 * 1024 // 10MB max payload size
)

var (
	ErrTooShort    = errors.New("data too short")
	ErrBadKind     = errors.New("unknown envelope kind")
	ErrTruncatedID = errors.New("correlation id truncated")
)

// Codec is the default binary envelope implementation of roomcast.Codec.
//
// Layout: [1 byte kind][1 byte id length][id bytes][payload]. Indications
// carry a zero id length.
type Codec struct{}

var _ roomcast.Codec = Codec{}

// Encode wraps payload into an envelope of the given kind.
func (Codec) Encode(kind roomcast.Kind, correlationID string, payload []byte) ([]byte, error) {
	if kind < roomcast.KindServerCommand || kind > roomcast.KindIndication {
		return nil, fmt.Errorf("%w: %d", ErrBadKind, kind)
	}
	if len(correlationID) > maxIDSize {
		return nil, fmt.Errorf("correlation id length %d exceeds maximum %d bytes", len(correlationID), maxIDSize)
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d bytes", len(payload), maxPayloadSize)
	}

	out := make([]byte, kindSize+idLenSize+len(correlationID)+len(payload))
	out[0] = byte(kind)
	out[1] = byte(len(correlationID))
	copy(out[kindSize+idLenSize:], correlationID)
	copy(out[kindSize+idLenSize+len(correlationID):], payload)
	return out, nil
}

// Decode is the inverse of Encode. The payload slice references the input
// data for performance - do not modify it.
func (Codec) Decode(data []byte) (roomcast.Kind, string, []byte, error) {
	if len(data) < kindSize+idLenSize {
		return 0, "", nil, ErrTooShort
	}

	kind := roomcast.Kind(data[0])
	if kind < roomcast.KindServerCommand || kind > roomcast.KindIndication {
		return 0, "", nil, fmt.Errorf("%w: %d", ErrBadKind, data[0])
	}

	idLen := int(data[1])
	if len(data) < kindSize+idLenSize+idLen {
		return 0, "", nil, ErrTruncatedID
	}

	payloadSize := len(data) - kindSize - idLenSize - idLen
	if payloadSize > maxPayloadSize {
		return 0, "", nil, fmt.Errorf("payload size %d exceeds maximum %d bytes", payloadSize, maxPayloadSize)
	}

	correlationID := string(data[kindSize+idLenSize : kindSize+idLenSize+idLen])
	// Use slicing instead of copying for better performance
	payload := data[kindSize+idLenSize+idLen:]
	return kind, correlationID, payload, nil
}
