package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/luciancaetano/vmhttp"
)

const (
	headerSize     = 4
	maxPayloadSize = 1 << 20 // 1MiB max payload size
)

// Encode encodes the event id as the first 4 bytes (big-endian) followed by the payload.
func Encode(event uint32, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%s: %d > %d bytes", vmhttp.ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out[:headerSize], event)
	copy(out[headerSize:], payload)
	return out, nil
}

// Decode decodes the first 4 bytes as the event id (big-endian) and returns the rest as payload.
// The payload slice references the input data - do not modify it.
func Decode(data []byte) (uint32, []byte, error) {
	if len(data) < headerSize {
		return 0, nil, errors.New(vmhttp.ErrDataTooShort)
	}

	payloadSize := len(data) - headerSize
	if payloadSize > maxPayloadSize {
		return 0, nil, fmt.Errorf("%s: %d > %d bytes", vmhttp.ErrPayloadTooLarge, payloadSize, maxPayloadSize)
	}

	return binary.BigEndian.Uint32(data[:headerSize]), data[headerSize:], nil
}

// EncodeEvent frames v, encoded with msgpack, as event.
func EncodeEvent(event uint32, v any) ([]byte, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", vmhttp.ErrFailedToEncode, err)
	}
	return Encode(event, payload)
}

// DecodeEvent unframes data and decodes its msgpack payload into v.
func DecodeEvent(data []byte, v any) (uint32, error) {
	event, payload, err := Decode(data)
	if err != nil {
		return 0, err
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return event, fmt.Errorf("%s: %w", vmhttp.ErrFailedToDecode, err)
	}
	return event, nil
}
