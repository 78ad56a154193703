package contract

import (
	"encoding/binary"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// Varint prefixes. A first byte up to maxInlineVarint is the value itself.
const (
	maxInlineVarint = 249
	varint16        = 250
	varint32        = 251
	varint64        = 252
)

type varintReader struct {
	buf []byte
	pos int
}

func (r *varintReader) remaining() int { return len(r.buf) - r.pos }

// next reads one little-endian varint.
func (r *varintReader) next(what string) (uint64, *diag.Error) {
	if r.remaining() < 1 {
		return 0, diag.Newf(diag.ErrInvalidArgument, "transaction ends before %s", what)
	}
	prefix := r.buf[r.pos]
	r.pos++

	var width int
	switch {
	case prefix <= maxInlineVarint:
		return uint64(prefix), nil
	case prefix == varint16:
		width = 2
	case prefix == varint32:
		width = 4
	case prefix == varint64:
		width = 8
	default:
		return 0, diag.Newf(diag.ErrUnsupportedType, "unknown integer prefix 0x%02x for %s", prefix, what)
	}

	if r.remaining() < width {
		return 0, diag.Newf(diag.ErrInvalidArgument, "transaction ends inside %s", what)
	}
	b := r.buf[r.pos : r.pos+width]
	r.pos += width
	switch width {
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

// AppendVarint appends v in the shortest transaction varint form.
func AppendVarint(dst []byte, v uint64) []byte {
	switch {
	case v <= maxInlineVarint:
		return append(dst, byte(v))
	case v <= 0xffff:
		return binary.LittleEndian.AppendUint16(append(dst, varint16), uint16(v))
	case v <= 0xffffffff:
		return binary.LittleEndian.AppendUint32(append(dst, varint32), uint32(v))
	default:
		return binary.LittleEndian.AppendUint64(append(dst, varint64), v)
	}
}

// EncodeTransaction builds the binary transaction ParseTransaction reads.
// data is the JSON payload.
func EncodeTransaction(address []byte, value, fees, nonce uint64, data []byte) []byte {
	out := make([]byte, AddressLength, AddressLength+len(data)+36)
	copy(out, address)
	out = AppendVarint(out, value)
	out = AppendVarint(out, fees)
	out = AppendVarint(out, nonce)
	out = AppendVarint(out, uint64(len(data)))
	return append(out, data...)
}
