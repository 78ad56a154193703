package contract

import (
	"crypto/sha256"
	"crypto/sha3"
	"encoding/binary"
	"encoding/hex"
)

// addressPrefix marks a contract address.
const addressPrefix = 0x08

// DeriveAddress computes the address of a contract created by sender with
// the given nonce:
//
//	h    = sha3-256(rlp([sender, nonce]))
//	body = 0x08 || h[12:32]
//	addr = body || sha256(sha256(body))[:4]
func DeriveAddress(sender []byte, nonce uint64) string {
	h := sha3.Sum256(rlpList(rlpString(sender), rlpString(minimalBigEndian(nonce))))

	addr := make([]byte, 0, AddressLength)
	addr = append(addr, addressPrefix)
	addr = append(addr, h[12:32]...)

	first := sha256.Sum256(addr)
	check := sha256.Sum256(first[:])
	addr = append(addr, check[:4]...)
	return "0x" + hex.EncodeToString(addr)
}

// minimalBigEndian encodes n without leading zero bytes; zero is empty.
func minimalBigEndian(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	return b[i:]
}

func rlpString(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return []byte{b[0]}
	}
	return append(rlpLength(len(b), 0x80), b...)
}

func rlpList(items ...[]byte) []byte {
	n := 0
	for _, it := range items {
		n += len(it)
	}
	out := rlpLength(n, 0xc0)
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func rlpLength(n int, offset byte) []byte {
	if n <= 55 {
		return []byte{offset + byte(n)}
	}
	size := minimalBigEndian(uint64(n))
	return append([]byte{offset + 55 + byte(len(size))}, size...)
}
