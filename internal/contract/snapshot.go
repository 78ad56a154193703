package contract

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// SnapshotSchema is bumped whenever Snapshot changes incompatibly.
const SnapshotSchema = 1

// Snapshot is the persisted state of one contract. It travels hex-encoded
// in the state field of requests and responses.
type Snapshot struct {
	Schema int `msgpack:"schema"`
	// Address is the address of the account that created the contract.
	Address string `msgpack:"address"`
	// ImageHash is the SHA-256 of Code as compiled by the engine.
	ImageHash string `msgpack:"image_hash"`
	Code      string `msgpack:"code"`
	// Class is the constructor the contract was created with; empty when
	// the compile call only ran code.
	Class string `msgpack:"class"`
	// Contract is the JSON form of the contract object.
	Contract string `msgpack:"contract"`
}

func (s *Snapshot) Marshal() ([]byte, *diag.Error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, diag.Wrap(diag.ErrFailed, err).Add("encode contract snapshot")
	}
	return b, nil
}

// UnmarshalSnapshot decodes and validates a snapshot. Anything that cannot
// be restored is rejected with errJSCacheRejected.
func UnmarshalSnapshot(b []byte) (*Snapshot, *diag.Error) {
	if len(b) == 0 {
		return nil, diag.Newf(diag.ErrJSCacheRejected, "contract state is empty")
	}
	var s Snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return nil, diag.Wrap(diag.ErrJSCacheRejected, err).Add("decode contract snapshot")
	}
	if s.Schema != SnapshotSchema {
		return nil, diag.Newf(diag.ErrJSCacheRejected, "snapshot schema %d, want %d", s.Schema, SnapshotSchema)
	}
	if s.Class != "" && !isIdentifier(s.Class) {
		return nil, diag.Newf(diag.ErrJSCacheRejected, "snapshot class '%s' is not an identifier", s.Class)
	}
	return &s, nil
}
