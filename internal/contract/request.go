package contract

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// AddressLength is the size of a binary account or contract address.
const AddressLength = 25

type Method int

const (
	MethodCompile Method = iota + 1
	MethodCmdRun
)

func (m Method) String() string {
	switch m {
	case MethodCompile:
		return "compile"
	case MethodCmdRun:
		return "cmdrun"
	default:
		return "unknown"
	}
}

// Request is a decoded contract call.
type Request struct {
	ID      int64
	Method  Method
	Address []byte
	// AddressText is the address exactly as sent, 0x prefix included.
	AddressText string
	State       []byte
	Tx          Transaction
}

type Transaction struct {
	Value uint64
	Fees  uint64
	Nonce uint64
	Data  TxData
}

// TxData is the JSON payload carried by a transaction.
type TxData struct {
	Method   string
	Function string
	// Params is the text between the brackets of the params array, inserted
	// verbatim as call arguments.
	Params string
	Code   string
}

// ParseRequest decodes a contract request body.
func ParseRequest(body []byte) (*Request, *diag.Error) {
	fields, derr := decodeObject(body)
	if derr != nil {
		return nil, derr.Add("decode request")
	}

	req := &Request{}
	method, derr := stringField(fields, "method")
	if derr != nil {
		return nil, derr
	}
	switch method {
	case "compile":
		req.Method = MethodCompile
	case "cmdrun":
		req.Method = MethodCmdRun
	default:
		return nil, diag.Newf(diag.ErrInvalidArgument, "unknown method '%s'", method)
	}

	if req.ID, derr = intField(fields, "id"); derr != nil {
		return nil, derr
	}

	if req.AddressText, derr = stringField(fields, "address"); derr != nil {
		return nil, derr
	}
	if req.Address, derr = parseAddress(req.AddressText); derr != nil {
		return nil, derr
	}

	if req.Method == MethodCmdRun {
		state, derr := stringField(fields, "state")
		if derr != nil {
			return nil, derr
		}
		if req.State, derr = decodeHex("state", state); derr != nil {
			return nil, derr
		}
	}

	txText, derr := stringField(fields, "transaction")
	if derr != nil {
		return nil, derr
	}
	if req.Tx, derr = ParseTransaction(txText, req.Method); derr != nil {
		return nil, derr.AddFailed("ParseTransaction")
	}
	return req, nil
}

// ParseTransaction decodes a hex transaction:
//
//	[25-byte address][varint value][varint fees][varint nonce][varint size][data]
//
// The embedded address duplicates the request address and is skipped.
func ParseTransaction(text string, method Method) (Transaction, *diag.Error) {
	var tx Transaction
	raw, derr := decodeHex("transaction", text)
	if derr != nil {
		return tx, derr
	}
	if len(raw) <= AddressLength {
		return tx, diag.Newf(diag.ErrInvalidArgument, "transaction of %d bytes is too short", len(raw))
	}

	r := varintReader{buf: raw, pos: AddressLength}
	if tx.Value, derr = r.next("value"); derr != nil {
		return tx, derr
	}
	if tx.Fees, derr = r.next("fees"); derr != nil {
		return tx, derr
	}
	if tx.Nonce, derr = r.next("nonce"); derr != nil {
		return tx, derr
	}
	size, derr := r.next("data size")
	if derr != nil {
		return tx, derr
	}
	if uint64(r.remaining()) != size {
		return tx, diag.Newf(diag.ErrInvalidArgument, "transaction data is %d bytes, header says %d", r.remaining(), size)
	}

	if tx.Data, derr = parseTxData(raw[r.pos:], method); derr != nil {
		return tx, derr.Add("decode transaction data")
	}
	return tx, nil
}

func parseTxData(data []byte, method Method) (TxData, *diag.Error) {
	var d TxData
	fields, derr := decodeObject(data)
	if derr != nil {
		return d, derr
	}

	if d.Method, derr = stringField(fields, "method"); derr != nil {
		return d, derr
	}
	if method == MethodCompile || fields["code"] != nil {
		if d.Code, derr = stringField(fields, "code"); derr != nil {
			return d, derr
		}
	}
	if fields["function"] != nil {
		if d.Function, derr = stringField(fields, "function"); derr != nil {
			return d, derr
		}
		if d.Function != "" && !isIdentifier(d.Function) {
			return d, diag.Newf(diag.ErrInvalidArgument, "'%s' is not a valid function name", d.Function)
		}
	}
	if raw, ok := fields["params"]; ok {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '[' {
			return d, diag.Newf(diag.ErrJSONInappropriateType, "'params' must be an array")
		}
		d.Params = strings.TrimSpace(string(raw[1 : len(raw)-1]))
	}
	return d, nil
}

// decodeObject decodes a single JSON object into its raw members.
func decodeObject(data []byte) (map[string]json.RawMessage, *diag.Error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, jsonError(err)
	}
	if fields == nil {
		return nil, diag.Newf(diag.ErrJSONInappropriateType, "root must be an object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, diag.Newf(diag.ErrJSONUnexpectedDataAfterRoot, "data after the root object")
	}
	return fields, nil
}

func jsonError(err error) *diag.Error {
	var (
		syntax *json.SyntaxError
		typ    *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntax):
		return diag.Newf(diag.ErrJSONSyntaxError, "%s at offset %d", syntax.Error(), syntax.Offset)
	case errors.As(err, &typ):
		return diag.Newf(diag.ErrJSONInappropriateType, "root must be an object, got %s", typ.Value)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return diag.Newf(diag.ErrJSONSyntaxError, "unexpected end of JSON input")
	default:
		return diag.Wrap(diag.ErrJSONSyntaxError, err)
	}
}

func stringField(fields map[string]json.RawMessage, name string) (string, *diag.Error) {
	raw, ok := fields[name]
	if !ok {
		return "", diag.Newf(diag.ErrNotEnoughData, "field '%s' is absent", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", diag.Newf(diag.ErrJSONInappropriateType, "field '%s' must be a string", name)
	}
	return s, nil
}

func intField(fields map[string]json.RawMessage, name string) (int64, *diag.Error) {
	raw, ok := fields[name]
	if !ok {
		return 0, diag.Newf(diag.ErrNotEnoughData, "field '%s' is absent", name)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, diag.Newf(diag.ErrJSONInappropriateType, "field '%s' must be an integer", name)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, diag.Newf(diag.ErrJSONInappropriateType, "field '%s' must be an integer", name)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, diag.Newf(diag.ErrJSONInappropriateType, "field '%s' must be an integer", name)
	}
	return v, nil
}

func parseAddress(text string) ([]byte, *diag.Error) {
	hexPart, ok := strings.CutPrefix(text, "0x")
	if !ok {
		return nil, diag.Newf(diag.ErrInvalidArgument, "address '%s' lacks the 0x prefix", text)
	}
	return decodeHex("address", hexPart)
}

func decodeHex(field, text string) ([]byte, *diag.Error) {
	b, err := hex.DecodeString(text)
	if err != nil {
		return nil, diag.Newf(diag.ErrInvalidArgument, "'%s' is not valid hex: %v", field, err)
	}
	return b, nil
}

func isIdentifier(s string) bool {
	for i, c := range s {
		switch {
		case c == '_' || c == '$':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return s != ""
}
