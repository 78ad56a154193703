package contract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/engine"
	"github.com/luciancaetano/vmhttp/internal/logging"
)

const counterCode = `function Counter(start) { this.n = start; }
Counter.prototype.inc = function (by) { this.n += by; return this.n; };`

func sender() []byte {
	b := make([]byte, AddressLength)
	b[0] = addressPrefix
	for i := 1; i < len(b); i++ {
		b[i] = byte(i)
	}
	return b
}

func txHex(t *testing.T, nonce uint64, data any) string {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("json.Marshal() = %v", err)
	}
	return hex.EncodeToString(EncodeTransaction(sender(), 0, 0, nonce, payload))
}

func requestBody(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("json.Marshal() = %v", err)
	}
	return b
}

func newRunner() *Runner {
	return NewRunner(engine.New(engine.Config{Logger: logging.Discard()}), logging.Discard())
}

func TestParseRequestErrors(t *testing.T) {
	t.Parallel()

	addr := "0x" + hex.EncodeToString(sender())
	goodTx := txHex(t, 1, map[string]any{"method": "create", "code": "1", "function": "F", "params": []int{}})
	tests := []struct {
		name string
		body string
		want diag.Code
	}{
		{"malformed", `{"method":`, diag.ErrJSONSyntaxError},
		{"not an object", `[1,2]`, diag.ErrJSONInappropriateType},
		{"null root", `null`, diag.ErrJSONInappropriateType},
		{"trailing data", `{"method":"compile"} {}`, diag.ErrJSONUnexpectedDataAfterRoot},
		{"missing method", `{"id":1}`, diag.ErrNotEnoughData},
		{"unknown method", `{"method":"drop","id":1}`, diag.ErrInvalidArgument},
		{"method not a string", `{"method":7}`, diag.ErrJSONInappropriateType},
		{"missing id", `{"method":"compile"}`, diag.ErrNotEnoughData},
		{"id as string", `{"method":"compile","id":"1"}`, diag.ErrJSONInappropriateType},
		{"id as double", `{"method":"compile","id":1.5}`, diag.ErrJSONInappropriateType},
		{"address without prefix", `{"method":"compile","id":1,"address":"abcd"}`, diag.ErrInvalidArgument},
		{"address not hex", `{"method":"compile","id":1,"address":"0xzz"}`, diag.ErrInvalidArgument},
		{"cmdrun without state", `{"method":"cmdrun","id":1,"address":"` + addr + `","transaction":"` + goodTx + `"}`, diag.ErrNotEnoughData},
		{"missing transaction", `{"method":"compile","id":1,"address":"` + addr + `"}`, diag.ErrNotEnoughData},
		{"short transaction", `{"method":"compile","id":1,"address":"` + addr + `","transaction":"` + hex.EncodeToString(sender()) + `"}`, diag.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, derr := ParseRequest([]byte(tt.body))
			if got := derr.Code(); got != tt.want {
				t.Errorf("ParseRequest() code = %v, want %v (%v)", got, tt.want, derr)
			}
		})
	}
}

func TestParseRequestCompile(t *testing.T) {
	t.Parallel()

	addr := "0x" + hex.EncodeToString(sender())
	body := requestBody(t, map[string]any{
		"method":      "compile",
		"id":          7,
		"address":     addr,
		"transaction": txHex(t, 300, map[string]any{"method": "create", "code": counterCode, "function": "Counter", "params": []any{5, "x"}}),
	})

	req, derr := ParseRequest(body)
	if derr != nil {
		t.Fatalf("ParseRequest() = %v", derr)
	}
	if req.ID != 7 || req.Method != MethodCompile || req.AddressText != addr {
		t.Errorf("ParseRequest() = %+v", req)
	}
	if !bytes.Equal(req.Address, sender()) {
		t.Errorf("Address = %x, want %x", req.Address, sender())
	}
	if req.Tx.Nonce != 300 {
		t.Errorf("Nonce = %d, want 300", req.Tx.Nonce)
	}
	if req.Tx.Data.Function != "Counter" || req.Tx.Data.Code != counterCode {
		t.Errorf("Data = %+v", req.Tx.Data)
	}
	if req.Tx.Data.Params != `5,"x"` {
		t.Errorf("Params = %q, want %q", req.Tx.Data.Params, `5,"x"`)
	}
}

func TestParseTransactionErrors(t *testing.T) {
	t.Parallel()

	valid := EncodeTransaction(sender(), 1, 2, 3, []byte(`{"method":"m","code":"1"}`))
	tests := []struct {
		name   string
		raw    []byte
		method Method
		want   diag.Code
	}{
		{"size mismatch", append(bytes.Clone(valid), ' '), MethodCompile, diag.ErrInvalidArgument},
		{"truncated varint", append(bytes.Clone(sender()), varint32, 1), MethodCompile, diag.ErrInvalidArgument},
		{"ends before nonce", append(bytes.Clone(sender()), 1, 2), MethodCompile, diag.ErrInvalidArgument},
		{"unknown prefix", append(bytes.Clone(sender()), 0xff), MethodCompile, diag.ErrUnsupportedType},
		{"compile without code", EncodeTransaction(sender(), 0, 0, 0, []byte(`{"method":"m"}`)), MethodCompile, diag.ErrNotEnoughData},
		{"missing method", EncodeTransaction(sender(), 0, 0, 0, []byte(`{"code":"1"}`)), MethodCompile, diag.ErrNotEnoughData},
		{"bad function", EncodeTransaction(sender(), 0, 0, 0, []byte(`{"method":"m","function":"a.b"}`)), MethodCmdRun, diag.ErrInvalidArgument},
		{"params not array", EncodeTransaction(sender(), 0, 0, 0, []byte(`{"method":"m","function":"f","params":1}`)), MethodCmdRun, diag.ErrJSONInappropriateType},
		{"data not JSON", EncodeTransaction(sender(), 0, 0, 0, []byte(`{`)), MethodCmdRun, diag.ErrJSONSyntaxError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, derr := ParseTransaction(hex.EncodeToString(tt.raw), tt.method)
			if got := derr.Code(); got != tt.want {
				t.Errorf("ParseTransaction() code = %v, want %v (%v)", got, tt.want, derr)
			}
		})
	}
}

func TestVarintRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v    uint64
		size int
	}{
		{0, 1},
		{249, 1},
		{250, 3},
		{0xffff, 3},
		{0x10000, 5},
		{0xffffffff, 5},
		{0x100000000, 9},
		{^uint64(0), 9},
	}

	for _, tt := range tests {
		b := AppendVarint(nil, tt.v)
		if len(b) != tt.size {
			t.Errorf("AppendVarint(%d) = %d bytes, want %d", tt.v, len(b), tt.size)
		}
		r := varintReader{buf: b}
		got, derr := r.next("value")
		if derr != nil || got != tt.v {
			t.Errorf("next() = %d, %v, want %d", got, derr, tt.v)
		}
		if r.remaining() != 0 {
			t.Errorf("remaining() = %d after %d, want 0", r.remaining(), tt.v)
		}
	}
}

func TestRLP(t *testing.T) {
	t.Parallel()

	got := rlpList(rlpString([]byte("cat")), rlpString([]byte("dog")))
	want := []byte{0xc8, 0x83, 'c', 'a', 't', 0x83, 'd', 'o', 'g'}
	if !bytes.Equal(got, want) {
		t.Errorf("rlp([cat dog]) = %x, want %x", got, want)
	}
	if got := rlpString(minimalBigEndian(0)); !bytes.Equal(got, []byte{0x80}) {
		t.Errorf("rlp(0) = %x, want 80", got)
	}
	if got := rlpString([]byte{0x0f}); !bytes.Equal(got, []byte{0x0f}) {
		t.Errorf("rlp(0x0f) = %x, want 0f", got)
	}
	long := rlpString(make([]byte, 1024))
	if !bytes.Equal(long[:3], []byte{0xb9, 0x04, 0x00}) {
		t.Errorf("rlp(1024 bytes) header = %x, want b90400", long[:3])
	}
}

func TestDeriveAddress(t *testing.T) {
	t.Parallel()

	a := DeriveAddress(sender(), 1)
	if len(a) != 2+2*AddressLength {
		t.Fatalf("len(DeriveAddress()) = %d, want %d", len(a), 2+2*AddressLength)
	}
	if !strings.HasPrefix(a, "0x08") {
		t.Errorf("DeriveAddress() = %s, want 0x08 prefix", a)
	}

	raw, err := hex.DecodeString(a[2:])
	if err != nil {
		t.Fatalf("hex.DecodeString() = %v", err)
	}
	first := sha256.Sum256(raw[:21])
	check := sha256.Sum256(first[:])
	if !bytes.Equal(raw[21:], check[:4]) {
		t.Errorf("checksum = %x, want %x", raw[21:], check[:4])
	}

	if b := DeriveAddress(sender(), 1); b != a {
		t.Errorf("DeriveAddress() not deterministic: %s != %s", a, b)
	}
	if b := DeriveAddress(sender(), 2); b == a {
		t.Errorf("DeriveAddress() equal for different nonces: %s", a)
	}
}

func TestUnmarshalSnapshotRejects(t *testing.T) {
	t.Parallel()

	encode := func(s Snapshot) []byte {
		b, derr := s.Marshal()
		if derr != nil {
			t.Fatalf("Marshal() = %v", derr)
		}
		return b
	}

	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xc1, 0x00}},
		{"old schema", encode(Snapshot{Schema: SnapshotSchema + 1})},
		{"bad class", encode(Snapshot{Schema: SnapshotSchema, Class: "a;b"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, derr := UnmarshalSnapshot(tt.raw)
			if got := derr.Code(); got != diag.ErrJSCacheRejected {
				t.Errorf("UnmarshalSnapshot() code = %v, want %v", got, diag.ErrJSCacheRejected)
			}
		})
	}

	s, derr := UnmarshalSnapshot(encode(Snapshot{Schema: SnapshotSchema, Class: "Counter", Contract: `{"n":1}`}))
	if derr != nil || s.Class != "Counter" || s.Contract != `{"n":1}` {
		t.Errorf("UnmarshalSnapshot() = %+v, %v", s, derr)
	}
}

func TestCompileThenCmdRun(t *testing.T) {
	t.Parallel()

	r := newRunner()
	ctx := context.Background()
	addr := "0x" + hex.EncodeToString(sender())

	req, derr := ParseRequest(requestBody(t, map[string]any{
		"method":      "compile",
		"id":          1,
		"address":     addr,
		"transaction": txHex(t, 1, map[string]any{"method": "create", "code": counterCode, "function": "Counter", "params": []int{5}}),
	}))
	if derr != nil {
		t.Fatalf("ParseRequest(compile) = %v", derr)
	}
	res, derr := r.Execute(ctx, req)
	if derr != nil {
		t.Fatalf("Execute(compile) = %v", derr)
	}
	if want := DeriveAddress(sender(), 1); res.Address != want {
		t.Errorf("Address = %s, want %s", res.Address, want)
	}

	state := res.State
	for i, want := range []string{"7", "9"} {
		req, derr := ParseRequest(requestBody(t, map[string]any{
			"method":      "cmdrun",
			"id":          2 + i,
			"address":     addr,
			"state":       state,
			"transaction": txHex(t, 2, map[string]any{"method": "call", "function": "inc", "params": []int{2}}),
		}))
		if derr != nil {
			t.Fatalf("ParseRequest(cmdrun) = %v", derr)
		}
		res, derr := r.Execute(ctx, req)
		if derr != nil {
			t.Fatalf("Execute(cmdrun) = %v", derr)
		}
		if string(res.Output) != want {
			t.Errorf("call %d output = %s, want %s", i, res.Output, want)
		}
		if res.Address != "" {
			t.Errorf("cmdrun Address = %q, want empty", res.Address)
		}
		state = res.State
	}

	raw, err := hex.DecodeString(state)
	if err != nil {
		t.Fatalf("hex.DecodeString() = %v", err)
	}
	snap, derr := UnmarshalSnapshot(raw)
	if derr != nil {
		t.Fatalf("UnmarshalSnapshot() = %v", derr)
	}
	if snap.Contract != `{"n":9}` || snap.Class != "Counter" || snap.Address != addr {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestExecuteFailures(t *testing.T) {
	t.Parallel()

	r := newRunner()
	ctx := context.Background()
	addr := "0x" + hex.EncodeToString(sender())

	tampered, derr := (&Snapshot{Schema: SnapshotSchema, Code: counterCode, ImageHash: "00", Class: "Counter", Contract: `{"n":1}`}).Marshal()
	if derr != nil {
		t.Fatalf("Marshal() = %v", derr)
	}

	tests := []struct {
		name string
		req  *Request
		want diag.Code
	}{
		{
			name: "empty script",
			req:  &Request{Method: MethodCompile, AddressText: addr},
			want: diag.ErrNetInvalidPackage,
		},
		{
			name: "constructor throws",
			req: &Request{Method: MethodCompile, AddressText: addr, Tx: Transaction{Data: TxData{
				Code: "function Bad() { throw new Error('no'); }", Function: "Bad",
			}}},
			want: diag.ErrJSException,
		},
		{
			name: "syntax error",
			req:  &Request{Method: MethodCompile, AddressText: addr, Tx: Transaction{Data: TxData{Code: "function ("}}},
			want: diag.ErrJSException,
		},
		{
			name: "image hash mismatch",
			req: &Request{Method: MethodCmdRun, AddressText: addr, State: tampered, Tx: Transaction{Data: TxData{
				Function: "inc", Params: "1",
			}}},
			want: diag.ErrJSCacheRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, derr := r.Execute(ctx, tt.req)
			if got := derr.Code(); got != tt.want {
				t.Errorf("Execute() code = %v, want %v (%v)", got, tt.want, derr)
			}
		})
	}
}

func TestResultJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		res  Result
		want string
	}{
		{Result{ID: 1, Address: "0x08", State: "ab"}, `{"id":1,"result":{"address":"0x08","state":"ab"}}`},
		{Result{ID: 2, State: "cd", Output: json.RawMessage(`7`)}, `{"id":2,"result":{"state":"cd","output":7}}`},
	}

	for _, tt := range tests {
		b, err := json.Marshal(&tt.res)
		if err != nil {
			t.Fatalf("json.Marshal() = %v", err)
		}
		if string(b) != tt.want {
			t.Errorf("json.Marshal() = %s, want %s", b, tt.want)
		}
	}
}
