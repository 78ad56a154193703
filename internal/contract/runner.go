package contract

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/engine"
	"github.com/luciancaetano/vmhttp/internal/logging"
)

// Result is the outcome of one contract call.
type Result struct {
	ID int64
	// Address of the created contract, set by compile only.
	Address string
	// State is the hex-encoded snapshot after the call.
	State string
	// Output is the JSON form of the call's return value, if any.
	Output json.RawMessage
}

type resultBody struct {
	Address string          `json:"address,omitempty"`
	State   string          `json:"state"`
	Output  json.RawMessage `json:"output,omitempty"`
}

// MarshalJSON renders {"id":N,"result":{...}}.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID     int64      `json:"id"`
		Result resultBody `json:"result"`
	}{
		ID:     r.ID,
		Result: resultBody{Address: r.Address, State: r.State, Output: r.Output},
	})
}

// Runner executes contract requests on an engine.
type Runner struct {
	eng    *engine.Engine
	logger *slog.Logger
}

func NewRunner(eng *engine.Engine, logger *slog.Logger) *Runner {
	return &Runner{eng: eng, logger: logging.Or(logger).With("component", "contract")}
}

// Execute runs a parsed request.
func (r *Runner) Execute(ctx context.Context, req *Request) (*Result, *diag.Error) {
	data := req.Tx.Data
	if data.Code == "" && data.Function == "" {
		return nil, diag.Newf(diag.ErrNetInvalidPackage, "script is absent")
	}

	var (
		res  *Result
		derr *diag.Error
	)
	switch req.Method {
	case MethodCompile:
		res, derr = r.compile(ctx, req)
	case MethodCmdRun:
		res, derr = r.cmdrun(ctx, req)
	default:
		derr = diag.Newf(diag.ErrInvalidArgument, "unknown method %d", req.Method)
	}
	if derr != nil {
		return nil, derr.Addf("%s for %s", req.Method, req.AddressText)
	}
	r.logger.Debug("contract call", "method", req.Method.String(), "address", req.AddressText, "function", data.Function)
	return res, nil
}

func (r *Runner) compile(ctx context.Context, req *Request) (*Result, *diag.Error) {
	data := req.Tx.Data
	c := r.eng.NewContext()
	if derr := c.Set("address", req.AddressText); derr != nil {
		return nil, derr
	}

	snap := &Snapshot{Schema: SnapshotSchema, Address: req.AddressText, Code: data.Code, Class: data.Function}
	if data.Code != "" {
		img, derr := r.eng.Compile(ctx, "contract.js", data.Code)
		if derr != nil {
			return nil, derr
		}
		if _, derr := c.Run(ctx, img); derr != nil {
			return nil, derr
		}
		snap.ImageHash = img.Hash
	}

	if data.Function != "" {
		script := fmt.Sprintf("contract = new %s(%s);", data.Function, data.Params)
		if _, derr := c.RunString(ctx, "constructor.js", script); derr != nil {
			return nil, derr
		}
		state, derr := contractJSON(c)
		if derr != nil {
			return nil, derr
		}
		snap.Contract = state
	}

	state, derr := encodeState(snap)
	if derr != nil {
		return nil, derr
	}
	return &Result{
		ID:      req.ID,
		Address: DeriveAddress(req.Address, req.Tx.Nonce),
		State:   state,
	}, nil
}

func (r *Runner) cmdrun(ctx context.Context, req *Request) (*Result, *diag.Error) {
	data := req.Tx.Data
	snap, derr := UnmarshalSnapshot(req.State)
	if derr != nil {
		return nil, derr
	}

	c := r.eng.NewContext()
	if derr := c.Set("address", req.AddressText); derr != nil {
		return nil, derr
	}
	if derr := r.restore(ctx, c, snap); derr != nil {
		return nil, derr.AddFailed("restore")
	}

	script := data.Code
	if data.Function != "" {
		script += fmt.Sprintf(";\ncontract.%s(%s);", data.Function, data.Params)
	}
	out, derr := c.RunString(ctx, "command.js", script)
	if derr != nil {
		return nil, derr
	}

	res := &Result{ID: req.ID}
	if s, ok, derr := c.Stringify(out); derr != nil {
		return nil, derr
	} else if ok {
		res.Output = json.RawMessage(s)
	}

	if snap.Class != "" {
		if snap.Contract, derr = contractJSON(c); derr != nil {
			return nil, derr
		}
	}
	if res.State, derr = encodeState(snap); derr != nil {
		return nil, derr
	}
	return res, nil
}

// restore recreates the contract of snap inside c.
func (r *Runner) restore(ctx context.Context, c *engine.Context, snap *Snapshot) *diag.Error {
	if snap.Code != "" {
		img, derr := r.eng.Compile(ctx, "contract.js", snap.Code)
		if derr != nil {
			return derr
		}
		if img.Hash != snap.ImageHash {
			return diag.Newf(diag.ErrJSCacheRejected, "snapshot image %s does not match code %s", snap.ImageHash, img.Hash)
		}
		if _, derr := c.Run(ctx, img); derr != nil {
			return derr
		}
	}
	if snap.Class == "" {
		return nil
	}

	fields, derr := c.ParseJSON(snap.Contract)
	if derr != nil {
		return diag.Newf(diag.ErrJSCacheRejected, "contract state is not JSON").CopyMessages(derr, 0)
	}
	if derr := c.Set("__state", fields); derr != nil {
		return derr
	}
	script := fmt.Sprintf("contract = Object.assign(Object.create(%s.prototype), __state); __state = undefined;", snap.Class)
	_, derr = c.RunString(ctx, "restore.js", script)
	return derr
}

func contractJSON(c *engine.Context) (string, *diag.Error) {
	v := c.Get("contract")
	if goja.IsUndefined(v) {
		return "", diag.Newf(diag.ErrJSUnknown, "script did not define 'contract'")
	}
	s, ok, derr := c.Stringify(v)
	if derr != nil {
		return "", derr
	}
	if !ok {
		return "", diag.Newf(diag.ErrJSUnknown, "contract has no JSON form")
	}
	return s, nil
}

func encodeState(snap *Snapshot) (string, *diag.Error) {
	b, derr := snap.Marshal()
	if derr != nil {
		return "", derr
	}
	return hex.EncodeToString(b), nil
}
