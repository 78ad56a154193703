package dispatch

import (
	"encoding/json"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/httpsession"
)

// ResultMapper writes a successful script output into resp. out is the JSON
// form of the output, or nil when the script produced no JSON value.
type ResultMapper func(req *httpsession.Request, out json.RawMessage, resp *httpsession.Response) *diag.Error

// DefaultMapper answers {"result": <output>}.
func DefaultMapper(_ *httpsession.Request, out json.RawMessage, resp *httpsession.Response) *diag.Error {
	if out == nil {
		out = json.RawMessage("null")
	}
	body, err := json.Marshal(struct {
		Result json.RawMessage `json:"result"`
	}{out})
	if err != nil {
		return diag.Wrap(diag.ErrJSONInappropriateValue, err)
	}
	resp.SetBody("application/json", body)
	return nil
}

type errorDetail struct {
	Code    uint32   `json:"code"`
	Name    string   `json:"name"`
	Message string   `json:"message"`
	Trail   []string `json:"trail,omitempty"`
}

type errorEnvelope struct {
	RequestID string      `json:"request_id,omitempty"`
	Error     errorDetail `json:"error"`
}

// ErrorBody returns an httpsession.ErrorHandler that answers failures as
// JSON. The trail is only included when exposeTrail is set.
func ErrorBody(exposeTrail bool) httpsession.ErrorHandler {
	return func(err *diag.Error, req *httpsession.Request, resp *httpsession.Response) {
		env := errorEnvelope{
			RequestID: req.RequestID,
			Error: errorDetail{
				Code:    uint32(err.Code()),
				Name:    err.Name(),
				Message: err.Description(),
			},
		}
		if exposeTrail {
			for _, m := range err.Messages() {
				env.Error.Trail = append(env.Error.Trail, m.String())
			}
		}
		body, mErr := json.Marshal(env)
		if mErr != nil {
			httpsession.DefaultErrorHandler(err, req, resp)
			return
		}
		resp.SetBody("application/json", body)
	}
}
