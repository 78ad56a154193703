package httpsession

import (
	"context"
	"net/http"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// Processor turns one request into a response. A failing diagnostic is
// answered through the session's ErrorHandler instead of resp.
type Processor interface {
	Process(ctx context.Context, req *Request) (*Response, *diag.Error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req *Request) (*Response, *diag.Error)

func (f ProcessorFunc) Process(ctx context.Context, req *Request) (*Response, *diag.Error) {
	return f(ctx, req)
}

// ErrorHandler fills resp for a failed request. resp arrives with
// Status already set to StatusFor(err.Code()). req is never nil but may be
// only partially parsed.
type ErrorHandler func(err *diag.Error, req *Request, resp *Response)

// DefaultErrorHandler answers with the code description as plain text.
func DefaultErrorHandler(err *diag.Error, _ *Request, resp *Response) {
	resp.SetBody("text/plain; charset=utf-8", []byte(err.Description()+"\n"))
}

var statusByCode = map[diag.Code]int{
	diag.ErrNetEntityTooLarge:   http.StatusRequestEntityTooLarge,
	diag.ErrNetMsgTooBig:        http.StatusRequestHeaderFieldsTooLarge,
	diag.ErrNetInvalidPackage:   http.StatusBadRequest,
	diag.ErrInvalidArgument:     http.StatusBadRequest,
	diag.ErrNotEnoughData:       http.StatusBadRequest,
	diag.ErrTimeout:             http.StatusRequestTimeout,
	diag.ErrNetActionNotAllowed: http.StatusTooManyRequests,
	diag.ErrAccessDenied:        http.StatusForbidden,
	diag.ErrFileNotFound:        http.StatusNotFound,
	diag.ErrPathNotFound:        http.StatusNotFound,
	diag.ErrFileNotExists:       http.StatusNotFound,
	diag.ErrNotImplemented:      http.StatusNotImplemented,
	diag.ErrJSCacheRejected:     http.StatusConflict,
}

// StatusFor maps a diagnostic code to the HTTP status used to report it.
func StatusFor(code diag.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	if code.Failed() && code.Category() == diag.CategoryJSON {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
