// Package dispatch routes HTTP requests to the script engine. It is the
// httpsession.Processor of the server.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/luciancaetano/vmhttp/internal/contract"
	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/engine"
	"github.com/luciancaetano/vmhttp/internal/httpsession"
	"github.com/luciancaetano/vmhttp/internal/logging"
)

// Routes reported by Route.
const (
	RouteContract = "contract"
	RouteRun      = "run"
	RouteOther    = "other"
)

const runPrefix = "/run/"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

type Config struct {
	// ImagesDir holds <image>.js files for /run/<image>.
	ImagesDir string
	// ScriptsDir holds <script>.js files for /run/<image>/<script>.
	ScriptsDir string
	// ExposeTrail adds the diagnostic trail to error bodies.
	ExposeTrail bool
	// Mapper writes successful results. Defaults to DefaultMapper.
	Mapper ResultMapper
	Logger *slog.Logger
}

// Adapter implements httpsession.Processor.
type Adapter struct {
	cfg    Config
	eng    *engine.Engine
	runner *contract.Runner
	logger *slog.Logger
}

var _ httpsession.Processor = (*Adapter)(nil)

func New(cfg Config, eng *engine.Engine, runner *contract.Runner) *Adapter {
	if cfg.Mapper == nil {
		cfg.Mapper = DefaultMapper
	}
	return &Adapter{
		cfg:    cfg,
		eng:    eng,
		runner: runner,
		logger: logging.Or(cfg.Logger).With("component", "dispatch"),
	}
}

// Route classifies a request path for metrics.
func Route(path string) string {
	switch {
	case path == "/":
		return RouteContract
	case strings.HasPrefix(path, runPrefix):
		return RouteRun
	default:
		return RouteOther
	}
}

func (a *Adapter) Process(ctx context.Context, req *httpsession.Request) (*httpsession.Response, *diag.Error) {
	if req.Method != http.MethodPost {
		resp := httpsession.NewResponse(http.StatusMethodNotAllowed)
		resp.Header.Set("Allow", http.MethodPost)
		resp.SetBody("text/plain; charset=utf-8", []byte("only POST is supported\n"))
		return resp, nil
	}

	switch Route(req.Path) {
	case RouteContract:
		return a.runContract(ctx, req)
	case RouteRun:
		return a.runImage(ctx, req)
	default:
		return nil, diag.Newf(diag.ErrPathNotFound, "no route for '%s'", req.Path)
	}
}

func (a *Adapter) runContract(ctx context.Context, req *httpsession.Request) (*httpsession.Response, *diag.Error) {
	creq, derr := contract.ParseRequest(req.Body)
	if derr != nil {
		return nil, derr
	}
	res, derr := a.runner.Execute(ctx, creq)
	if derr != nil {
		return nil, derr
	}
	body, err := json.Marshal(res)
	if err != nil {
		return nil, diag.Wrap(diag.ErrJSONInappropriateValue, err).Add("encode contract result")
	}
	resp := httpsession.NewResponse(http.StatusOK)
	resp.SetBody("application/json", body)
	return resp, nil
}

// runImage serves /run/<image>[/<script>]. The image runs first, then the
// script, in one context; the last completion value is the output.
func (a *Adapter) runImage(ctx context.Context, req *httpsession.Request) (*httpsession.Response, *diag.Error) {
	parts := strings.Split(strings.TrimPrefix(req.Path, runPrefix), "/")
	if len(parts) > 2 {
		return nil, diag.Newf(diag.ErrPathNotFound, "no route for '%s'", req.Path)
	}
	for _, name := range parts {
		if !validName(name) {
			return nil, diag.Newf(diag.ErrAccessDenied, "'%s' is not a valid name", name)
		}
	}

	imgPath, derr := resolve(a.cfg.ImagesDir, "images", parts[0])
	if derr != nil {
		return nil, derr
	}
	img, derr := a.eng.CompileFile(ctx, imgPath)
	if derr != nil {
		return nil, derr.AddFailed("CompileFile")
	}

	var script *engine.Image
	if len(parts) == 2 {
		scriptPath, derr := resolve(a.cfg.ScriptsDir, "scripts", parts[1])
		if derr != nil {
			return nil, derr
		}
		if script, derr = a.eng.CompileFile(ctx, scriptPath); derr != nil {
			return nil, derr.AddFailed("CompileFile")
		}
	}

	c := a.eng.NewContext()
	if derr := a.bindInput(c, req.Body); derr != nil {
		return nil, derr
	}
	out, derr := c.Run(ctx, img)
	if derr != nil {
		return nil, derr.Addf("run image '%s'", parts[0])
	}
	if script != nil {
		if out, derr = c.Run(ctx, script); derr != nil {
			return nil, derr.Addf("run script '%s'", parts[1])
		}
	}

	var result json.RawMessage
	if s, ok, derr := c.Stringify(out); derr != nil {
		return nil, derr
	} else if ok {
		result = json.RawMessage(s)
	}

	resp := httpsession.NewResponse(http.StatusOK)
	if derr := a.cfg.Mapper(req, result, resp); derr != nil {
		return nil, derr.AddFailed("ResultMapper")
	}
	a.logger.Debug("script served", "request_id", req.RequestID, "image", parts[0], "bytes", len(resp.Body))
	return resp, nil
}

// bindInput exposes the JSON request body as the global input; an empty
// body leaves input null.
func (a *Adapter) bindInput(c *engine.Context, body []byte) *diag.Error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return c.Set("input", nil)
	}
	v, derr := c.ParseJSON(string(body))
	if derr != nil {
		return derr.Add("request body is not JSON")
	}
	return c.Set("input", v)
}

func validName(name string) bool {
	return namePattern.MatchString(name) && !strings.Contains(name, "..")
}

func resolve(dir, what, name string) (string, *diag.Error) {
	if dir == "" {
		return "", diag.Newf(diag.ErrPathNotFound, "%s directory is not configured", what)
	}
	return filepath.Join(dir, name+".js"), nil
}
