// Package engine runs JavaScript through goja. Compiled images are cached
// and shared between sessions; each execution gets its own runtime.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/sync/singleflight"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/logging"
)

const (
	DefaultExecTimeout = 5 * time.Second
	DefaultMaxImages   = 256
)

type Config struct {
	ExecTimeout time.Duration
	MaxImages   int
	Logger      *slog.Logger
}

// Image is a compiled program. It is immutable and may run on any number of
// contexts at once.
type Image struct {
	Name string
	// Hash is the hex SHA-256 of the decoded source.
	Hash string
	Size int

	prog *goja.Program
}

type Stats struct {
	Images   int    `json:"images" msgpack:"images"`
	Hits     uint64 `json:"hits" msgpack:"hits"`
	Misses   uint64 `json:"misses" msgpack:"misses"`
	Compiles uint64 `json:"compiles" msgpack:"compiles"`
}

type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	images map[string]*Image
	group  singleflight.Group

	hits     atomic.Uint64
	misses   atomic.Uint64
	compiles atomic.Uint64
}

func New(cfg Config) *Engine {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	return &Engine{
		cfg:    cfg,
		logger: logging.Or(cfg.Logger).With("component", "engine"),
		images: make(map[string]*Image),
	}
}

// Compile compiles source once per distinct content. Concurrent calls for the
// same content wait for a single compilation.
func (e *Engine) Compile(ctx context.Context, name, source string) (*Image, *diag.Error) {
	sum := sha256.Sum256([]byte(source))
	hash := hex.EncodeToString(sum[:])
	return e.cached(ctx, "src:"+hash, func() (*Image, *diag.Error) {
		return compile(name, hash, source)
	})
}

// CompileFile compiles the file at path. The cache key includes size and
// modification time so an edited file is recompiled.
func (e *Engine) CompileFile(ctx context.Context, path string) (*Image, *diag.Error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fileError(err, path)
	}
	if fi.IsDir() {
		return nil, diag.Newf(diag.ErrInvalidArgument, "'%s' is a directory", path)
	}

	key := fmt.Sprintf("file:%s:%d:%d", filepath.Clean(path), fi.Size(), fi.ModTime().UnixNano())
	return e.cached(ctx, key, func() (*Image, *diag.Error) {
		source, derr := ReadSource(path)
		if derr != nil {
			return nil, derr
		}
		sum := sha256.Sum256([]byte(source))
		return compile(filepath.Base(path), hex.EncodeToString(sum[:]), source)
	})
}

func (e *Engine) cached(ctx context.Context, key string, build func() (*Image, *diag.Error)) (*Image, *diag.Error) {
	e.mu.RLock()
	img, ok := e.images[key]
	e.mu.RUnlock()
	if ok {
		e.hits.Add(1)
		return img, nil
	}
	e.misses.Add(1)

	ch := e.group.DoChan(key, func() (any, error) {
		img, derr := build()
		if derr != nil {
			return nil, derr
		}
		e.compiles.Add(1)
		e.store(key, img)
		return img, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			// every waiter gets its own trail
			return nil, res.Err.(*diag.Error).Copy()
		}
		return res.Val.(*Image), nil
	case <-ctx.Done():
		return nil, diag.Newf(diag.ErrTimeout, "waiting for compilation: %v", ctx.Err())
	}
}

func (e *Engine) store(key string, img *Image) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.images) >= e.cfg.MaxImages {
		for k := range e.images {
			delete(e.images, k)
			break
		}
	}
	e.images[key] = img
	e.logger.Debug("image compiled", "name", img.Name, "hash", img.Hash, "size", img.Size)
}

// Purge drops every cached image.
func (e *Engine) Purge() {
	e.mu.Lock()
	clear(e.images)
	e.mu.Unlock()
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	n := len(e.images)
	e.mu.RUnlock()
	return Stats{
		Images:   n,
		Hits:     e.hits.Load(),
		Misses:   e.misses.Load(),
		Compiles: e.compiles.Load(),
	}
}

func compile(name, hash, source string) (*Image, *diag.Error) {
	prog, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, diag.Newf(diag.ErrJSException, "compile %s: %s", name, err.Error())
	}
	return &Image{Name: name, Hash: hash, Size: len(source), prog: prog}, nil
}

func fileError(err error, path string) *diag.Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return diag.Newf(diag.ErrFileNotFound, "'%s' does not exist", path)
	case errors.Is(err, fs.ErrPermission):
		return diag.Newf(diag.ErrAccessDenied, "'%s' is not readable", path)
	default:
		return diag.Wrap(diag.ErrIOError, err).Addf("access '%s'", path)
	}
}
