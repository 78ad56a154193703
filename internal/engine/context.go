package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

type interruptReason struct{ text string }

// Context is one JavaScript realm. It is not safe for concurrent use; a
// session creates one per request.
type Context struct {
	eng *Engine
	vm  *goja.Runtime
}

func (e *Engine) NewContext() *Context {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return &Context{eng: e, vm: vm}
}

// Run executes img and returns its completion value.
func (c *Context) Run(ctx context.Context, img *Image) (goja.Value, *diag.Error) {
	return c.exec(ctx, img.Name, func() (goja.Value, error) {
		return c.vm.RunProgram(img.prog)
	})
}

// RunString compiles and runs src without caching it.
func (c *Context) RunString(ctx context.Context, name, src string) (goja.Value, *diag.Error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, diag.Newf(diag.ErrJSException, "compile %s: %s", name, err.Error())
	}
	return c.exec(ctx, name, func() (goja.Value, error) {
		return c.vm.RunProgram(prog)
	})
}

// exec runs fn under the execution timeout and ctx. Nothing thrown by the
// script or by the runtime escapes as a panic.
func (c *Context) exec(ctx context.Context, name string, fn func() (goja.Value, error)) (v goja.Value, derr *diag.Error) {
	if err := ctx.Err(); err != nil {
		return nil, diag.Newf(diag.ErrTimeout, "%s not started: %v", name, err)
	}

	// Both interrupt callbacks must have finished before ClearInterrupt, or a
	// late Interrupt would abort the next run on this realm.
	timeout := c.eng.cfg.ExecTimeout
	timerFired := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		defer close(timerFired)
		c.vm.Interrupt(interruptReason{fmt.Sprintf("execution exceeded %s", timeout)})
	})
	ctxFired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(ctxFired)
		c.vm.Interrupt(interruptReason{ctx.Err().Error()})
	})
	defer func() {
		if !timer.Stop() {
			<-timerFired
		}
		if !stop() {
			<-ctxFired
		}
		c.vm.ClearInterrupt()
		if r := recover(); r != nil {
			v, derr = nil, diag.Newf(diag.ErrJSUnknown, "%s: runtime panic: %v", name, r)
		}
	}()

	v, err := fn()
	if err != nil {
		return nil, scriptError(name, err)
	}
	return v, nil
}

func scriptError(name string, err error) *diag.Error {
	var (
		interrupted *goja.InterruptedError
		exception   *goja.Exception
		syntax      *goja.CompilerSyntaxError
	)
	switch {
	case errors.As(err, &interrupted):
		reason := "interrupted"
		if r, ok := interrupted.Value().(interruptReason); ok {
			reason = r.text
		}
		return diag.Newf(diag.ErrTimeout, "%s: %s", name, reason)
	case errors.As(err, &exception):
		return diag.Newf(diag.ErrJSException, "%s", exceptionText(exception))
	case errors.As(err, &syntax):
		return diag.Newf(diag.ErrJSException, "%s", syntax.Error())
	default:
		return diag.Wrap(diag.ErrJSUnknown, err).Addf("run %s", name)
	}
}

func exceptionText(ex *goja.Exception) string {
	if v := ex.Value(); v != nil && !goja.IsUndefined(v) {
		return v.String()
	}
	return ex.Error()
}

// Set binds a Go value to a global name.
func (c *Context) Set(name string, value any) *diag.Error {
	if err := c.vm.Set(name, value); err != nil {
		return diag.Wrap(diag.ErrInvalidArgument, err).Addf("bind global '%s'", name)
	}
	return nil
}

// Get returns a global, or undefined.
func (c *Context) Get(name string) goja.Value {
	v := c.vm.Get(name)
	if v == nil {
		return goja.Undefined()
	}
	return v
}

// Export converts a script value to its Go representation. undefined and
// null become nil.
func Export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// Stringify runs JSON.stringify on v. ok is false when the value has no JSON
// form (undefined, functions).
func (c *Context) Stringify(v goja.Value) (s string, ok bool, derr *diag.Error) {
	defer func() {
		if r := recover(); r != nil {
			derr = diag.Newf(diag.ErrJSUnknown, "JSON.stringify panicked: %v", r)
		}
	}()
	jsonObj := c.vm.Get("JSON").ToObject(c.vm)
	stringify, _ := goja.AssertFunction(jsonObj.Get("stringify"))
	out, err := stringify(jsonObj, v)
	if err != nil {
		return "", false, scriptError("JSON.stringify", err)
	}
	if goja.IsUndefined(out) {
		return "", false, nil
	}
	return out.String(), true, nil
}

// ParseJSON runs JSON.parse on s inside this context.
func (c *Context) ParseJSON(s string) (goja.Value, *diag.Error) {
	jsonObj := c.vm.Get("JSON").ToObject(c.vm)
	parse, _ := goja.AssertFunction(jsonObj.Get("parse"))
	v, err := parse(jsonObj, c.vm.ToValue(s))
	if err != nil {
		return nil, diag.Newf(diag.ErrJSONSyntaxError, "JSON.parse: %s", scriptError("JSON.parse", err).Messages()[0].Text)
	}
	return v, nil
}
