package diag

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

// Message is one entry of a diagnostic trail.
type Message struct {
	Text string `json:"text" msgpack:"text"`
	File string `json:"file" msgpack:"file"`
	Line int    `json:"line" msgpack:"line"`
}

func (m Message) String() string {
	return fmt.Sprintf("%s (%s:%d)", m.Text, m.File, m.Line)
}

// trail is the accumulated message sequence. It is shared by every copy of
// an Error until one of them fixes it.
type trail struct {
	msgs []Message
	// descPos is the position of the description entry within the
	// virtual trail.
	descPos int
}

// Error is a diagnostic: a code, the place where it was created and a trail
// of context messages added while it propagated.
//
// The trail is virtual. Besides the added messages it holds one description
// entry (the code description at the origin file/line), so MessageCount is
// always len(messages)+1. Messages inserted at or before the description
// entry shift it.
//
// A nil *Error is Ok. All methods accept a nil receiver.
type Error struct {
	code  Code
	file  string
	line  int
	cause error

	t     *trail
	fixed int
}

// Create constructs a diagnostic at an explicit location.
func Create(code Code, file string, line int) *Error {
	return &Error{code: code, file: trimPath(file), line: line, t: &trail{}}
}

// New constructs a diagnostic at the caller's location.
func New(code Code) *Error {
	file, line := caller(2)
	return Create(code, file, line)
}

// Newf constructs a diagnostic and places a summary message before its
// description entry.
func Newf(code Code, format string, args ...any) *Error {
	file, line := caller(2)
	e := Create(code, file, line)
	return e.AddMessage(fmt.Sprintf(format, args...), file, line, 1)
}

// Wrap constructs a diagnostic at the caller's location carrying a Go
// error as its cause. The cause text becomes the first message.
func Wrap(code Code, cause error) *Error {
	file, line := caller(2)
	e := Create(code, file, line)
	e.cause = cause
	if cause != nil {
		e.AddMessage(cause.Error(), file, line, 0)
	}
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return Ok
	}
	return e.code
}

func (e *Error) File() string {
	if e == nil {
		return ""
	}
	return e.file
}

func (e *Error) Line() int {
	if e == nil {
		return 0
	}
	return e.line
}

func (e *Error) Name() string        { return e.Code().Name() }
func (e *Error) Description() string { return e.Code().Description() }
func (e *Error) Failed() bool        { return e.Code().Failed() }
func (e *Error) Succeeded() bool     { return e.Code().Succeeded() }

// FixedCount returns the number of leading trail entries that are frozen.
func (e *Error) FixedCount() int {
	if e == nil {
		return 0
	}
	return e.fixed
}

// MessageCount returns the length of the virtual trail, description entry
// included.
func (e *Error) MessageCount() int {
	if e == nil {
		return 0
	}
	return len(e.t.msgs) + 1
}

// Message returns the i-th virtual trail entry. Out of range indexes return
// the description entry.
func (e *Error) Message(i int) Message {
	if e == nil {
		return Message{Text: Ok.Description()}
	}
	pos := e.descPos()
	if i == pos || i < 0 || i > len(e.t.msgs) {
		return Message{Text: e.Description(), File: e.file, Line: e.line}
	}
	if i < pos {
		return e.t.msgs[i]
	}
	return e.t.msgs[i-1]
}

// Messages returns a copy of the virtual trail.
func (e *Error) Messages() []Message {
	if e == nil {
		return nil
	}
	out := make([]Message, e.MessageCount())
	for i := range out {
		out[i] = e.Message(i)
	}
	return out
}

func (e *Error) descPos() int {
	if e.t.descPos > len(e.t.msgs) {
		e.t.descPos = len(e.t.msgs)
	}
	return e.t.descPos
}

// AddMessage inserts msg into the trail before the last backOffset unfixed
// entries. An offset larger than the unfixed region is a no-op, so fixed
// entries never move.
func (e *Error) AddMessage(msg, file string, line int, backOffset int) *Error {
	if e == nil || backOffset < 0 {
		return e
	}
	count := e.MessageCount()
	if backOffset > count-e.fixed {
		return e
	}
	pos := count - backOffset
	idx := pos - 1
	if pos <= e.descPos() {
		e.t.descPos++
		idx = pos
	}
	e.t.msgs = insert(e.t.msgs, idx, Message{Text: msg, File: trimPath(file), Line: line})
	return e
}

// Add appends msg at the caller's location.
func (e *Error) Add(msg string) *Error {
	file, line := caller(2)
	return e.AddMessage(msg, file, line, 0)
}

// Addf appends a formatted message at the caller's location.
func (e *Error) Addf(format string, args ...any) *Error {
	file, line := caller(2)
	return e.AddMessage(fmt.Sprintf(format, args...), file, line, 0)
}

// AddFailed appends the conventional "'fn' is failed" message.
func (e *Error) AddFailed(fn string) *Error {
	file, line := caller(2)
	return e.AddMessage(fmt.Sprintf("'%s' is failed", fn), file, line, 0)
}

// CopyMessages imports the virtual trail of other, preserving its order,
// before the last offset unfixed entries of e.
func (e *Error) CopyMessages(other *Error, offset int) *Error {
	if e == nil || other == nil || offset < 0 {
		return e
	}
	if offset > e.MessageCount()-e.fixed {
		return e
	}
	for _, m := range other.Messages() {
		e.AddMessage(m.Text, m.File, m.Line, offset)
	}
	return e
}

// FixCurrentMessageQueue freezes the current trail. The receiver detaches
// from copies it shared the trail with: its view is capped at the current
// length so the next append reallocates, while the fixed prefix itself is
// never copied.
func (e *Error) FixCurrentMessageQueue() *Error {
	if e == nil {
		return e
	}
	n := len(e.t.msgs)
	// Cap the shared header too: an insert from a former sharer must
	// reallocate instead of shifting entries inside the frozen prefix.
	e.t.msgs = e.t.msgs[:n:n]
	e.t = &trail{msgs: e.t.msgs, descPos: e.descPos()}
	e.fixed = e.MessageCount()
	return e
}

// Clone returns a copy sharing the trail with e, as a plain value copy does.
func (e *Error) Clone() *Error {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Copy returns an independent deep copy: nothing added to either value is
// visible in the other.
func (e *Error) Copy() *Error {
	if e == nil {
		return nil
	}
	c := *e
	c.t = &trail{msgs: slices.Clone(e.t.msgs), descPos: min(e.t.descPos, len(e.t.msgs))}
	return &c
}

// Error renders the code followed by the trail, most specific first.
func (e *Error) Error() string {
	if e == nil {
		return Ok.String()
	}
	var b strings.Builder
	b.WriteString(e.code.String())
	for _, m := range e.Messages() {
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return b.String()
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code() == t.Code()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// LogValue implements slog.LogValuer.
func (e *Error) LogValue() slog.Value {
	if e == nil {
		return slog.GroupValue(slog.String("name", Ok.Name()))
	}
	msgs := e.Messages()
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = m.String()
	}
	return slog.GroupValue(
		slog.String("name", e.Name()),
		slog.String("code", fmt.Sprintf("0x%08x", uint32(e.code))),
		slog.String("origin", fmt.Sprintf("%s:%d", e.file, e.line)),
		slog.Any("trail", lines),
	)
}

// Failed reports whether err carries a failure code.
func Failed(err *Error) bool { return err.Failed() }

// Succeeded reports whether err is nil or a warning.
func Succeeded(err *Error) bool { return err.Succeeded() }

func insert(msgs []Message, idx int, m Message) []Message {
	msgs = append(msgs, Message{})
	copy(msgs[idx+1:], msgs[idx:])
	msgs[idx] = m
	return msgs
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", 0
	}
	return file, line
}

// trimPath keeps the last two path elements, which is enough to locate a
// file inside the module without leaking build paths.
func trimPath(file string) string {
	dir, base := filepath.Split(file)
	if dir == "" {
		return base
	}
	return filepath.Join(filepath.Base(filepath.Clean(dir)), base)
}
