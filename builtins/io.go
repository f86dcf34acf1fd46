package builtins

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/Clinery1/simle-lisp/gc"
	"github.com/Clinery1/simle-lisp/ident"
)

// ioEntries ports builtins/io.rs's open/readLine/read/write, operating
// against the native handle objects below instead of Rc<RefCell<...>>.
func ioEntries() []entry {
	return []entry{
		{"open", openFn, gc.ExactArity(1)},
		{"readLine", readLineFn, gc.ExactArity(1)},
		{"read", readFn, gc.ExactArity(1)},
		{"write", writeFn, gc.ExactArity(2)},
	}
}

type handleKind uint8

const (
	fileHandle handleKind = iota
	stdinHandle
	stdoutHandle
)

// handle is the native Object wrapping an open file, stdin, or stdout
// (§4.6 "native resources"); the only visible operations on it are via
// the read/write builtins above, never direct field access.
type handle struct {
	kind   handleKind
	file   *os.File
	reader *bufio.Reader
}

func newStdHandle(kind handleKind) *handle {
	h := &handle{kind: kind}
	if kind == stdinHandle {
		h.reader = bufio.NewReader(os.Stdin)
	}
	return h
}

func newFileHandle(f *os.File) *handle {
	return &handle{kind: fileHandle, file: f, reader: bufio.NewReader(f)}
}

func (h *handle) Call(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	return gc.Primitive{}, fmt.Errorf("io handle is not callable")
}

func (h *handle) CallMethod(name ident.Ident, args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	return gc.Primitive{}, gc.ErrNoSuchMethod
}

func (h *handle) GetField(name ident.Ident, p *gc.Params) (gc.Primitive, error) {
	return gc.Primitive{}, fmt.Errorf("io handle has no fields")
}

func (h *handle) SetField(name ident.Ident, value gc.Primitive, p *gc.Params) error {
	return fmt.Errorf("io handle has no fields")
}

func (h *handle) Trace(visit func(gc.DataRef)) {}

func (h *handle) Finalize() {
	if h.kind == fileHandle && h.file != nil {
		h.file.Close()
	}
}

func openFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	v := args[0]
	if v.Kind != gc.KString {
		return gc.Primitive{}, fmt.Errorf("open can only take Strings")
	}
	f, err := os.Open(v.StringVal())
	if err != nil {
		return gc.Primitive{}, fmt.Errorf("io error: %w", err)
	}
	return gc.Ref(p.GC.Alloc(gc.ObjectData(newFileHandle(f)))), nil
}

func asHandle(v gc.Primitive) (*handle, bool) {
	v = v.Deref()
	if v.Kind != gc.KRef {
		return nil, false
	}
	h, ok := v.RefVal().Data().Obj.(*handle)
	return h, ok
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func readLineFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	h, ok := asHandle(args[0])
	if !ok || h.kind == stdoutHandle {
		return gc.Primitive{}, fmt.Errorf("invalid type for `readLine`")
	}
	line, err := h.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return gc.Primitive{}, fmt.Errorf("io error: %w", err)
	}
	return gc.Str(trimNewline(line)), nil
}

func readFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	h, ok := asHandle(args[0])
	if !ok || h.kind == stdoutHandle {
		return gc.Primitive{}, fmt.Errorf("invalid type for `read`")
	}
	data, err := io.ReadAll(h.reader)
	if err != nil {
		return gc.Primitive{}, fmt.Errorf("io error: %w", err)
	}
	return gc.Str(string(data)), nil
}

func writeFn(args []gc.Primitive, p *gc.Params) (gc.Primitive, error) {
	h, ok := asHandle(args[0])
	if !ok {
		return gc.Primitive{}, fmt.Errorf("invalid type for `write`")
	}
	str := args[1]
	if str.Kind != gc.KString {
		return gc.Primitive{}, fmt.Errorf("expected string")
	}

	var w io.Writer
	switch h.kind {
	case fileHandle:
		w = h.file
	case stdoutHandle:
		w = p.Out
	default:
		return gc.Primitive{}, fmt.Errorf("cannot write to stdin")
	}

	n, err := io.WriteString(w, str.StringVal())
	if err != nil {
		return gc.Primitive{}, fmt.Errorf("io error: %w", err)
	}
	return gc.Int(int64(n)), nil
}
