//go:build cgo
// +build cgo

// Package runtime executes compiled Hygge modules under wasmtime and
// provides the hygge_si host environment: malloc plus the I/O calls.
package runtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytecodealliance/wasmtime-go"
)

// Result captures one module run: the _start exit code, the text the
// program printed and the ordered host-call trace.
type Result struct {
	ExitCode int
	Output   string
	Trace    []string
}

type Runner struct {
	engine *wasmtime.Engine
}

func NewRunner() *Runner {
	return &Runner{engine: wasmtime.NewEngine()}
}

func (r *Runner) Run(wasm []byte) (*Result, error) {
	return r.RunWithInput(wasm, nil)
}

// RunWithInput executes the module; input feeds readInt/readFloat one
// token per call.
func (r *Runner) RunWithInput(wasm []byte, input []string) (*Result, error) {
	store := wasmtime.NewStore(r.engine)
	linker := wasmtime.NewLinker(r.engine)
	host := &hostState{input: input}
	if err := host.define(linker, store); err != nil {
		return nil, err
	}
	module, err := wasmtime.NewModule(r.engine, wasm)
	if err != nil {
		return nil, err
	}
	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, err
	}
	if ext := instance.GetExport(store, "heap_base_ptr"); ext != nil {
		if g := ext.Global(); g != nil {
			host.heapPtr = g.Get(store).I32()
			host.heapReady = true
		}
	}
	start := instance.GetFunc(store, "_start")
	if start == nil {
		return nil, errors.New("module does not export _start")
	}
	raw, err := start.Call(store)
	if err != nil {
		// a trapped runtime check records its sentinel before halting
		if ext := instance.GetExport(store, "exit_code"); ext != nil {
			if g := ext.Global(); g != nil {
				if code := g.Get(store).I32(); code != 0 {
					return &Result{ExitCode: int(code), Output: host.out.String(), Trace: host.trace}, nil
				}
			}
		}
		return nil, err
	}
	code, ok := raw.(int32)
	if !ok {
		return nil, fmt.Errorf("_start returned %T, want i32", raw)
	}
	return &Result{ExitCode: int(code), Output: host.out.String(), Trace: host.trace}, nil
}

type hostState struct {
	out       strings.Builder
	trace     []string
	input     []string
	heapPtr   int32
	heapReady bool
}

func (h *hostState) nextInput() string {
	if len(h.input) == 0 {
		return ""
	}
	tok := h.input[0]
	h.input = h.input[1:]
	return tok
}

func (h *hostState) define(linker *wasmtime.Linker, store *wasmtime.Store) error {
	define := func(name string, fn interface{}) error {
		return linker.DefineFunc(store, "env", name, fn)
	}
	if err := define("malloc", func(caller *wasmtime.Caller, size int32) int32 {
		return h.malloc(caller, size)
	}); err != nil {
		return err
	}
	if err := define("readInt", func() int32 {
		v, _ := strconv.ParseInt(h.nextInput(), 10, 32)
		h.trace = append(h.trace, fmt.Sprintf("readInt() = %d", v))
		return int32(v)
	}); err != nil {
		return err
	}
	if err := define("readFloat", func() float32 {
		v, _ := strconv.ParseFloat(h.nextInput(), 32)
		h.trace = append(h.trace, fmt.Sprintf("readFloat() = %g", v))
		return float32(v)
	}); err != nil {
		return err
	}
	if err := define("writeInt", func(v int32) {
		h.trace = append(h.trace, fmt.Sprintf("writeInt(%d)", v))
		fmt.Fprintf(&h.out, "%d\n", v)
	}); err != nil {
		return err
	}
	if err := define("writeFloat", func(v float32) {
		h.trace = append(h.trace, fmt.Sprintf("writeFloat(%s)", formatFloat(v)))
		fmt.Fprintf(&h.out, "%s\n", formatFloat(v))
	}); err != nil {
		return err
	}
	return define("writeS", func(caller *wasmtime.Caller, ptr, length int32) {
		s, err := readMemory(caller, ptr, length)
		if err != nil {
			panic(wasmtime.NewTrap(err.Error()))
		}
		h.trace = append(h.trace, fmt.Sprintf("writeS(%q)", s))
		h.out.WriteString(s)
		h.out.WriteString("\n")
	})
}

// malloc is the host bump allocator: it starts at the module's
// heap_base_ptr and grows the memory when the frontier passes it.
func (h *hostState) malloc(caller *wasmtime.Caller, size int32) int32 {
	if size < 0 {
		panic(wasmtime.NewTrap("malloc with negative size"))
	}
	if !h.heapReady {
		panic(wasmtime.NewTrap("heap base unknown"))
	}
	addr := h.heapPtr
	h.heapPtr += size
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		panic(wasmtime.NewTrap("memory not exported"))
	}
	memory := ext.Memory()
	for int64(h.heapPtr) > int64(len(memory.UnsafeData(caller))) {
		if _, err := memory.Grow(caller, 1); err != nil {
			panic(wasmtime.NewTrap(err.Error()))
		}
	}
	return addr
}

func readMemory(caller *wasmtime.Caller, ptr, length int32) (string, error) {
	ext := caller.GetExport("memory")
	if ext == nil {
		return "", errors.New("memory not exported")
	}
	memory := ext.Memory()
	if memory == nil {
		return "", errors.New("memory not exported")
	}
	data := memory.UnsafeData(caller)
	start := int(ptr)
	end := start + int(length)
	if start < 0 || end > len(data) {
		return "", fmt.Errorf("string (%d, %d) out of bounds", ptr, length)
	}
	return string(data[start:end]), nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}
