// Package compiler wires the pipeline: source text through the lexer,
// parser and checker into the Wasm back end, the peephole pass and the
// WAT serializer.
package compiler

import (
	"time"

	"github.com/sirupsen/logrus"

	"hyggec/internal/checker"
	"hyggec/internal/parser"
	"hyggec/internal/wasm"
)

type Options struct {
	Style    wasm.Style
	Peephole bool
	Alloc    wasm.AllocStrategy
	SI       string
}

func DefaultOptions() Options {
	return Options{
		Style:    wasm.StyleLinear,
		Peephole: true,
		Alloc:    wasm.AllocExternal,
		SI:       wasm.SIHygge,
	}
}

type Result struct {
	Module *wasm.Module
	WAT    string
	Wasm   []byte
}

// Compile runs the full pipeline over one source file. The returned
// result always carries the WAT text; the binary is only filled in by
// CompileToWasm.
func Compile(path, src string, opts Options) (*Result, error) {
	started := time.Now()

	prog, err := parser.New(path, src).ParseProgram()
	if err != nil {
		return nil, err
	}
	if err := checker.New(path).Check(prog); err != nil {
		return nil, err
	}
	mod, err := wasm.Codegen(prog, wasm.Config{Alloc: opts.Alloc, SI: opts.SI})
	if err != nil {
		return nil, err
	}
	if opts.Peephole {
		wasm.Optimize(mod)
	}
	wat := wasm.Serialize(mod, opts.Style)

	logrus.WithFields(logrus.Fields{
		"path":      path,
		"style":     opts.Style.String(),
		"peephole":  opts.Peephole,
		"allocator": opts.Alloc.String(),
		"functions": len(mod.Funcs),
		"data":      len(mod.Data),
		"elapsed":   time.Since(started),
	}).Debug("compiled module")

	return &Result{Module: mod, WAT: wat}, nil
}

// CompileToWasm compiles and assembles the module. Assembly needs the
// wasmtime toolchain, so this only works in cgo builds.
func CompileToWasm(path, src string, opts Options) (*Result, error) {
	res, err := Compile(path, src, opts)
	if err != nil {
		return nil, err
	}
	bin, err := WatToWasm(res.WAT)
	if err != nil {
		return nil, err
	}
	res.Wasm = bin
	return res, nil
}
