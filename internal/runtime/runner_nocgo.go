//go:build !cgo
// +build !cgo

package runtime

import "errors"

type Result struct {
	ExitCode int
	Output   string
	Trace    []string
}

type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) Run(wasm []byte) (*Result, error) {
	return nil, errors.New("running modules requires a cgo build (wasmtime-go)")
}

func (r *Runner) RunWithInput(wasm []byte, input []string) (*Result, error) {
	return nil, errors.New("running modules requires a cgo build (wasmtime-go)")
}
