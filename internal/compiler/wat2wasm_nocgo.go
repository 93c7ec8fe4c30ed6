//go:build !cgo
// +build !cgo

package compiler

import "errors"

// WatToWasm needs wasmtime-go, which requires cgo.
func WatToWasm(wat string) ([]byte, error) {
	return nil, errors.New("assembling WAT requires a cgo build (wasmtime-go)")
}
