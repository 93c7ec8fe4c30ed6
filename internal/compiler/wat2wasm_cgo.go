//go:build cgo
// +build cgo

package compiler

import "github.com/bytecodealliance/wasmtime-go"

// WatToWasm assembles WAT text into a binary Wasm module.
func WatToWasm(wat string) ([]byte, error) {
	return wasmtime.Wat2Wasm(wat)
}
