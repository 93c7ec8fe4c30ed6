//go:build !cgo
// +build !cgo

package langtest

const runtimeAvailable = false
