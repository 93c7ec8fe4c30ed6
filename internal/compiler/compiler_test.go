package compiler_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"hyggec/internal/compiler"
	"hyggec/internal/wasm"
)

const sample = `
let mutable x: int = 0;
while x < 10 do x := x + 1;
println("done");
assert(x = 10)
`

func TestCompileProducesWAT(t *testing.T) {
	res, err := compiler.Compile("sample.hyg", sample, compiler.DefaultOptions())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.WAT, "(module"))
	require.Contains(t, res.WAT, `(export "_start" (func $_start))`)
	require.Contains(t, res.WAT, `(export "memory" (memory $memory))`)
	require.Contains(t, res.WAT, `(export "heap_base_ptr" (global $heap_base))`)
	require.Contains(t, res.WAT, `(import "env" "writeS"`)
	require.Nil(t, res.Wasm)
}

func TestCompileStyles(t *testing.T) {
	opts := compiler.DefaultOptions()
	opts.Style = wasm.StyleLinear
	linear, err := compiler.Compile("sample.hyg", sample, opts)
	require.NoError(t, err)

	opts.Style = wasm.StyleFolded
	folded, err := compiler.Compile("sample.hyg", sample, opts)
	require.NoError(t, err)

	require.NotEqual(t, linear.WAT, folded.WAT)
	require.Contains(t, linear.WAT, "\n    block ")
	require.Contains(t, folded.WAT, "(block ")
}

func TestCompileIsDeterministic(t *testing.T) {
	a, err := compiler.Compile("sample.hyg", sample, compiler.DefaultOptions())
	require.NoError(t, err)
	b, err := compiler.Compile("sample.hyg", sample, compiler.DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, a.WAT, b.WAT)
}

func TestCompileReportsFrontEndErrors(t *testing.T) {
	_, err := compiler.Compile("bad.hyg", "let x = ", compiler.DefaultOptions())
	require.Error(t, err)

	_, err = compiler.Compile("bad.hyg", "1 + true", compiler.DefaultOptions())
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad.hyg:1:")
}

func TestPeepholeShrinksTheModule(t *testing.T) {
	opts := compiler.DefaultOptions()
	opts.Peephole = false
	raw, err := compiler.Compile("sample.hyg", sample, opts)
	require.NoError(t, err)

	opts.Peephole = true
	peep, err := compiler.Compile("sample.hyg", sample, opts)
	require.NoError(t, err)

	require.Less(t, len(peep.WAT), len(raw.WAT))
}

func TestWatValidatesUnderWasmtime(t *testing.T) {
	if !runtimeAvailable {
		t.Skip("wasmtime-go requires cgo")
	}
	sources := []string{
		sample,
		"assert(1 = 2)",
		`let a = array(3, 0); a[0] := 1; assert(a[0] = 1)`,
		`let makeAdder = fun(n: int) -> fun(m: int) -> n + m; assert(makeAdder(1)(2) = 3)`,
		`type R = union { Ok: int; Err: string }; match (Ok{1} : R) with { Ok{v} -> print(v); Err{e} -> println(e) }`,
	}
	for _, src := range sources {
		for _, style := range []wasm.Style{wasm.StyleLinear, wasm.StyleFolded} {
			for _, peep := range []bool{true, false} {
				opts := compiler.Options{Style: style, Peephole: peep, Alloc: wasm.AllocExternal, SI: wasm.SIHygge}
				res, err := compiler.Compile("v.hyg", src, opts)
				require.NoError(t, err)
				_, err = compiler.WatToWasm(res.WAT)
				require.NoError(t, err, "style %v peep %v source %q\n%s", style, peep, src, res.WAT)
			}
		}
	}
}
