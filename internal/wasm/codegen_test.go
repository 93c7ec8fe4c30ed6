package wasm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"hyggec/internal/ast"
	"hyggec/internal/checker"
	"hyggec/internal/parser"
	"hyggec/internal/types"
	"hyggec/internal/wasm"
)

func lower(t *testing.T, src string, cfg wasm.Config) *wasm.Module {
	t.Helper()
	prog, err := parser.New("test.hyg", src).ParseProgram()
	require.NoError(t, err)
	require.NoError(t, checker.New("test.hyg").Check(prog))
	mod, err := wasm.Codegen(prog, cfg)
	require.NoError(t, err)
	return mod
}

func hasImport(m *wasm.Module, name string) bool {
	return m.HasImport("env", name)
}

func findFunc(t *testing.T, m *wasm.Module, label string) *wasm.Function {
	t.Helper()
	f, ok := m.FunctionByLabel(label)
	require.True(t, ok, "function %s missing", label)
	return f
}

func TestCodegenAlwaysExportsTheContract(t *testing.T) {
	m := lower(t, "assert(1 = 1)", wasm.Config{})

	names := map[string]wasm.ExternKind{}
	for _, e := range m.Exports {
		names[e.Name] = e.Kind
	}
	require.Equal(t, wasm.ExternFunc, names["_start"])
	require.Equal(t, wasm.ExternMemory, names["memory"])
	require.Equal(t, wasm.ExternGlobal, names["heap_base_ptr"])

	start := findFunc(t, m, "$_start")
	require.Equal(t, []wasm.ValType{wasm.I32}, start.Type.Results)
	require.NotNil(t, m.Memory)
	require.GreaterOrEqual(t, m.Memory.Min, 1)
}

func TestCodegenImportsOnlyWhatIsUsed(t *testing.T) {
	m := lower(t, "assert(1 = 1)", wasm.Config{})
	require.Empty(t, m.Imports)

	m = lower(t, "print(3)", wasm.Config{})
	require.True(t, hasImport(m, "writeInt"))
	require.False(t, hasImport(m, "writeS"))
	require.False(t, hasImport(m, "readInt"))

	m = lower(t, `println("hi")`, wasm.Config{})
	require.True(t, hasImport(m, "writeS"))
	require.False(t, hasImport(m, "writeInt"))

	m = lower(t, "print(readFloat())", wasm.Config{})
	require.True(t, hasImport(m, "readFloat"))
	require.True(t, hasImport(m, "writeFloat"))
}

func TestCodegenAllocationStrategies(t *testing.T) {
	src := "let p = struct { x = 1 }; assert(p.x = 1)"

	ext := lower(t, src, wasm.Config{Alloc: wasm.AllocExternal})
	require.True(t, hasImport(ext, "malloc"))
	_, defined := ext.FunctionByLabel("$malloc")
	require.False(t, defined)

	in := lower(t, src, wasm.Config{Alloc: wasm.AllocInternal})
	require.False(t, hasImport(in, "malloc"))
	findFunc(t, in, "$malloc")
	require.True(t, in.HasGlobal("$heap_ptr"))
}

func TestCodegenStringLayout(t *testing.T) {
	m := lower(t, `println("abc"); println("abc"); println("xy")`, wasm.Config{})

	// two distinct literals: payload + header segments each
	require.Len(t, m.Data, 4)
	require.Equal(t, []byte("abc"), m.Data[0].Bytes)
	// the header carries (pointer, byte length) as little-endian words
	require.Equal(t, []byte{0, 0, 0, 0, 3, 0, 0, 0}, m.Data[1].Bytes)
	require.Equal(t, []byte("xy"), m.Data[2].Bytes)
	require.Equal(t, []byte{12, 0, 0, 0, 2, 0, 0, 0}, m.Data[3].Bytes)
}

func TestCodegenClosuresGoThroughTheTable(t *testing.T) {
	src := `
let makeAdder = fun(n: int) -> fun(m: int) -> n + m;
let add3 = makeAdder(3);
assert(add3(4) = 7)
`
	m := lower(t, src, wasm.Config{})
	require.NotEmpty(t, m.Table.Elems)

	// the indirect-call signature (cenv, arg) -> ret is in the type table
	var found bool
	for _, ft := range m.Types {
		if len(ft.Params) == 2 && ft.Params[0] == wasm.I32 && len(ft.Results) == 1 {
			found = true
		}
	}
	require.True(t, found, "mangled closure signature missing")

	// element segment indices are dense and start at zero
	for i, e := range m.Table.Elems {
		require.Equal(t, i, e.Index)
		_, ok := m.FunctionByLabel(e.Label)
		require.True(t, ok, "table entry %s has no function", e.Label)
	}
}

func TestCodegenHoistsNamedFunctions(t *testing.T) {
	src := `
let rec f(n: int): int = if n < 2 then n else f(n - 1) + f(n - 2);
assert(f(10) = 55)
`
	m := lower(t, src, wasm.Config{})
	// the recursive function is a named top-level function, not a
	// table dispatch
	require.Empty(t, m.Table.Elems)
	require.Len(t, m.Funcs, 2) // f and _start
}

func TestCodegenRejectsPointers(t *testing.T) {
	// the front end cannot produce a pointer node, so graft one the
	// way a buggy collaborator would
	p := &ast.Pointer{}
	p.SetType(types.Bottom())
	_, err := wasm.Codegen(p, wasm.Config{})
	require.ErrorIs(t, err, wasm.ErrInvalidAST)
}

func TestCodegenRejectsUntypedNodes(t *testing.T) {
	_, err := wasm.Codegen(&ast.IntLit{Value: 1}, wasm.Config{})
	require.Error(t, err)
}

func TestCodegenDeterminism(t *testing.T) {
	src := `
let mutable x: int = 0;
while x < 3 do x := x + 1;
println("done");
assert(x = 3)
`
	a := wasm.Serialize(lower(t, src, wasm.Config{}), wasm.StyleLinear)
	b := wasm.Serialize(lower(t, src, wasm.Config{}), wasm.StyleLinear)
	require.Equal(t, a, b)
}

func TestCodegenStartEndsWithSuccess(t *testing.T) {
	m := lower(t, "print(1)", wasm.Config{})
	start := findFunc(t, m, "$_start")
	n := len(start.Body)
	require.GreaterOrEqual(t, n, 2)
	require.Equal(t, wasm.OpReturn, start.Body[n-1].Op)
	require.Equal(t, wasm.OpI32Const, start.Body[n-2].Op)
	require.Equal(t, int64(0), start.Body[n-2].Int)
}

func TestCodegenTopLevelMutableBecomesGlobal(t *testing.T) {
	m := lower(t, "let mutable x: int = 1; x := 2; assert(x = 2)", wasm.Config{})
	var mutGlobals int
	for _, g := range m.Globals {
		if g.Mutable && strings.HasPrefix(g.Name, "$g_x") {
			mutGlobals++
		}
	}
	require.Equal(t, 1, mutGlobals)
}

func TestCodegenPeepholePreservesStructure(t *testing.T) {
	src := "let mutable x: int = 0; x := x + 1; assert(x = 1)"
	m := lower(t, src, wasm.Config{})
	before := wasm.Serialize(m, wasm.StyleLinear)
	wasm.Optimize(m)
	after := wasm.Serialize(m, wasm.StyleLinear)
	require.NotEqual(t, before, after)
	require.Contains(t, after, "(export \"_start\" (func $_start))")
}
