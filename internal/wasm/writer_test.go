package wasm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleModule(t *testing.T) *Module {
	t.Helper()
	m := NewModule()
	sig := m.EnsureFuncType([]ValType{I32}, []ValType{I32})
	require.NoError(t, m.AddImportFunc("env", "malloc", "$malloc", []ValType{I32}, []ValType{I32}))
	m.EnsureMemory(1, 0)
	require.NoError(t, m.AddGlobal(Global{Name: "$heap_base", Type: I32, Init: I32Const(16), Comment: "high-water mark"}))
	m.AddTableEntry("$id")

	id := &Function{
		Label:  "$id",
		Type:   FuncType{Params: []ValType{I32}, Results: []ValType{I32}},
		Params: []Local{{Name: "$x", Type: I32}},
		Body:   []Instr{LocalGet("$x").With("the argument")},
	}
	require.NoError(t, m.AddFunction(id))

	start := &Function{
		Label: "$_start",
		Type:  FuncType{Results: []ValType{I32}},
	}
	start.AddLocal("$n", I32)
	start.Body = []Instr{
		I32Const(2),
		I32Const(3),
		Instr{Op: OpI32Add},
		LocalSet("$n"),
		Block("$exit", nil, []Instr{
			Loop("$begin", nil, []Instr{
				LocalGet("$n"),
				Instr{Op: OpI32Eqz},
				BrIf("$exit"),
				LocalGet("$n"),
				I32Const(1),
				Instr{Op: OpI32Sub},
				LocalSet("$n"),
				Br("$begin"),
			}),
		}),
		I32Const(0),
		LocalGet("$n"),
		I32Const(0),
		CallIndirect(sig),
		Drop(),
		I32Const(0).With("success"),
		Return(),
	}
	require.NoError(t, m.AddFunction(start))
	m.AddData(0, []byte("hi\n"), "greeting")
	require.NoError(t, m.AddExport("_start", ExternFunc, "$_start"))
	require.NoError(t, m.AddExport("memory", ExternMemory, ""))
	require.NoError(t, m.AddExport("heap_base_ptr", ExternGlobal, "$heap_base"))
	return m
}

func TestSerializeLinear(t *testing.T) {
	wat := Serialize(sampleModule(t), StyleLinear)

	for _, want := range []string{
		"(module",
		"(type $fun_i32__i32 (func (param i32) (result i32)))",
		`(import "env" "malloc" (func $malloc (param i32) (result i32)))`,
		"(memory $memory 1)",
		"(global $heap_base i32 (i32.const 16)) ;; high-water mark",
		"(table $table 1 funcref)",
		"(elem (i32.const 0) $id)",
		"(func $id (param $x i32) (result i32)",
		"local.get $x ;; the argument",
		"block $exit",
		"loop $begin",
		"br_if $exit",
		"end",
		"call_indirect (type $fun_i32__i32)",
		"i32.const 0 ;; success",
		`(data (i32.const 0) "hi\0a") ;; greeting`,
		`(export "_start" (func $_start))`,
		`(export "memory" (memory $memory))`,
		`(export "heap_base_ptr" (global $heap_base))`,
	} {
		require.Contains(t, wat, want)
	}
}

func TestSerializeSectionOrder(t *testing.T) {
	wat := Serialize(sampleModule(t), StyleLinear)
	order := []string{"\n  (type ", "\n  (import ", "\n  (memory ", "\n  (global ", "\n  (table ", "\n  (elem ", "\n  (func ", "\n  (data ", "\n  (export "}
	last := -1
	for _, marker := range order {
		at := strings.Index(wat, marker)
		require.GreaterOrEqual(t, at, 0, "missing %q", marker)
		require.Greater(t, at, last, "%q out of order", marker)
		last = at
	}
}

func TestSerializeFoldedNestsOperands(t *testing.T) {
	wat := Serialize(sampleModule(t), StyleFolded)

	require.Contains(t, wat, "(i32.add")
	require.Contains(t, wat, "(i32.const 2)")
	require.Contains(t, wat, "(br_if $exit")
	require.Contains(t, wat, "(loop $begin")
	// the add folds its two constant pushes as children
	addAt := strings.Index(wat, "(i32.add")
	require.Greater(t, strings.Index(wat[addAt:], "(i32.const 2)"), 0)
}

func TestSerializeIsDeterministic(t *testing.T) {
	a := Serialize(sampleModule(t), StyleLinear)
	b := Serialize(sampleModule(t), StyleLinear)
	require.Equal(t, a, b)

	fa := Serialize(sampleModule(t), StyleFolded)
	fb := Serialize(sampleModule(t), StyleFolded)
	require.Equal(t, fa, fb)
}

func TestFormatF32AlwaysReadsAsFloat(t *testing.T) {
	require.Equal(t, "1.5", formatF32(1.5))
	require.Equal(t, "2.0", formatF32(2))
	require.Equal(t, "-3.0", formatF32(-3))
}
