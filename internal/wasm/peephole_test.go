package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ops(code []Instr) []Op {
	out := make([]Op, len(code))
	for i, in := range code {
		out[i] = in.Op
	}
	return out
}

func TestPushDropElimination(t *testing.T) {
	code := []Instr{I32Const(5), Drop(), LocalGet("$x"), Drop(), Return()}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpReturn}, ops(got))
}

func TestPureOpDropCommutes(t *testing.T) {
	// (a + b) dropped cancels both pushes
	code := []Instr{LocalGet("$a"), LocalGet("$b"), Instr{Op: OpI32Add}, Drop()}
	got := optimizeSeq(code)
	require.Empty(t, got)
}

func TestImpureOpKeepsDrop(t *testing.T) {
	// division traps on zero, so it may not be discarded
	code := []Instr{LocalGet("$a"), LocalGet("$b"), Instr{Op: OpI32DivS}, Drop()}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpLocalGet, OpLocalGet, OpI32DivS, OpDrop}, ops(got))
}

func TestSetThenGetBecomesTee(t *testing.T) {
	code := []Instr{I32Const(1), LocalSet("$x"), LocalGet("$x")}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpI32Const, OpLocalTee}, ops(got))
	require.Equal(t, "$x", got[1].Sym)
}

func TestSetThenGetOfOtherVarStays(t *testing.T) {
	code := []Instr{I32Const(1), LocalSet("$x"), LocalGet("$y")}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpI32Const, OpLocalSet, OpLocalGet}, ops(got))
}

func TestTeeThenDropBecomesSet(t *testing.T) {
	code := []Instr{I32Const(1), LocalTee("$x"), Drop()}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpI32Const, OpLocalSet}, ops(got))
}

func TestDeadCodeAfterReturn(t *testing.T) {
	code := []Instr{Return(), I32Const(1), Drop()}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpReturn}, ops(got))
}

func TestDeadCodeAfterBrStopsAtBlockBoundary(t *testing.T) {
	inner := []Instr{Br("$l"), I32Const(1), Drop()}
	code := []Instr{Block("$l", nil, inner), I32Const(7)}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpBlock, OpI32Const}, ops(got))
	require.Equal(t, []Op{OpBr}, ops(got[0].Body))
}

func TestConstantConditionSelectsBranch(t *testing.T) {
	then := []Instr{I32Const(1)}
	els := []Instr{I32Const(2)}

	code := []Instr{I32Const(0), IfElse([]ValType{I32}, then, els)}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpI32Const}, ops(got))
	require.Equal(t, int64(2), got[0].Int)

	code = []Instr{I32Const(7), IfElse([]ValType{I32}, then, els)}
	got = optimizeSeq(code)
	require.Equal(t, int64(1), got[0].Int)
}

func TestConstantBrIf(t *testing.T) {
	code := []Instr{I32Const(1), BrIf("$out"), I32Const(0), BrIf("$out")}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpBr}, ops(got))
	require.Equal(t, "$out", got[0].Sym)
}

func TestEmptyIfBecomesDrop(t *testing.T) {
	code := []Instr{LocalGet("$c"), IfElse(nil, nil, nil)}
	got := optimizeSeq(code)
	// the drop then cancels against the pure condition push
	require.Empty(t, got)
}

func TestRewriteRecursesIntoBodies(t *testing.T) {
	loop := Loop("$l", nil, []Instr{I32Const(3), Drop(), Br("$l")})
	code := []Instr{Block("$b", nil, []Instr{loop})}
	got := optimizeSeq(code)
	require.Equal(t, []Op{OpBr}, ops(got[0].Body[0].Body))
}
