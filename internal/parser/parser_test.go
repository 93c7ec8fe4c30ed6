package parser_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hyggec/internal/ast"
	"hyggec/internal/parser"
)

func parse(t *testing.T, src string) ast.Expr {
	t.Helper()
	prog, err := parser.New("test.hyg", src).ParseProgram()
	require.NoError(t, err)
	return prog
}

func TestPrecedence(t *testing.T) {
	prog := parse(t, "1 + 2 * 3")
	add, ok := prog.(*ast.BinOp)
	require.True(t, ok)
	require.Equal(t, "+", add.Op)
	mul, ok := add.Right.(*ast.BinOp)
	require.True(t, ok)
	require.Equal(t, "*", mul.Op)
}

func TestComparisonBindsLooserThanArithmetic(t *testing.T) {
	prog := parse(t, "1 + 2 = 3")
	eq, ok := prog.(*ast.BinOp)
	require.True(t, ok)
	require.Equal(t, "=", eq.Op)
	_, ok = eq.Left.(*ast.BinOp)
	require.True(t, ok)
}

func TestShortCircuitNodes(t *testing.T) {
	prog := parse(t, "true && false || true")
	or, ok := prog.(*ast.ShortCircuit)
	require.True(t, ok)
	require.Equal(t, "||", or.Op)
	and, ok := or.Left.(*ast.ShortCircuit)
	require.True(t, ok)
	require.Equal(t, "&&", and.Op)
}

func TestLetSwallowsTheRestOfTheSequence(t *testing.T) {
	prog := parse(t, "let x = 1; print(x); print(x + 1)")
	let, ok := prog.(*ast.Let)
	require.True(t, ok)
	require.Equal(t, "x", let.Name)
	seq, ok := let.Body.(*ast.Seq)
	require.True(t, ok)
	require.Len(t, seq.Items, 2)
}

func TestLetWithoutScopeGetsUnitBody(t *testing.T) {
	let, ok := parse(t, "let x = 1").(*ast.Let)
	require.True(t, ok)
	_, ok = let.Body.(*ast.UnitLit)
	require.True(t, ok)
}

func TestLetRecSugar(t *testing.T) {
	prog := parse(t, "let rec f(n: int): int = n; f(1)")
	let, ok := prog.(*ast.Let)
	require.True(t, ok)
	require.True(t, let.Rec)
	lam, ok := let.Init.(*ast.Lambda)
	require.True(t, ok)
	require.Len(t, lam.Params, 1)
	require.NotNil(t, lam.RetAnn)
}

func TestWhileBodyIsOneStatement(t *testing.T) {
	prog := parse(t, "let mutable x: int = 0; while x < 3 do x := x + 1; assert(x = 3)")
	let := prog.(*ast.Let)
	seq, ok := let.Body.(*ast.Seq)
	require.True(t, ok)
	require.Len(t, seq.Items, 2)
	_, ok = seq.Items[0].(*ast.While)
	require.True(t, ok)
	_, ok = seq.Items[1].(*ast.Assertion)
	require.True(t, ok)
}

func TestBuiltinsBecomeDedicatedNodes(t *testing.T) {
	prog := parse(t, "print(1); println(2); assert(true); readInt(); readFloat(); sqrt(1.0); min(1, 2); max(1, 2)")
	seq, ok := prog.(*ast.Seq)
	require.True(t, ok)
	require.IsType(t, &ast.Print{}, seq.Items[0])
	require.IsType(t, &ast.Print{}, seq.Items[1])
	require.IsType(t, &ast.Assertion{}, seq.Items[2])
	require.IsType(t, &ast.ReadInt{}, seq.Items[3])
	require.IsType(t, &ast.ReadFloat{}, seq.Items[4])
	require.IsType(t, &ast.MathCall{}, seq.Items[5])
	require.IsType(t, &ast.MathCall{}, seq.Items[6])
	require.IsType(t, &ast.MathCall{}, seq.Items[7])
}

func TestArrayBuiltins(t *testing.T) {
	prog := parse(t, "let a = array(3, 0); arrayLength(a); arraySlice(a, 0, 2); a[1]")
	let := prog.(*ast.Let)
	require.IsType(t, &ast.ArrayCons{}, let.Init)
	seq := let.Body.(*ast.Seq)
	require.IsType(t, &ast.ArrayLen{}, seq.Items[0])
	require.IsType(t, &ast.ArraySlice{}, seq.Items[1])
	require.IsType(t, &ast.ArrayElem{}, seq.Items[2])
}

func TestAssignmentTargets(t *testing.T) {
	prog := parse(t, "let mutable x: int = 0; x := 1; x += 2; x++; ++x")
	let := prog.(*ast.Let)
	seq := let.Body.(*ast.Seq)
	require.IsType(t, &ast.Assign{}, seq.Items[0])
	require.IsType(t, &ast.CompoundAssign{}, seq.Items[1])
	post := seq.Items[2].(*ast.IncDec)
	require.False(t, post.Pre)
	pre := seq.Items[3].(*ast.IncDec)
	require.True(t, pre.Pre)
}

func TestStructAndMatch(t *testing.T) {
	prog := parse(t, "struct { x = 1; y = 2 }")
	lit, ok := prog.(*ast.StructLit)
	require.True(t, ok)
	require.Len(t, lit.Fields, 2)

	prog = parse(t, "match v with { A{x} -> x; B{y} -> y }")
	m, ok := prog.(*ast.Match)
	require.True(t, ok)
	require.Len(t, m.Cases, 2)
	require.Equal(t, "A", m.Cases[0].Label)
	require.Equal(t, "x", m.Cases[0].Var)
}

func TestUnionConstruction(t *testing.T) {
	prog := parse(t, "Ok{42}")
	u, ok := prog.(*ast.UnionCons)
	require.True(t, ok)
	require.Equal(t, "Ok", u.Label)
}

func TestAscription(t *testing.T) {
	prog := parse(t, "(1 : int)")
	asc, ok := prog.(*ast.Ascription)
	require.True(t, ok)
	require.IsType(t, &ast.IntLit{}, asc.Expr)
}

func TestTypeExpressions(t *testing.T) {
	prog := parse(t, "type T = struct { a: int; b: array { float } }; type F = (int, bool) -> unit; assert(true)")
	alias, ok := prog.(*ast.TypeAlias)
	require.True(t, ok)
	st, ok := alias.Ann.(*ast.StructType)
	require.True(t, ok)
	require.Len(t, st.Fields, 2)
	require.IsType(t, &ast.ArrayType{}, st.Fields[1].Type)

	inner, ok := alias.Body.(*ast.TypeAlias)
	require.True(t, ok)
	fn, ok := inner.Ann.(*ast.FunType)
	require.True(t, ok)
	require.Len(t, fn.Params, 2)
}

func TestDoWhileAndFor(t *testing.T) {
	prog := parse(t, "let mutable i: int = 0; do i := i + 1 while i < 3; for (i := 0; i < 5; i++) print(i)")
	let := prog.(*ast.Let)
	seq := let.Body.(*ast.Seq)
	require.IsType(t, &ast.DoWhile{}, seq.Items[0])
	require.IsType(t, &ast.For{}, seq.Items[1])
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"let = 3",
		"if true then 1",
		"1 +",
		"struct { x 1 }",
		"fun(x int) -> x",
		"3 := 4",
	} {
		_, err := parser.New("test.hyg", src).ParseProgram()
		require.Error(t, err, "source %q", src)
	}
}

func TestDumpIsStable(t *testing.T) {
	prog := parse(t, "let x = 1; print(x)")
	a := ast.Dump(prog)
	b := ast.Dump(parse(t, "let x = 1; print(x)"))
	require.Equal(t, a, b)
	require.Contains(t, a, "(let x")
	require.Contains(t, a, "(print")
}
