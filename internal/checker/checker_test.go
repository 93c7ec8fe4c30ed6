package checker_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hyggec/internal/ast"
	"hyggec/internal/checker"
	"hyggec/internal/parser"
	"hyggec/internal/types"
)

func checkSrc(t *testing.T, src string) (ast.Expr, error) {
	t.Helper()
	prog, err := parser.New("test.hyg", src).ParseProgram()
	require.NoError(t, err)
	return prog, checker.New("test.hyg").Check(prog)
}

func mustCheck(t *testing.T, src string) ast.Expr {
	t.Helper()
	prog, err := checkSrc(t, src)
	require.NoError(t, err)
	return prog
}

func mustFail(t *testing.T, src, fragment string) {
	t.Helper()
	_, err := checkSrc(t, src)
	require.Error(t, err)
	require.Contains(t, err.Error(), fragment)
}

func TestLiteralTypes(t *testing.T) {
	prog := mustCheck(t, "42")
	require.Equal(t, types.KindInt, prog.Type().Kind)

	prog = mustCheck(t, "1.5")
	require.Equal(t, types.KindFloat, prog.Type().Kind)

	prog = mustCheck(t, `"hej"`)
	require.Equal(t, types.KindString, prog.Type().Kind)

	prog = mustCheck(t, "()")
	require.Equal(t, types.KindUnit, prog.Type().Kind)
}

func TestEveryNodeGetsAnnotated(t *testing.T) {
	prog := mustCheck(t, "let x = 1; print(x + 2)")
	let := prog.(*ast.Let)
	require.NotNil(t, let.Type())
	require.NotNil(t, let.Init.Type())
	seqOrPrint := let.Body
	require.NotNil(t, seqOrPrint.Type())
}

func TestArithmeticRules(t *testing.T) {
	mustCheck(t, "1 + 2 * 3 - 4 / 5 % 6")
	mustCheck(t, "1.5 + 2.5 / 2.0")
	mustFail(t, "1 + 1.5", "matching operand types")
	mustFail(t, "1.5 % 2.0", "not defined on float")
	mustFail(t, `"a" + "b"`, "not defined on string")
}

func TestComparisonAndBooleans(t *testing.T) {
	prog := mustCheck(t, "1 < 2")
	require.Equal(t, types.KindBool, prog.Type().Kind)
	mustCheck(t, "true and false or not true xor false")
	mustCheck(t, "(1 = 2) && (3 > 2) || false")
	mustFail(t, "1 and 2", "expected bool")
	mustFail(t, "1 < true", "matching operand types")
	mustFail(t, `"a" = "a"`, "not defined on string")
}

func TestLetAndMutability(t *testing.T) {
	mustCheck(t, "let mutable x: int = 0; x := x + 1; assert(x = 1)")
	mustFail(t, "let x = 1; x := 2", "immutable")
	mustFail(t, "let x: bool = 1; assert(x)", "expected bool")
	mustFail(t, "y + 1", "undefined variable")
	mustFail(t, "let mutable s: string = \"a\"; s += \"b\"", "int or float")
}

func TestConditionalJoin(t *testing.T) {
	prog := mustCheck(t, "if true then 1 else 2")
	require.Equal(t, types.KindInt, prog.Type().Kind)
	mustFail(t, "if true then 1 else 1.5", "incompatible types")
	mustFail(t, "if 1 then 2 else 3", "expected bool")
}

func TestFunctions(t *testing.T) {
	prog := mustCheck(t, "let f = fun(x: int) -> x + 1; f(2)")
	let := prog.(*ast.Let)
	require.Equal(t, types.KindFun, let.Init.Type().Kind)
	require.Equal(t, types.KindInt, let.Body.Type().Kind)

	mustFail(t, "let f = fun(x: int) -> x; f(true)", "type mismatch")
	mustFail(t, "let f = fun(x: int) -> x; f(1, 2)", "wrong number of arguments")
	mustFail(t, "let x = 1; x(2)", "cannot call")
}

func TestLetRecNeedsAnnotation(t *testing.T) {
	mustCheck(t, "let rec f(n: int): int = if n < 1 then 0 else f(n - 1); assert(f(3) = 0)")
	mustFail(t, "let rec f = 3; f", "requires a function binding")
	mustFail(t, "let rec f = fun(n: int) -> n; f(1)", "return type annotation")
}

func TestStructs(t *testing.T) {
	prog := mustCheck(t, "let p = struct { x = 1; y = 2.5 }; p.y")
	require.Equal(t, types.KindFloat, prog.Type().Kind)
	mustFail(t, "let p = struct { x = 1 }; p.z", "no field z")
	mustFail(t, "struct { x = 1; x = 2 }", "duplicate struct field")
	mustFail(t, "let n = 3; n.x", "non-struct")
}

func TestArrays(t *testing.T) {
	prog := mustCheck(t, "let a = array(3, 1.5); a[0]")
	require.Equal(t, types.KindFloat, prog.Type().Kind)
	mustCheck(t, "let a = array(2, 0); arrayLength(a) + a[1]")
	mustCheck(t, "let a = array(4, 0); arraySlice(a, 1, 3)[0]")
	mustFail(t, "array(1.5, 0)", "expected int")
	mustFail(t, "let a = array(2, 0); a[true]", "expected int")
	mustFail(t, "let n = 1; n[0]", "non-array")
	mustFail(t, "let a = array(2, 0); a[0] := 1.5", "type mismatch")
}

func TestUnionsAndMatch(t *testing.T) {
	prog := mustCheck(t, `
type R = union { Ok: int; Err: string };
let r = (Ok{1} : R);
match r with { Ok{v} -> v; Err{e} -> 0 }
`)
	require.Equal(t, types.KindInt, prog.Type().Kind)

	mustFail(t, "type R = union { Ok: int }; match (Ok{1} : R) with { No{x} -> x }", "no label")
	mustFail(t, "match 3 with { A{x} -> x }", "non-union")
	mustFail(t, "(Err{1} : union { Ok: int })", "type mismatch")
}

func TestAssignTargets(t *testing.T) {
	mustCheck(t, "let p = struct { x = 1 }; p.x := 2")
	mustCheck(t, "let a = array(2, 0); a[0] := 3")
	mustFail(t, "let mutable x: int = 0; x := true", "type mismatch")
}

func TestLoops(t *testing.T) {
	prog := mustCheck(t, "let mutable i: int = 0; while i < 3 do i := i + 1")
	require.Equal(t, types.KindUnit, prog.Type().Kind)
	mustCheck(t, "let mutable i: int = 0; do i += 1 while i < 3")
	mustCheck(t, "let mutable i: int = 0; let mutable s: int = 0; for (i := 0; i < 4; i++) s += i")
	mustFail(t, "while 3 do ()", "expected bool")
	mustFail(t, "let x = 1; x++", "immutable")
	mustFail(t, "let mutable f: float = 0.0; f++", "needs an int")
}

func TestTypeAliases(t *testing.T) {
	mustCheck(t, "type Age = int; let a = (3 : Age); a + 1")
	mustFail(t, "let a = (3 : Nope); a", "unknown type Nope")
}

func TestPrintables(t *testing.T) {
	mustCheck(t, `print(1); print(1.5); print(true); println("s")`)
	mustFail(t, "print(struct { x = 1 })", "cannot print")
}
