package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Dump renders an expression as a compact S-expression, one node per
// line with two-space indentation. Used by the `parse` subcommand and
// by parser tests.
func Dump(e Expr) string {
	var b strings.Builder
	dump(&b, e, 0)
	return b.String()
}

func dump(b *strings.Builder, e Expr, depth int) {
	ind := strings.Repeat("  ", depth)
	line := func(s string) {
		b.WriteString(ind)
		b.WriteString(s)
		b.WriteString("\n")
	}
	switch n := e.(type) {
	case *UnitLit:
		line("(unit)")
	case *IntLit:
		line(fmt.Sprintf("(int %d)", n.Value))
	case *FloatLit:
		line(fmt.Sprintf("(float %s)", strconv.FormatFloat(float64(n.Value), 'g', -1, 32)))
	case *BoolLit:
		line(fmt.Sprintf("(bool %t)", n.Value))
	case *StringLit:
		line(fmt.Sprintf("(string %q)", n.Value))
	case *Var:
		line("(var " + n.Name + ")")
	case *BinOp:
		line("(" + n.Op)
		dump(b, n.Left, depth+1)
		dump(b, n.Right, depth+1)
		line(")")
	case *ShortCircuit:
		line("(" + n.Op)
		dump(b, n.Left, depth+1)
		dump(b, n.Right, depth+1)
		line(")")
	case *Not:
		line("(not")
		dump(b, n.Expr, depth+1)
		line(")")
	case *Neg:
		line("(neg")
		dump(b, n.Expr, depth+1)
		line(")")
	case *MathCall:
		line("(" + n.Fn)
		for _, a := range n.Args {
			dump(b, a, depth+1)
		}
		line(")")
	case *If:
		line("(if")
		dump(b, n.Cond, depth+1)
		dump(b, n.Then, depth+1)
		dump(b, n.Else, depth+1)
		line(")")
	case *Seq:
		line("(seq")
		for _, it := range n.Items {
			dump(b, it, depth+1)
		}
		line(")")
	case *Ascription:
		line("(ascribe")
		dump(b, n.Expr, depth+1)
		line(")")
	case *Assertion:
		line("(assert")
		dump(b, n.Cond, depth+1)
		line(")")
	case *Print:
		if n.Newline {
			line("(println")
		} else {
			line("(print")
		}
		dump(b, n.Arg, depth+1)
		line(")")
	case *ReadInt:
		line("(readInt)")
	case *ReadFloat:
		line("(readFloat)")
	case *Let:
		kw := "let"
		if n.Mutable {
			kw = "let-mut"
		}
		if n.Rec {
			kw = "let-rec"
		}
		line("(" + kw + " " + n.Name)
		dump(b, n.Init, depth+1)
		dump(b, n.Body, depth+1)
		line(")")
	case *Lambda:
		names := make([]string, len(n.Params))
		for i, p := range n.Params {
			names[i] = p.Name
		}
		line("(fun (" + strings.Join(names, " ") + ")")
		dump(b, n.Body, depth+1)
		line(")")
	case *App:
		line("(app")
		dump(b, n.Fn, depth+1)
		for _, a := range n.Args {
			dump(b, a, depth+1)
		}
		line(")")
	case *StructLit:
		line("(struct")
		for _, f := range n.Fields {
			line("  " + f.Name + ":")
			dump(b, f.Value, depth+2)
		}
		line(")")
	case *FieldSel:
		line("(field " + n.Field)
		dump(b, n.Target, depth+1)
		line(")")
	case *ArrayCons:
		line("(array")
		dump(b, n.Length, depth+1)
		dump(b, n.Init, depth+1)
		line(")")
	case *ArrayLen:
		line("(arrayLength")
		dump(b, n.Target, depth+1)
		line(")")
	case *ArrayElem:
		line("(elem")
		dump(b, n.Target, depth+1)
		dump(b, n.Index, depth+1)
		line(")")
	case *ArraySlice:
		line("(slice")
		dump(b, n.Target, depth+1)
		dump(b, n.Start, depth+1)
		dump(b, n.End, depth+1)
		line(")")
	case *UnionCons:
		line("(union " + n.Label)
		dump(b, n.Value, depth+1)
		line(")")
	case *Match:
		line("(match")
		dump(b, n.Scrutinee, depth+1)
		for _, c := range n.Cases {
			line("  (case " + c.Label + " " + c.Var)
			dump(b, c.Body, depth+2)
			line("  )")
		}
		line(")")
	case *Assign:
		line("(assign")
		dump(b, n.Target, depth+1)
		dump(b, n.Value, depth+1)
		line(")")
	case *CompoundAssign:
		line("(" + n.Op + "= " + n.Target.Name)
		dump(b, n.Value, depth+1)
		line(")")
	case *IncDec:
		pos := "post"
		if n.Pre {
			pos = "pre"
		}
		line("(" + n.Op + " " + pos + " " + n.Target.Name + ")")
	case *While:
		line("(while")
		dump(b, n.Cond, depth+1)
		dump(b, n.Body, depth+1)
		line(")")
	case *DoWhile:
		line("(do-while")
		dump(b, n.Body, depth+1)
		dump(b, n.Cond, depth+1)
		line(")")
	case *For:
		line("(for")
		dump(b, n.Init, depth+1)
		dump(b, n.Cond, depth+1)
		dump(b, n.Update, depth+1)
		dump(b, n.Body, depth+1)
		line(")")
	case *TypeAlias:
		line("(type " + n.Name)
		dump(b, n.Body, depth+1)
		line(")")
	case *Pointer:
		line("(pointer)")
	default:
		line(fmt.Sprintf("(? %T)", e))
	}
}
