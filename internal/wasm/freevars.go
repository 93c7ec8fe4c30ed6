package wasm

import "hyggec/internal/ast"

// freeVars collects the variables an expression references that are
// not bound inside it, in first-use order.
func freeVars(e ast.Expr) []string {
	var order []string
	seen := map[string]bool{}
	walkFree(e, map[string]bool{}, func(name string) {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	})
	return order
}

// capturesVar reports whether any lambda nested inside e has name
// among its free variables.
func capturesVar(e ast.Expr, name string) bool {
	found := false
	walkLambdas(e, func(lam *ast.Lambda) {
		for _, fv := range freeVars(lam) {
			if fv == name {
				found = true
			}
		}
	})
	return found
}

func walkFree(e ast.Expr, bound map[string]bool, use func(string)) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *ast.UnitLit, *ast.IntLit, *ast.FloatLit, *ast.BoolLit, *ast.StringLit,
		*ast.ReadInt, *ast.ReadFloat, *ast.Pointer:
	case *ast.Var:
		if !bound[n.Name] {
			use(n.Name)
		}
	case *ast.BinOp:
		walkFree(n.Left, bound, use)
		walkFree(n.Right, bound, use)
	case *ast.ShortCircuit:
		walkFree(n.Left, bound, use)
		walkFree(n.Right, bound, use)
	case *ast.Not:
		walkFree(n.Expr, bound, use)
	case *ast.Neg:
		walkFree(n.Expr, bound, use)
	case *ast.MathCall:
		for _, a := range n.Args {
			walkFree(a, bound, use)
		}
	case *ast.If:
		walkFree(n.Cond, bound, use)
		walkFree(n.Then, bound, use)
		walkFree(n.Else, bound, use)
	case *ast.Seq:
		for _, item := range n.Items {
			walkFree(item, bound, use)
		}
	case *ast.Ascription:
		walkFree(n.Expr, bound, use)
	case *ast.Assertion:
		walkFree(n.Cond, bound, use)
	case *ast.Print:
		walkFree(n.Arg, bound, use)
	case *ast.Let:
		if n.Rec {
			inner := extend(bound, n.Name)
			walkFree(n.Init, inner, use)
			walkFree(n.Body, inner, use)
			return
		}
		walkFree(n.Init, bound, use)
		walkFree(n.Body, extend(bound, n.Name), use)
	case *ast.Lambda:
		inner := bound
		for _, p := range n.Params {
			inner = extend(inner, p.Name)
		}
		walkFree(n.Body, inner, use)
	case *ast.App:
		walkFree(n.Fn, bound, use)
		for _, a := range n.Args {
			walkFree(a, bound, use)
		}
	case *ast.StructLit:
		for _, f := range n.Fields {
			walkFree(f.Value, bound, use)
		}
	case *ast.FieldSel:
		walkFree(n.Target, bound, use)
	case *ast.ArrayCons:
		walkFree(n.Length, bound, use)
		walkFree(n.Init, bound, use)
	case *ast.ArrayLen:
		walkFree(n.Target, bound, use)
	case *ast.ArrayElem:
		walkFree(n.Target, bound, use)
		walkFree(n.Index, bound, use)
	case *ast.ArraySlice:
		walkFree(n.Target, bound, use)
		walkFree(n.Start, bound, use)
		walkFree(n.End, bound, use)
	case *ast.UnionCons:
		walkFree(n.Value, bound, use)
	case *ast.Match:
		walkFree(n.Scrutinee, bound, use)
		for _, cas := range n.Cases {
			walkFree(cas.Body, extend(bound, cas.Var), use)
		}
	case *ast.Assign:
		walkFree(n.Target, bound, use)
		walkFree(n.Value, bound, use)
	case *ast.CompoundAssign:
		walkFree(n.Target, bound, use)
		walkFree(n.Value, bound, use)
	case *ast.IncDec:
		walkFree(n.Target, bound, use)
	case *ast.While:
		walkFree(n.Cond, bound, use)
		walkFree(n.Body, bound, use)
	case *ast.DoWhile:
		walkFree(n.Body, bound, use)
		walkFree(n.Cond, bound, use)
	case *ast.For:
		walkFree(n.Init, bound, use)
		walkFree(n.Cond, bound, use)
		walkFree(n.Update, bound, use)
		walkFree(n.Body, bound, use)
	case *ast.TypeAlias:
		walkFree(n.Body, bound, use)
	}
}

func walkLambdas(e ast.Expr, visit func(*ast.Lambda)) {
	if e == nil {
		return
	}
	switch n := e.(type) {
	case *ast.Lambda:
		visit(n)
		walkLambdas(n.Body, visit)
	case *ast.BinOp:
		walkLambdas(n.Left, visit)
		walkLambdas(n.Right, visit)
	case *ast.ShortCircuit:
		walkLambdas(n.Left, visit)
		walkLambdas(n.Right, visit)
	case *ast.Not:
		walkLambdas(n.Expr, visit)
	case *ast.Neg:
		walkLambdas(n.Expr, visit)
	case *ast.MathCall:
		for _, a := range n.Args {
			walkLambdas(a, visit)
		}
	case *ast.If:
		walkLambdas(n.Cond, visit)
		walkLambdas(n.Then, visit)
		walkLambdas(n.Else, visit)
	case *ast.Seq:
		for _, item := range n.Items {
			walkLambdas(item, visit)
		}
	case *ast.Ascription:
		walkLambdas(n.Expr, visit)
	case *ast.Assertion:
		walkLambdas(n.Cond, visit)
	case *ast.Print:
		walkLambdas(n.Arg, visit)
	case *ast.Let:
		walkLambdas(n.Init, visit)
		walkLambdas(n.Body, visit)
	case *ast.App:
		walkLambdas(n.Fn, visit)
		for _, a := range n.Args {
			walkLambdas(a, visit)
		}
	case *ast.StructLit:
		for _, f := range n.Fields {
			walkLambdas(f.Value, visit)
		}
	case *ast.FieldSel:
		walkLambdas(n.Target, visit)
	case *ast.ArrayCons:
		walkLambdas(n.Length, visit)
		walkLambdas(n.Init, visit)
	case *ast.ArrayLen:
		walkLambdas(n.Target, visit)
	case *ast.ArrayElem:
		walkLambdas(n.Target, visit)
		walkLambdas(n.Index, visit)
	case *ast.ArraySlice:
		walkLambdas(n.Target, visit)
		walkLambdas(n.Start, visit)
		walkLambdas(n.End, visit)
	case *ast.UnionCons:
		walkLambdas(n.Value, visit)
	case *ast.Match:
		walkLambdas(n.Scrutinee, visit)
		for _, cas := range n.Cases {
			walkLambdas(cas.Body, visit)
		}
	case *ast.Assign:
		walkLambdas(n.Target, visit)
		walkLambdas(n.Value, visit)
	case *ast.CompoundAssign:
		walkLambdas(n.Value, visit)
	case *ast.While:
		walkLambdas(n.Cond, visit)
		walkLambdas(n.Body, visit)
	case *ast.DoWhile:
		walkLambdas(n.Body, visit)
		walkLambdas(n.Cond, visit)
	case *ast.For:
		walkLambdas(n.Init, visit)
		walkLambdas(n.Cond, visit)
		walkLambdas(n.Update, visit)
		walkLambdas(n.Body, visit)
	case *ast.TypeAlias:
		walkLambdas(n.Body, visit)
	}
}

func extend(bound map[string]bool, name string) map[string]bool {
	out := make(map[string]bool, len(bound)+1)
	for k := range bound {
		out[k] = true
	}
	out[name] = true
	return out
}
