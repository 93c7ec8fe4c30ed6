// Package checker resolves and verifies the types of a parsed Hygge
// program, annotating every expression node in place. The Wasm code
// generator only accepts fully annotated trees.
package checker

import (
	"fmt"

	"hyggec/internal/ast"
	"hyggec/internal/types"
)

type Checker struct {
	Errors []error
	path   string
}

func New(path string) *Checker {
	return &Checker{path: path}
}

// Check annotates the tree and returns the first error, if any.
func (c *Checker) Check(e ast.Expr) error {
	c.check(newEnv(), e)
	if len(c.Errors) > 0 {
		return c.Errors[0]
	}
	return nil
}

type varInfo struct {
	typ     *types.Type
	mutable bool
}

type env struct {
	vars    map[string]varInfo
	aliases map[string]*types.Type
}

func newEnv() env {
	return env{vars: map[string]varInfo{}, aliases: map[string]*types.Type{}}
}

func (e env) bind(name string, t *types.Type, mutable bool) env {
	vars := make(map[string]varInfo, len(e.vars)+1)
	for k, v := range e.vars {
		vars[k] = v
	}
	vars[name] = varInfo{typ: t, mutable: mutable}
	return env{vars: vars, aliases: e.aliases}
}

func (e env) alias(name string, t *types.Type) env {
	aliases := make(map[string]*types.Type, len(e.aliases)+1)
	for k, v := range e.aliases {
		aliases[k] = v
	}
	aliases[name] = t
	return env{vars: e.vars, aliases: aliases}
}

func (c *Checker) errorf(span ast.Span, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.Errors = append(c.Errors, fmt.Errorf("%s:%d:%d: %s", c.path, span.Start.Line, span.Start.Col, msg))
}

func (c *Checker) resolve(ev env, ann ast.TypeExpr) *types.Type {
	switch t := ann.(type) {
	case *ast.NamedType:
		switch t.Name {
		case "int":
			return types.Int()
		case "float":
			return types.Float()
		case "bool":
			return types.Bool()
		case "string":
			return types.String()
		case "unit":
			return types.Unit()
		}
		if aliased, ok := ev.aliases[t.Name]; ok {
			return aliased
		}
		c.errorf(t.GetSpan(), "unknown type %s", t.Name)
		return types.Bottom()
	case *ast.FunType:
		params := make([]*types.Type, len(t.Params))
		for i, p := range t.Params {
			params[i] = c.resolve(ev, p)
		}
		return types.NewFun(params, c.resolve(ev, t.Ret))
	case *ast.ArrayType:
		return types.NewArray(c.resolve(ev, t.Elem))
	case *ast.StructType:
		fields := make([]types.Field, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = types.Field{Name: f.Name, Type: c.resolve(ev, f.Type)}
		}
		return types.NewStruct(fields)
	case *ast.UnionType:
		labels := make([]types.Field, len(t.Labels))
		for i, l := range t.Labels {
			labels[i] = types.Field{Name: l.Name, Type: c.resolve(ev, l.Type)}
		}
		return types.NewUnion(labels)
	}
	return types.Bottom()
}

func (c *Checker) expectSubtype(span ast.Span, got, want *types.Type) {
	if !got.IsSubtypeOf(want) {
		c.errorf(span, "type mismatch: expected %s, found %s", want, got)
	}
}

// join computes the least common type of two branches, or reports an
// error anchored at span.
func (c *Checker) join(span ast.Span, a, b *types.Type) *types.Type {
	if a.IsSubtypeOf(b) {
		return b
	}
	if b.IsSubtypeOf(a) {
		return a
	}
	if a.Kind == types.KindUnion && b.Kind == types.KindUnion {
		merged := append([]types.Field{}, a.Fields...)
		for _, l := range b.Fields {
			existing := a.FieldType(l.Name)
			if existing == nil {
				merged = append(merged, l)
				continue
			}
			if !existing.Equals(l.Type) {
				c.errorf(span, "union label %s has conflicting types %s and %s", l.Name, existing, l.Type)
			}
		}
		return types.NewUnion(merged)
	}
	c.errorf(span, "branches have incompatible types %s and %s", a, b)
	return types.Bottom()
}

func (c *Checker) check(ev env, e ast.Expr) *types.Type {
	t := c.checkInner(ev, e)
	e.SetType(t)
	return t
}

func (c *Checker) checkInner(ev env, e ast.Expr) *types.Type {
	switch n := e.(type) {
	case *ast.UnitLit:
		return types.Unit()
	case *ast.IntLit:
		return types.Int()
	case *ast.FloatLit:
		return types.Float()
	case *ast.BoolLit:
		return types.Bool()
	case *ast.StringLit:
		return types.String()
	case *ast.Var:
		info, ok := ev.vars[n.Name]
		if !ok {
			c.errorf(n.GetSpan(), "undefined variable %s", n.Name)
			return types.Bottom()
		}
		return info.typ
	case *ast.BinOp:
		return c.checkBinOp(ev, n)
	case *ast.ShortCircuit:
		c.expectSubtype(n.Left.GetSpan(), c.check(ev, n.Left), types.Bool())
		c.expectSubtype(n.Right.GetSpan(), c.check(ev, n.Right), types.Bool())
		return types.Bool()
	case *ast.Not:
		c.expectSubtype(n.Expr.GetSpan(), c.check(ev, n.Expr), types.Bool())
		return types.Bool()
	case *ast.Neg:
		t := c.check(ev, n.Expr)
		if t.Kind != types.KindInt && t.Kind != types.KindFloat && t.Kind != types.KindBottom {
			c.errorf(n.GetSpan(), "cannot negate %s", t)
			return types.Bottom()
		}
		return t
	case *ast.MathCall:
		return c.checkMathCall(ev, n)
	case *ast.If:
		c.expectSubtype(n.Cond.GetSpan(), c.check(ev, n.Cond), types.Bool())
		thenT := c.check(ev, n.Then)
		elseT := c.check(ev, n.Else)
		return c.join(n.GetSpan(), thenT, elseT)
	case *ast.Seq:
		result := types.Unit()
		for _, item := range n.Items {
			result = c.check(ev, item)
		}
		return result
	case *ast.Ascription:
		want := c.resolve(ev, n.Ann)
		got := c.check(ev, n.Expr)
		c.expectSubtype(n.GetSpan(), got, want)
		return want
	case *ast.Assertion:
		c.expectSubtype(n.Cond.GetSpan(), c.check(ev, n.Cond), types.Bool())
		return types.Unit()
	case *ast.Print:
		t := c.check(ev, n.Arg)
		switch t.Kind {
		case types.KindInt, types.KindFloat, types.KindBool, types.KindString, types.KindBottom:
		default:
			c.errorf(n.GetSpan(), "cannot print a value of type %s", t)
		}
		return types.Unit()
	case *ast.ReadInt:
		return types.Int()
	case *ast.ReadFloat:
		return types.Float()
	case *ast.Let:
		return c.checkLet(ev, n)
	case *ast.Lambda:
		return c.checkLambda(ev, n)
	case *ast.App:
		fnT := c.check(ev, n.Fn)
		if fnT.Kind == types.KindBottom {
			for _, a := range n.Args {
				c.check(ev, a)
			}
			return types.Bottom()
		}
		if fnT.Kind != types.KindFun {
			c.errorf(n.GetSpan(), "cannot call a value of type %s", fnT)
			for _, a := range n.Args {
				c.check(ev, a)
			}
			return types.Bottom()
		}
		if len(n.Args) != len(fnT.Params) {
			c.errorf(n.GetSpan(), "wrong number of arguments: expected %d, got %d", len(fnT.Params), len(n.Args))
		}
		for i, a := range n.Args {
			argT := c.check(ev, a)
			if i < len(fnT.Params) {
				c.expectSubtype(a.GetSpan(), argT, fnT.Params[i])
			}
		}
		return fnT.Ret
	case *ast.StructLit:
		fields := make([]types.Field, 0, len(n.Fields))
		seen := map[string]bool{}
		for _, f := range n.Fields {
			if seen[f.Name] {
				c.errorf(n.GetSpan(), "duplicate struct field %s", f.Name)
			}
			seen[f.Name] = true
			fields = append(fields, types.Field{Name: f.Name, Type: c.check(ev, f.Value)})
		}
		return types.NewStruct(fields)
	case *ast.FieldSel:
		targetT := c.check(ev, n.Target)
		if targetT.Kind == types.KindBottom {
			return types.Bottom()
		}
		if targetT.Kind != types.KindStruct {
			c.errorf(n.GetSpan(), "field selection on non-struct type %s", targetT)
			return types.Bottom()
		}
		fieldT := targetT.FieldType(n.Field)
		if fieldT == nil {
			c.errorf(n.GetSpan(), "type %s has no field %s", targetT, n.Field)
			return types.Bottom()
		}
		return fieldT
	case *ast.ArrayCons:
		c.expectSubtype(n.Length.GetSpan(), c.check(ev, n.Length), types.Int())
		return types.NewArray(c.check(ev, n.Init))
	case *ast.ArrayLen:
		t := c.check(ev, n.Target)
		if t.Kind != types.KindArray && t.Kind != types.KindBottom {
			c.errorf(n.GetSpan(), "arrayLength on non-array type %s", t)
		}
		return types.Int()
	case *ast.ArrayElem:
		t := c.check(ev, n.Target)
		c.expectSubtype(n.Index.GetSpan(), c.check(ev, n.Index), types.Int())
		if t.Kind == types.KindBottom {
			return types.Bottom()
		}
		if t.Kind != types.KindArray {
			c.errorf(n.GetSpan(), "indexing a non-array type %s", t)
			return types.Bottom()
		}
		return t.Elem
	case *ast.ArraySlice:
		t := c.check(ev, n.Target)
		c.expectSubtype(n.Start.GetSpan(), c.check(ev, n.Start), types.Int())
		c.expectSubtype(n.End.GetSpan(), c.check(ev, n.End), types.Int())
		if t.Kind != types.KindArray && t.Kind != types.KindBottom {
			c.errorf(n.GetSpan(), "arraySlice on non-array type %s", t)
			return types.Bottom()
		}
		return t
	case *ast.UnionCons:
		valueT := c.check(ev, n.Value)
		return types.NewUnion([]types.Field{{Name: n.Label, Type: valueT}})
	case *ast.Match:
		return c.checkMatch(ev, n)
	case *ast.Assign:
		return c.checkAssign(ev, n)
	case *ast.CompoundAssign:
		info, ok := ev.vars[n.Target.Name]
		if !ok {
			c.errorf(n.GetSpan(), "undefined variable %s", n.Target.Name)
			return types.Bottom()
		}
		c.check(ev, n.Target)
		if !info.mutable {
			c.errorf(n.GetSpan(), "cannot assign to immutable variable %s", n.Target.Name)
		}
		if info.typ.Kind != types.KindInt && info.typ.Kind != types.KindFloat {
			c.errorf(n.GetSpan(), "compound assignment needs an int or float variable, found %s", info.typ)
		}
		if n.Op == "%" && info.typ.Kind == types.KindFloat {
			c.errorf(n.GetSpan(), "%%= is not defined on float")
		}
		c.expectSubtype(n.Value.GetSpan(), c.check(ev, n.Value), info.typ)
		return info.typ
	case *ast.IncDec:
		info, ok := ev.vars[n.Target.Name]
		if !ok {
			c.errorf(n.GetSpan(), "undefined variable %s", n.Target.Name)
			return types.Bottom()
		}
		c.check(ev, n.Target)
		if !info.mutable {
			c.errorf(n.GetSpan(), "cannot assign to immutable variable %s", n.Target.Name)
		}
		if info.typ.Kind != types.KindInt {
			c.errorf(n.GetSpan(), "%s needs an int variable, found %s", n.Op, info.typ)
		}
		return types.Int()
	case *ast.While:
		c.expectSubtype(n.Cond.GetSpan(), c.check(ev, n.Cond), types.Bool())
		c.check(ev, n.Body)
		return types.Unit()
	case *ast.DoWhile:
		c.check(ev, n.Body)
		c.expectSubtype(n.Cond.GetSpan(), c.check(ev, n.Cond), types.Bool())
		return types.Unit()
	case *ast.For:
		c.check(ev, n.Init)
		c.expectSubtype(n.Cond.GetSpan(), c.check(ev, n.Cond), types.Bool())
		c.check(ev, n.Update)
		c.check(ev, n.Body)
		return types.Unit()
	case *ast.TypeAlias:
		aliased := c.resolve(ev, n.Ann)
		return c.check(ev.alias(n.Name, aliased), n.Body)
	case *ast.Pointer:
		// Rejected later by the back end; typing it bottom keeps the
		// checker total.
		return types.Bottom()
	}
	c.errorf(e.GetSpan(), "unhandled expression %T", e)
	return types.Bottom()
}

func (c *Checker) checkBinOp(ev env, n *ast.BinOp) *types.Type {
	leftT := c.check(ev, n.Left)
	rightT := c.check(ev, n.Right)
	numeric := func() *types.Type {
		if leftT.Kind == types.KindBottom || rightT.Kind == types.KindBottom {
			return types.Bottom()
		}
		if !leftT.Equals(rightT) {
			c.errorf(n.GetSpan(), "operator %s needs matching operand types, found %s and %s", n.Op, leftT, rightT)
			return types.Bottom()
		}
		if leftT.Kind != types.KindInt && leftT.Kind != types.KindFloat {
			c.errorf(n.GetSpan(), "operator %s is not defined on %s", n.Op, leftT)
			return types.Bottom()
		}
		return leftT
	}
	switch n.Op {
	case "+", "-", "*", "/":
		return numeric()
	case "%":
		t := numeric()
		if t.Kind == types.KindFloat {
			c.errorf(n.GetSpan(), "%% is not defined on float")
			return types.Bottom()
		}
		return t
	case "<", "<=", ">", ">=":
		numeric()
		return types.Bool()
	case "=":
		if leftT.Kind != types.KindBottom && rightT.Kind != types.KindBottom {
			if !leftT.Equals(rightT) {
				c.errorf(n.GetSpan(), "= needs matching operand types, found %s and %s", leftT, rightT)
			} else if leftT.Kind != types.KindInt && leftT.Kind != types.KindFloat && leftT.Kind != types.KindBool {
				c.errorf(n.GetSpan(), "= is not defined on %s", leftT)
			}
		}
		return types.Bool()
	case "and", "or", "xor":
		c.expectSubtype(n.Left.GetSpan(), leftT, types.Bool())
		c.expectSubtype(n.Right.GetSpan(), rightT, types.Bool())
		return types.Bool()
	}
	c.errorf(n.GetSpan(), "unknown operator %s", n.Op)
	return types.Bottom()
}

func (c *Checker) checkMathCall(ev env, n *ast.MathCall) *types.Type {
	switch n.Fn {
	case "sqrt":
		c.expectSubtype(n.Args[0].GetSpan(), c.check(ev, n.Args[0]), types.Float())
		return types.Float()
	case "min", "max":
		leftT := c.check(ev, n.Args[0])
		rightT := c.check(ev, n.Args[1])
		if !leftT.Equals(rightT) {
			c.errorf(n.GetSpan(), "%s needs matching operand types, found %s and %s", n.Fn, leftT, rightT)
			return types.Bottom()
		}
		if leftT.Kind != types.KindInt && leftT.Kind != types.KindFloat {
			c.errorf(n.GetSpan(), "%s is not defined on %s", n.Fn, leftT)
			return types.Bottom()
		}
		return leftT
	}
	c.errorf(n.GetSpan(), "unknown builtin %s", n.Fn)
	return types.Bottom()
}

func (c *Checker) checkLet(ev env, n *ast.Let) *types.Type {
	if n.Rec {
		lam, ok := n.Init.(*ast.Lambda)
		if !ok {
			c.errorf(n.GetSpan(), "let rec requires a function binding")
			c.check(ev, n.Init)
			return c.check(ev, n.Body)
		}
		params := make([]*types.Type, len(lam.Params))
		for i, p := range lam.Params {
			params[i] = c.resolve(ev, p.Ann)
		}
		if lam.RetAnn == nil {
			c.errorf(n.GetSpan(), "let rec requires a return type annotation")
			return c.check(ev, n.Body)
		}
		fnT := types.NewFun(params, c.resolve(ev, lam.RetAnn))
		recEnv := ev.bind(n.Name, fnT, false)
		c.check(recEnv, n.Init)
		return c.check(recEnv, n.Body)
	}

	initT := c.check(ev, n.Init)
	bound := initT
	if n.Ann != nil {
		want := c.resolve(ev, n.Ann)
		c.expectSubtype(n.Init.GetSpan(), initT, want)
		bound = want
	}
	return c.check(ev.bind(n.Name, bound, n.Mutable), n.Body)
}

func (c *Checker) checkLambda(ev env, n *ast.Lambda) *types.Type {
	params := make([]*types.Type, len(n.Params))
	inner := ev
	for i, p := range n.Params {
		params[i] = c.resolve(ev, p.Ann)
		inner = inner.bind(p.Name, params[i], false)
	}
	bodyT := c.check(inner, n.Body)
	ret := bodyT
	if n.RetAnn != nil {
		want := c.resolve(ev, n.RetAnn)
		c.expectSubtype(n.Body.GetSpan(), bodyT, want)
		ret = want
	}
	return types.NewFun(params, ret)
}

func (c *Checker) checkMatch(ev env, n *ast.Match) *types.Type {
	scrutT := c.check(ev, n.Scrutinee)
	if scrutT.Kind != types.KindUnion {
		if scrutT.Kind != types.KindBottom {
			c.errorf(n.GetSpan(), "match on non-union type %s", scrutT)
		}
		for _, cas := range n.Cases {
			c.check(ev.bind(cas.Var, types.Bottom(), false), cas.Body)
		}
		return types.Bottom()
	}
	var result *types.Type
	for _, cas := range n.Cases {
		labelT := scrutT.FieldType(cas.Label)
		if labelT == nil {
			c.errorf(cas.Span, "union %s has no label %s", scrutT, cas.Label)
			labelT = types.Bottom()
		}
		caseT := c.check(ev.bind(cas.Var, labelT, false), cas.Body)
		if result == nil {
			result = caseT
		} else {
			result = c.join(cas.Span, result, caseT)
		}
	}
	if result == nil {
		c.errorf(n.GetSpan(), "match needs at least one case")
		return types.Bottom()
	}
	return result
}

func (c *Checker) checkAssign(ev env, n *ast.Assign) *types.Type {
	switch target := n.Target.(type) {
	case *ast.Var:
		info, ok := ev.vars[target.Name]
		if !ok {
			c.errorf(n.GetSpan(), "undefined variable %s", target.Name)
			c.check(ev, n.Value)
			return types.Bottom()
		}
		c.check(ev, target)
		if !info.mutable {
			c.errorf(n.GetSpan(), "cannot assign to immutable variable %s", target.Name)
		}
		c.expectSubtype(n.Value.GetSpan(), c.check(ev, n.Value), info.typ)
		return info.typ
	case *ast.FieldSel:
		fieldT := c.check(ev, target)
		c.expectSubtype(n.Value.GetSpan(), c.check(ev, n.Value), fieldT)
		return fieldT
	case *ast.ArrayElem:
		elemT := c.check(ev, target)
		c.expectSubtype(n.Value.GetSpan(), c.check(ev, n.Value), elemT)
		return elemT
	}
	c.errorf(n.GetSpan(), "invalid assignment target")
	c.check(ev, n.Value)
	return types.Bottom()
}
