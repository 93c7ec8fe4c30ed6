package types

type Kind int

const (
	KindBottom Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindUnit
	KindFun
	KindStruct
	KindArray
	KindUnion
	KindVar
)

// Type is the resolved type of a Hygge expression. Int and bool are
// 32-bit, float is 32-bit IEEE-754. KindVar is an unresolved type
// variable (an alias name); the checker resolves these against the
// environment before annotating the AST.
type Type struct {
	Kind   Kind
	Name   string  // KindVar: the alias name
	Params []*Type // KindFun
	Ret    *Type   // KindFun
	Elem   *Type   // KindArray
	Fields []Field // KindStruct (fields) and KindUnion (labels)
}

type Field struct {
	Name string
	Type *Type
}

var (
	bottomType = &Type{Kind: KindBottom}
	intType    = &Type{Kind: KindInt}
	floatType  = &Type{Kind: KindFloat}
	boolType   = &Type{Kind: KindBool}
	stringType = &Type{Kind: KindString}
	unitType   = &Type{Kind: KindUnit}
)

func Bottom() *Type { return bottomType }
func Int() *Type    { return intType }
func Float() *Type  { return floatType }
func Bool() *Type   { return boolType }
func String() *Type { return stringType }
func Unit() *Type   { return unitType }

func NewFun(params []*Type, ret *Type) *Type {
	return &Type{Kind: KindFun, Params: params, Ret: ret}
}

func NewStruct(fields []Field) *Type {
	return &Type{Kind: KindStruct, Fields: fields}
}

func NewArray(elem *Type) *Type {
	return &Type{Kind: KindArray, Elem: elem}
}

func NewUnion(labels []Field) *Type {
	return &Type{Kind: KindUnion, Fields: labels}
}

func NewVar(name string) *Type {
	return &Type{Kind: KindVar, Name: name}
}

// FieldType returns the type of the named struct field or union label,
// or nil when absent.
func (t *Type) FieldType(name string) *Type {
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Type
		}
	}
	return nil
}

// FieldIndex returns the positional index of the named field, or -1.
func (t *Type) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (t *Type) Equals(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindVar:
		return t.Name == o.Name
	case KindFun:
		if len(t.Params) != len(o.Params) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equals(o.Params[i]) {
				return false
			}
		}
		return t.Ret.Equals(o.Ret)
	case KindArray:
		return t.Elem.Equals(o.Elem)
	case KindStruct, KindUnion:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != o.Fields[i].Name {
				return false
			}
			if !t.Fields[i].Type.Equals(o.Fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// IsSubtypeOf implements the Hygge subtyping lattice. Bottom is the
// least element. Structs are invariant: field offsets are positional
// in the emitted code, so width subtyping would break layout. Unions
// are covariant in width: a union with fewer labels is a subtype of
// one carrying a superset of them.
func (t *Type) IsSubtypeOf(u *Type) bool {
	if t == nil || u == nil {
		return false
	}
	if t.Kind == KindBottom {
		return true
	}
	if t.Kind == KindUnion && u.Kind == KindUnion {
		for _, l := range t.Fields {
			ut := u.FieldType(l.Name)
			if ut == nil || !l.Type.IsSubtypeOf(ut) {
				return false
			}
		}
		return true
	}
	if t.Kind == KindFun && u.Kind == KindFun {
		if len(t.Params) != len(u.Params) {
			return false
		}
		for i := range t.Params {
			if !u.Params[i].IsSubtypeOf(t.Params[i]) {
				return false
			}
		}
		return t.Ret.IsSubtypeOf(u.Ret)
	}
	if t.Kind == KindArray && u.Kind == KindArray {
		return t.Elem.Equals(u.Elem)
	}
	return t.Equals(u)
}

func (t *Type) String() string {
	switch t.Kind {
	case KindBottom:
		return "bottom"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindUnit:
		return "unit"
	case KindVar:
		return t.Name
	case KindFun:
		s := "("
		for i, p := range t.Params {
			if i > 0 {
				s += ", "
			}
			s += p.String()
		}
		return s + ") -> " + t.Ret.String()
	case KindArray:
		return "array {" + t.Elem.String() + "}"
	case KindStruct:
		s := "struct {"
		for i, f := range t.Fields {
			if i > 0 {
				s += "; "
			}
			s += f.Name + ": " + f.Type.String()
		}
		return s + "}"
	case KindUnion:
		s := "union {"
		for i, f := range t.Fields {
			if i > 0 {
				s += "; "
			}
			s += f.Name + ": " + f.Type.String()
		}
		return s + "}"
	default:
		return "invalid"
	}
}
