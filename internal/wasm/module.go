package wasm

import (
	"fmt"
	"strings"
)

// Style selects the textual form the serializer produces.
type Style int

const (
	// StyleLinear prints one instruction per line.
	StyleLinear Style = iota
	// StyleFolded nests operands as S-expression children.
	StyleFolded
)

func (s Style) String() string {
	if s == StyleFolded {
		return "folded"
	}
	return "linear"
}

// ExternKind classifies imports and exports.
type ExternKind int

const (
	ExternFunc ExternKind = iota
	ExternTable
	ExternMemory
	ExternGlobal
)

// FuncType is one canonical function signature. Within a module each
// distinct (params, results) pair appears exactly once, keyed by Name.
type FuncType struct {
	Name    string
	Params  []ValType
	Results []ValType
}

func (t FuncType) key() string {
	return strings.Join(valTypeStrings(t.Params), " ") + "->" + strings.Join(valTypeStrings(t.Results), " ")
}

func valTypeStrings(ts []ValType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

type Import struct {
	Module string
	Name   string
	Kind   ExternKind
	// function imports: label the import binds and its signature
	FuncLabel string
	FuncType  FuncType
}

func (im Import) key() string { return im.Module + "." + im.Name }

type Global struct {
	Name    string
	Type    ValType
	Mutable bool
	Init    Instr
	Comment string
}

type Memory struct {
	Min int
	Max int // 0 = no maximum
}

type ElemEntry struct {
	Index int
	Label string
}

// Table is the single funcref table; its element segment binds each
// index to a function label.
type Table struct {
	Elems []ElemEntry
}

type Local struct {
	Name string
	Type ValType
}

type Function struct {
	Label   string
	Type    FuncType
	Params  []Local
	Locals  []Local
	Body    []Instr
	Comment string
}

// AddLocal registers a new named local and returns its name.
func (f *Function) AddLocal(name string, t ValType) string {
	f.Locals = append(f.Locals, Local{Name: name, Type: t})
	return name
}

type Data struct {
	Offset  int
	Bytes   []byte
	Comment string
}

type Export struct {
	Name string
	Kind ExternKind
	Ref  string // exported label (function, global) or "" for memory
}

// Module is the in-memory representation of one Wasm module. It is
// created empty, mutated only by appending, and finalized once
// lowering and the peephole pass are done.
type Module struct {
	Types   []FuncType
	Imports []Import
	Globals []Global
	Memory  *Memory
	Table   Table
	Funcs   []*Function
	Data    []Data
	Exports []Export

	typeIdx   map[string]string // sig key -> canonical name
	importIdx map[string]int
	funcIdx   map[string]int
	globalIdx map[string]int
	exportIdx map[string]int
	tableIdx  map[string]int
}

func NewModule() *Module {
	return &Module{
		typeIdx:   map[string]string{},
		importIdx: map[string]int{},
		funcIdx:   map[string]int{},
		globalIdx: map[string]int{},
		exportIdx: map[string]int{},
		tableIdx:  map[string]int{},
	}
}

// EnsureFuncType canonicalizes a signature and returns its name. The
// same (params, results) pair always maps to the same name.
func (m *Module) EnsureFuncType(params, results []ValType) string {
	t := FuncType{Params: params, Results: results}
	key := t.key()
	if name, ok := m.typeIdx[key]; ok {
		return name
	}
	name := "$fun_" + strings.Join(valTypeStrings(params), "_")
	if len(params) == 0 {
		name = "$fun_void"
	}
	if len(results) > 0 {
		name += "__" + strings.Join(valTypeStrings(results), "_")
	}
	t.Name = name
	m.typeIdx[key] = name
	m.Types = append(m.Types, t)
	return name
}

// FuncTypeByName finds a registered signature.
func (m *Module) FuncTypeByName(name string) (FuncType, bool) {
	for _, t := range m.Types {
		if t.Name == name {
			return t, true
		}
	}
	return FuncType{}, false
}

// AddImportFunc registers a function import. Importing the same
// (module, name) twice is idempotent when the signature matches and an
// error otherwise.
func (m *Module) AddImportFunc(module, name, label string, params, results []ValType) error {
	im := Import{
		Module:    module,
		Name:      name,
		Kind:      ExternFunc,
		FuncLabel: label,
		FuncType:  FuncType{Params: params, Results: results},
	}
	if at, ok := m.importIdx[im.key()]; ok {
		existing := m.Imports[at]
		if existing.Kind != ExternFunc || existing.FuncType.key() != im.FuncType.key() {
			return fmt.Errorf("%w: %s.%s", ErrConflictingImport, module, name)
		}
		return nil
	}
	m.importIdx[im.key()] = len(m.Imports)
	m.Imports = append(m.Imports, im)
	return nil
}

// HasImport reports whether an import with the given key exists.
func (m *Module) HasImport(module, name string) bool {
	_, ok := m.importIdx[module+"."+name]
	return ok
}

func (m *Module) AddGlobal(g Global) error {
	if _, ok := m.globalIdx[g.Name]; ok {
		return fmt.Errorf("%w: global %s", ErrDuplicateSymbol, g.Name)
	}
	m.globalIdx[g.Name] = len(m.Globals)
	m.Globals = append(m.Globals, g)
	return nil
}

func (m *Module) HasGlobal(name string) bool {
	_, ok := m.globalIdx[name]
	return ok
}

// EnsureMemory merges limits: the widest initial and maximum win.
func (m *Module) EnsureMemory(min, max int) {
	if m.Memory == nil {
		m.Memory = &Memory{Min: min, Max: max}
		return
	}
	if min > m.Memory.Min {
		m.Memory.Min = min
	}
	if max > m.Memory.Max {
		m.Memory.Max = max
	}
}

// AddTableEntry registers a function in the element segment and
// returns its index. A label already present keeps its index, so each
// indirectly referenced function appears exactly once.
func (m *Module) AddTableEntry(label string) int {
	if idx, ok := m.tableIdx[label]; ok {
		return idx
	}
	idx := len(m.Table.Elems)
	m.tableIdx[label] = idx
	m.Table.Elems = append(m.Table.Elems, ElemEntry{Index: idx, Label: label})
	return idx
}

func (m *Module) AddFunction(f *Function) error {
	if _, ok := m.funcIdx[f.Label]; ok {
		return fmt.Errorf("%w: function %s", ErrDuplicateSymbol, f.Label)
	}
	m.funcIdx[f.Label] = len(m.Funcs)
	m.Funcs = append(m.Funcs, f)
	return nil
}

func (m *Module) FunctionByLabel(label string) (*Function, bool) {
	if at, ok := m.funcIdx[label]; ok {
		return m.Funcs[at], true
	}
	return nil, false
}

func (m *Module) AddData(offset int, bytes []byte, comment string) {
	m.Data = append(m.Data, Data{Offset: offset, Bytes: bytes, Comment: comment})
}

func (m *Module) AddExport(name string, kind ExternKind, ref string) error {
	if at, ok := m.exportIdx[name]; ok {
		existing := m.Exports[at]
		if existing.Kind == kind && existing.Ref == ref {
			return nil
		}
		return fmt.Errorf("%w: export %s", ErrDuplicateSymbol, name)
	}
	m.exportIdx[name] = len(m.Exports)
	m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Ref: ref})
	return nil
}

// Merge unions other into m: functions dedup by label (a duplicate
// label is an error), imports by (module, name), globals and exports
// by name, signatures by canonical key. Memory limits merge widest-
// wins; table elements are re-registered so indices stay dense.
func (m *Module) Merge(other *Module) error {
	for _, t := range other.Types {
		m.EnsureFuncType(t.Params, t.Results)
	}
	for _, im := range other.Imports {
		if im.Kind != ExternFunc {
			continue
		}
		if err := m.AddImportFunc(im.Module, im.Name, im.FuncLabel, im.FuncType.Params, im.FuncType.Results); err != nil {
			return err
		}
	}
	for _, g := range other.Globals {
		if m.HasGlobal(g.Name) {
			continue
		}
		if err := m.AddGlobal(g); err != nil {
			return err
		}
	}
	if other.Memory != nil {
		m.EnsureMemory(other.Memory.Min, other.Memory.Max)
	}
	for _, e := range other.Table.Elems {
		m.AddTableEntry(e.Label)
	}
	for _, f := range other.Funcs {
		if err := m.AddFunction(f); err != nil {
			return err
		}
	}
	for _, d := range other.Data {
		m.AddData(d.Offset, d.Bytes, d.Comment)
	}
	for _, e := range other.Exports {
		if err := m.AddExport(e.Name, e.Kind, e.Ref); err != nil {
			return err
		}
	}
	return nil
}

// callArity resolves how many operands a call-shaped instruction pops,
// looking the callee up among imports and functions.
func (m *Module) callArity(i Instr) (int, bool) {
	switch i.Op {
	case OpCall:
		for _, im := range m.Imports {
			if im.Kind == ExternFunc && im.FuncLabel == i.Sym {
				return len(im.FuncType.Params), true
			}
		}
		if f, ok := m.FunctionByLabel(i.Sym); ok {
			return len(f.Type.Params), true
		}
		return 0, false
	case OpCallIndirect:
		if t, ok := m.FuncTypeByName(i.Sym); ok {
			return len(t.Params) + 1, true
		}
		return 0, false
	}
	return i.stackArity()
}
