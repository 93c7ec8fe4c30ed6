package wasm

import (
	"fmt"
	"strings"

	"hyggec/internal/ast"
	"hyggec/internal/types"
)

// AllocStrategy selects where malloc comes from.
type AllocStrategy int

const (
	// AllocExternal imports env.malloc from the host.
	AllocExternal AllocStrategy = iota
	// AllocInternal synthesizes a bump allocator function.
	AllocInternal
)

func (s AllocStrategy) String() string {
	if s == AllocInternal {
		return "internal"
	}
	return "external"
}

// SIHygge is the only syscall-interface dialect currently defined.
const SIHygge = "hygge_si"

// FailureExitCode is the sentinel returned by _start when a runtime
// check fails: assertion, array bounds, slice validity, division by
// zero, or an unmatched union scrutinee.
const FailureExitCode = 42

type Config struct {
	Alloc AllocStrategy
	SI    string
}

// Codegen lowers a checked Hygge program into a Wasm module. The whole
// top-level expression becomes the body of an exported `_start`
// function of signature () -> i32 that returns 0 on success.
func Codegen(prog ast.Expr, cfg Config) (*Module, error) {
	if cfg.SI == "" {
		cfg.SI = SIHygge
	}
	if cfg.SI != SIHygge {
		return nil, fmt.Errorf("unknown syscall interface %q", cfg.SI)
	}
	g := &gen{
		mod:       NewModule(),
		alloc:     NewAllocator(),
		cfg:       cfg,
		strings:   map[string]int{},
		unionIDs:  map[string]int{},
		funcCells: map[string]Storage{},
	}

	start := &Function{
		Label: "$_start",
		Type:  FuncType{Results: []ValType{I32}},
	}
	b := &funcBuilder{g: g, fn: start, topLevel: true}
	if err := g.exprStmt(b, scope{}, prog); err != nil {
		return nil, err
	}
	b.emit(I32Const(0).With("success"), Return())
	start.Body = b.code
	if err := g.mod.AddFunction(start); err != nil {
		return nil, err
	}
	if err := g.finalize(); err != nil {
		return nil, err
	}
	return g.mod, nil
}

type gen struct {
	mod   *Module
	alloc *Allocator
	cfg   Config

	nsym      int
	strings   map[string]int // literal -> header address
	unionIDs  map[string]int
	funcCells map[string]Storage // hoisted function label -> static cell

	mallocNeeded   bool
	exitCodeNeeded bool
}

// scope is the variable-storage map. Binding clones, so scope exit
// restores the pre-scope entries for free.
type scope map[string]Storage

func (sc scope) bind(name string, st Storage) scope {
	out := make(scope, len(sc)+1)
	for k, v := range sc {
		out[k] = v
	}
	out[name] = st
	return out
}

// contextFree reports whether the storage entry means the same thing
// in every function, so a hoisted function body may use it directly.
func (st Storage) contextFree() bool {
	switch st.Kind {
	case StorageMemory, StorageID, StorageTableEntry, StorageFuncRef:
		return true
	case StorageLabel:
		return st.Global || st.Fun
	}
	return false
}

type funcBuilder struct {
	g        *gen
	fn       *Function
	code     []Instr
	topLevel bool
}

func (b *funcBuilder) emit(is ...Instr) {
	b.code = append(b.code, is...)
}

// capture runs f against a fresh instruction buffer and returns what
// it emitted; used to build the operands of structured control flow.
func (b *funcBuilder) capture(f func() error) ([]Instr, error) {
	saved := b.code
	b.code = nil
	err := f()
	out := b.code
	b.code = saved
	return out, err
}

func (b *funcBuilder) newLocal(prefix string, t ValType) string {
	name := b.g.fresh(prefix)
	return b.fn.AddLocal(name, t)
}

func (g *gen) fresh(prefix string) string {
	g.nsym++
	return fmt.Sprintf("%s_%d", prefix, g.nsym)
}

func sanitize(name string) string {
	var sb strings.Builder
	for _, ch := range name {
		if ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			sb.WriteRune(ch)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// wasmType maps a Hygge type onto its Wasm representation. Unit has
// no representation at all.
func wasmType(t *types.Type) (ValType, bool) {
	switch t.Kind {
	case types.KindUnit:
		return I32, false
	case types.KindFloat:
		return F32, true
	default:
		return I32, true
	}
}

func resultsOf(t *types.Type) []ValType {
	if vt, ok := wasmType(t); ok {
		return []ValType{vt}
	}
	return nil
}

// sigFor applies the signature-mangling rule: a Hygge function type
// (T1,…,Tn) -> R becomes (i32 cenv, Wasm(T1), …, Wasm(Tn)) -> Wasm(R)
// with unit-typed positions elided.
func (g *gen) sigFor(t *types.Type) string {
	params := []ValType{I32}
	for _, p := range t.Params {
		if vt, ok := wasmType(p); ok {
			params = append(params, vt)
		}
	}
	return g.mod.EnsureFuncType(params, resultsOf(t.Ret))
}

// failure emits the runtime-check failure idiom. Inside _start the
// sentinel is pushed and returned directly; in every other function it
// is recorded in the exit_code global before trapping.
func (g *gen) failure(b *funcBuilder, what string) []Instr {
	if b.topLevel {
		return []Instr{
			I32Const(FailureExitCode).With(what),
			Return(),
		}
	}
	g.needExitCode()
	return []Instr{
		I32Const(FailureExitCode).With(what),
		GlobalSet("$exit_code"),
		Unreachable(),
	}
}

func (g *gen) needExitCode() {
	g.exitCodeNeeded = true
}

// mallocCall returns the call instruction for the configured
// allocation strategy, recording that malloc must exist.
func (g *gen) mallocCall() (Instr, error) {
	g.mallocNeeded = true
	if g.cfg.Alloc == AllocExternal {
		if err := g.mod.AddImportFunc("env", "malloc", "$malloc", []ValType{I32}, []ValType{I32}); err != nil {
			return Instr{}, err
		}
	}
	return Call("$malloc"), nil
}

// hostImport registers one of the hygge_si host calls on first use.
func (g *gen) hostImport(name string) (string, error) {
	label := "$" + name
	var params, results []ValType
	switch name {
	case "writeInt":
		params = []ValType{I32}
	case "writeFloat":
		params = []ValType{F32}
	case "writeS":
		params = []ValType{I32, I32}
	case "readInt":
		results = []ValType{I32}
	case "readFloat":
		results = []ValType{F32}
	default:
		return "", fmt.Errorf("unknown host call %s", name)
	}
	if err := g.mod.AddImportFunc("env", name, label, params, results); err != nil {
		return "", err
	}
	return label, nil
}

// internString lays out a string literal: the raw UTF-8 payload at an
// allocator-assigned address, then a two-word header (data pointer,
// byte length), both initialized through data segments. Returns the
// header address.
func (g *gen) internString(s string) (int, error) {
	if addr, ok := g.strings[s]; ok {
		return addr, nil
	}
	payload := []byte(s)
	payloadAddr := 0
	if len(payload) > 0 {
		var err error
		payloadAddr, err = g.alloc.AllocateWords(len(payload))
		if err != nil {
			return 0, err
		}
		g.mod.AddData(payloadAddr, payload, fmt.Sprintf("bytes of %q", s))
	}
	header, err := g.alloc.Allocate(2 * WordSize)
	if err != nil {
		return 0, err
	}
	g.mod.AddData(header, leWords(int32(payloadAddr), int32(len(payload))), fmt.Sprintf("header of %q", s))
	g.strings[s] = header
	return header, nil
}

func leWords(words ...int32) []byte {
	out := make([]byte, 0, len(words)*WordSize)
	for _, w := range words {
		u := uint32(w)
		out = append(out, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
	}
	return out
}

// unionID interns a union label into its stable tag.
func (g *gen) unionID(label string) int {
	if id, ok := g.unionIDs[label]; ok {
		return id
	}
	id := len(g.unionIDs)
	g.unionIDs[label] = id
	return id
}

// exprStmt lowers e in statement position: a non-unit result is
// dropped so the stack stays balanced.
func (g *gen) exprStmt(b *funcBuilder, sc scope, e ast.Expr) error {
	if err := g.expr(b, sc, e); err != nil {
		return err
	}
	if _, hasValue := wasmType(e.Type()); hasValue {
		b.emit(Drop().With("discard statement value"))
	}
	return nil
}

// expr lowers e, leaving its value on the stack (nothing for unit).
func (g *gen) expr(b *funcBuilder, sc scope, e ast.Expr) error {
	if e.Type() == nil {
		return fmt.Errorf("untyped AST node %T reached the back end", e)
	}
	switch n := e.(type) {
	case *ast.UnitLit:
		return nil
	case *ast.IntLit:
		b.emit(I32Const(n.Value))
		return nil
	case *ast.FloatLit:
		b.emit(F32Const(n.Value))
		return nil
	case *ast.BoolLit:
		v := int32(0)
		if n.Value {
			v = 1
		}
		b.emit(I32Const(v))
		return nil
	case *ast.StringLit:
		header, err := g.internString(n.Value)
		if err != nil {
			return err
		}
		b.emit(I32Const(int32(header)).With(fmt.Sprintf("string %q", n.Value)))
		return nil
	case *ast.Var:
		return g.lowerVar(b, sc, n)
	case *ast.BinOp:
		return g.lowerBinOp(b, sc, n)
	case *ast.ShortCircuit:
		return g.lowerShortCircuit(b, sc, n)
	case *ast.Not:
		if err := g.expr(b, sc, n.Expr); err != nil {
			return err
		}
		b.emit(Instr{Op: OpI32Eqz})
		return nil
	case *ast.Neg:
		if n.Type().Kind == types.KindFloat {
			if err := g.expr(b, sc, n.Expr); err != nil {
				return err
			}
			b.emit(Instr{Op: OpF32Neg})
			return nil
		}
		b.emit(I32Const(0))
		if err := g.expr(b, sc, n.Expr); err != nil {
			return err
		}
		b.emit(Instr{Op: OpI32Sub})
		return nil
	case *ast.MathCall:
		return g.lowerMathCall(b, sc, n)
	case *ast.If:
		return g.lowerIf(b, sc, n)
	case *ast.Seq:
		for i, item := range n.Items {
			if i == len(n.Items)-1 {
				return g.expr(b, sc, item)
			}
			if err := g.exprStmt(b, sc, item); err != nil {
				return err
			}
		}
		return nil
	case *ast.Ascription:
		return g.expr(b, sc, n.Expr)
	case *ast.Assertion:
		if err := g.expr(b, sc, n.Cond); err != nil {
			return err
		}
		b.emit(IfElse(nil, nil, g.failure(b, "assertion failed")))
		return nil
	case *ast.Print:
		return g.lowerPrint(b, sc, n)
	case *ast.ReadInt:
		label, err := g.hostImport("readInt")
		if err != nil {
			return err
		}
		b.emit(Call(label))
		return nil
	case *ast.ReadFloat:
		label, err := g.hostImport("readFloat")
		if err != nil {
			return err
		}
		b.emit(Call(label))
		return nil
	case *ast.Let:
		return g.lowerLet(b, sc, n)
	case *ast.Lambda:
		return g.lowerLambdaValue(b, sc, n)
	case *ast.App:
		return g.lowerApp(b, sc, n)
	case *ast.StructLit:
		return g.lowerStructLit(b, sc, n)
	case *ast.FieldSel:
		return g.lowerFieldSel(b, sc, n)
	case *ast.ArrayCons:
		return g.lowerArrayCons(b, sc, n)
	case *ast.ArrayLen:
		if err := g.expr(b, sc, n.Target); err != nil {
			return err
		}
		b.emit(Load(I32, WordSize).With("array length"))
		return nil
	case *ast.ArrayElem:
		return g.lowerArrayElem(b, sc, n)
	case *ast.ArraySlice:
		return g.lowerArraySlice(b, sc, n)
	case *ast.UnionCons:
		return g.lowerUnionCons(b, sc, n)
	case *ast.Match:
		return g.lowerMatch(b, sc, n)
	case *ast.Assign:
		return g.lowerAssign(b, sc, n)
	case *ast.CompoundAssign:
		return g.lowerCompoundAssign(b, sc, n)
	case *ast.IncDec:
		return g.lowerIncDec(b, sc, n)
	case *ast.While:
		return g.lowerWhile(b, sc, n.Cond, n.Body)
	case *ast.DoWhile:
		if err := g.exprStmt(b, sc, n.Body); err != nil {
			return err
		}
		return g.lowerWhile(b, sc, n.Cond, n.Body)
	case *ast.For:
		if err := g.exprStmt(b, sc, n.Init); err != nil {
			return err
		}
		return g.lowerWhileWithUpdate(b, sc, n.Cond, n.Body, n.Update)
	case *ast.TypeAlias:
		return g.expr(b, sc, n.Body)
	case *ast.Pointer:
		return fmt.Errorf("%w: pointer expression at %d:%d", ErrInvalidAST, n.GetSpan().Start.Line, n.GetSpan().Start.Col)
	}
	return fmt.Errorf("%w: unhandled expression %T", ErrInvalidAST, e)
}

func (g *gen) lowerVar(b *funcBuilder, sc scope, n *ast.Var) error {
	vt, hasValue := wasmType(n.Type())
	if !hasValue {
		return nil
	}
	st, ok := sc[n.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnresolvedIdentifier, n.Name)
	}
	switch st.Kind {
	case StorageLabel:
		if st.Fun {
			// a hoisted function used as a first-class value gets a
			// static closure cell with a zero environment
			cell, err := g.functionCell(st.Label)
			if err != nil {
				return err
			}
			b.emit(I32Const(int32(cell.Addr)).With("closure cell of " + n.Name))
			return nil
		}
		if st.Global {
			b.emit(GlobalGet(st.Label).With(n.Name))
			return nil
		}
		if st.Boxed {
			b.emit(LocalGet(st.Label).With("cell of "+n.Name), Load(vt, 0))
			return nil
		}
		b.emit(LocalGet(st.Label).With(n.Name))
		return nil
	case StorageOffset:
		b.emit(LocalGetIdx(st.Index).With(n.Name))
		return nil
	case StorageMemory:
		b.emit(I32Const(int32(st.Addr)).With("address of "+n.Name), Load(vt, 0))
		return nil
	case StorageID:
		b.emit(I32Const(int32(st.ID)).With(n.Name))
		return nil
	case StorageTableEntry, StorageFuncRef:
		b.emit(I32Const(int32(st.Addr)).With("closure cell of " + n.Name))
		return nil
	}
	return fmt.Errorf("%w: %s has %s", ErrStorageKindMismatch, n.Name, st)
}

// functionCell lazily allocates the static (table-index, 0) cell that
// lets a directly-callable function escape as a value.
func (g *gen) functionCell(label string) (Storage, error) {
	if st, ok := g.funcCells[label]; ok {
		return st, nil
	}
	idx := g.mod.AddTableEntry(label)
	addr, err := g.alloc.Allocate(2 * WordSize)
	if err != nil {
		return Storage{}, err
	}
	g.mod.AddData(addr, leWords(int32(idx), 0), "closure cell of "+label)
	st := Storage{Kind: StorageTableEntry, Label: label, Index: idx, Addr: addr}
	g.funcCells[label] = st
	return st, nil
}

func (g *gen) lowerBinOp(b *funcBuilder, sc scope, n *ast.BinOp) error {
	if err := g.expr(b, sc, n.Left); err != nil {
		return err
	}
	if err := g.expr(b, sc, n.Right); err != nil {
		return err
	}
	isFloat := n.Left.Type().Kind == types.KindFloat
	switch n.Op {
	case "+":
		b.emit(pick(isFloat, OpF32Add, OpI32Add))
	case "-":
		b.emit(pick(isFloat, OpF32Sub, OpI32Sub))
	case "*":
		b.emit(pick(isFloat, OpF32Mul, OpI32Mul))
	case "/":
		if isFloat {
			b.emit(Instr{Op: OpF32Div})
			return nil
		}
		g.intDivGuard(b)
		b.emit(Instr{Op: OpI32DivS})
	case "%":
		g.intDivGuard(b)
		b.emit(Instr{Op: OpI32RemS})
	case "=":
		b.emit(pick(isFloat, OpF32Eq, OpI32Eq))
	case "<":
		b.emit(pick(isFloat, OpF32Lt, OpI32LtS))
	case "<=":
		b.emit(pick(isFloat, OpF32Le, OpI32LeS))
	case ">":
		b.emit(pick(isFloat, OpF32Gt, OpI32GtS))
	case ">=":
		b.emit(pick(isFloat, OpF32Ge, OpI32GeS))
	case "and":
		b.emit(Instr{Op: OpI32And})
	case "or":
		b.emit(Instr{Op: OpI32Or})
	case "xor":
		b.emit(Instr{Op: OpI32Xor})
	default:
		return fmt.Errorf("%w: operator %s", ErrInvalidAST, n.Op)
	}
	return nil
}

func pick(cond bool, a, bOp Op) Instr {
	if cond {
		return Instr{Op: a}
	}
	return Instr{Op: bOp}
}

// intDivGuard checks the divisor on top of the stack against zero and
// fails with the runtime sentinel before the division can trap.
func (g *gen) intDivGuard(b *funcBuilder) {
	d := b.newLocal("$divisor", I32)
	b.emit(
		LocalTee(d),
		Instr{Op: OpI32Eqz},
		IfElse(nil, g.failure(b, "division by zero"), nil),
		LocalGet(d),
	)
}

func (g *gen) lowerShortCircuit(b *funcBuilder, sc scope, n *ast.ShortCircuit) error {
	if err := g.expr(b, sc, n.Left); err != nil {
		return err
	}
	right, err := b.capture(func() error { return g.expr(b, sc, n.Right) })
	if err != nil {
		return err
	}
	if n.Op == "&&" {
		b.emit(IfElse([]ValType{I32}, right, []Instr{I32Const(0)}).With("short-circuit &&"))
	} else {
		b.emit(IfElse([]ValType{I32}, []Instr{I32Const(1)}, right).With("short-circuit ||"))
	}
	return nil
}

func (g *gen) lowerMathCall(b *funcBuilder, sc scope, n *ast.MathCall) error {
	isFloat := n.Type().Kind == types.KindFloat
	switch n.Fn {
	case "sqrt":
		if err := g.expr(b, sc, n.Args[0]); err != nil {
			return err
		}
		b.emit(Instr{Op: OpF32Sqrt})
		return nil
	case "min", "max":
		if err := g.expr(b, sc, n.Args[0]); err != nil {
			return err
		}
		if err := g.expr(b, sc, n.Args[1]); err != nil {
			return err
		}
		if isFloat {
			b.emit(pick(n.Fn == "min", OpF32Min, OpF32Max))
			return nil
		}
		// integer min/max select on an ordered comparison
		aL := b.newLocal("$m_a", I32)
		bL := b.newLocal("$m_b", I32)
		cmp := OpI32LtS
		if n.Fn == "max" {
			cmp = OpI32GtS
		}
		b.emit(
			LocalSet(bL),
			LocalSet(aL),
			LocalGet(aL),
			LocalGet(bL),
			LocalGet(aL),
			LocalGet(bL),
			Instr{Op: cmp},
			Instr{Op: OpSelect}.With(n.Fn),
		)
		return nil
	}
	return fmt.Errorf("%w: builtin %s", ErrInvalidAST, n.Fn)
}

func (g *gen) lowerIf(b *funcBuilder, sc scope, n *ast.If) error {
	if err := g.expr(b, sc, n.Cond); err != nil {
		return err
	}
	then, err := b.capture(func() error { return g.branch(b, sc, n.Then, n.Type()) })
	if err != nil {
		return err
	}
	els, err := b.capture(func() error { return g.branch(b, sc, n.Else, n.Type()) })
	if err != nil {
		return err
	}
	b.emit(IfElse(resultsOf(n.Type()), then, els))
	return nil
}

// branch lowers a conditional arm, reconciling its value against the
// conditional's own type (a unit-typed conditional drops a non-unit
// arm value).
func (g *gen) branch(b *funcBuilder, sc scope, e ast.Expr, want *types.Type) error {
	if _, wantValue := wasmType(want); !wantValue {
		return g.exprStmt(b, sc, e)
	}
	return g.expr(b, sc, e)
}

func (g *gen) lowerPrint(b *funcBuilder, sc scope, n *ast.Print) error {
	t := n.Arg.Type()
	switch t.Kind {
	case types.KindInt, types.KindBool:
		if err := g.expr(b, sc, n.Arg); err != nil {
			return err
		}
		label, err := g.hostImport("writeInt")
		if err != nil {
			return err
		}
		b.emit(Call(label))
		return nil
	case types.KindFloat:
		if err := g.expr(b, sc, n.Arg); err != nil {
			return err
		}
		label, err := g.hostImport("writeFloat")
		if err != nil {
			return err
		}
		b.emit(Call(label))
		return nil
	case types.KindString:
		if err := g.expr(b, sc, n.Arg); err != nil {
			return err
		}
		s := b.newLocal("$str", I32)
		label, err := g.hostImport("writeS")
		if err != nil {
			return err
		}
		b.emit(
			LocalSet(s),
			LocalGet(s),
			Load(I32, 0).With("data pointer"),
			LocalGet(s),
			Load(I32, WordSize).With("byte length"),
			Call(label),
		)
		return nil
	}
	return fmt.Errorf("%w: print of %s", ErrInvalidAST, t)
}

func (g *gen) lowerLet(b *funcBuilder, sc scope, n *ast.Let) error {
	// `let f = fun … -> …` is hoisted to a named top-level function
	// when its free variables survive outside the defining frame.
	if lam, ok := n.Init.(*ast.Lambda); ok && !n.Mutable {
		if label, hoisted, err := g.tryHoist(sc, n, lam); err != nil {
			return err
		} else if hoisted {
			inner := sc.bind(n.Name, Storage{Kind: StorageLabel, Label: label, Fun: true})
			return g.expr(b, inner, n.Body)
		}
		if n.Rec {
			// a recursive closure over locals: allocate the cell
			// before lowering the body so the body can reference it
			label := g.fresh("$" + sanitize(n.Name))
			tableIdx := g.mod.AddTableEntry(label)
			cellAddr, err := g.alloc.Allocate(2 * WordSize)
			if err != nil {
				return err
			}
			self := Storage{Kind: StorageFuncRef, Label: label, Index: tableIdx, Addr: cellAddr}
			if err := g.closureValue(b, sc.bind(n.Name, self), lam, label, tableIdx, cellAddr); err != nil {
				return err
			}
			b.emit(Drop().With("cell address kept statically"))
			return g.expr(b, sc.bind(n.Name, self), n.Body)
		}
	}

	vt, hasValue := wasmType(n.Init.Type())
	var st Storage
	switch {
	case !hasValue:
		if err := g.exprStmt(b, sc, n.Init); err != nil {
			return err
		}
		st = Storage{Kind: StorageID, ID: 0}
	case b.topLevel && n.Mutable:
		// top-level mutables become mutable globals
		gname := g.fresh("$g_" + sanitize(n.Name))
		zero := I32Const(0)
		if vt == F32 {
			zero = F32Const(0)
		}
		if err := g.mod.AddGlobal(Global{Name: gname, Type: vt, Mutable: true, Init: zero, Comment: n.Name}); err != nil {
			return err
		}
		if err := g.expr(b, sc, n.Init); err != nil {
			return err
		}
		b.emit(GlobalSet(gname).With("init " + n.Name))
		st = Storage{Kind: StorageLabel, Label: gname, Global: true}
	case n.Mutable && capturesVar(n.Body, n.Name):
		// a captured mutable lives in a one-word heap cell so the
		// closure shares the same location
		cell := b.newLocal("$cell_"+sanitize(n.Name), I32)
		malloc, err := g.mallocCall()
		if err != nil {
			return err
		}
		b.emit(I32Const(WordSize), malloc.With("cell for captured "+n.Name), LocalSet(cell))
		b.emit(LocalGet(cell))
		if err := g.expr(b, sc, n.Init); err != nil {
			return err
		}
		b.emit(Store(vt, 0).With("init " + n.Name))
		st = Storage{Kind: StorageLabel, Label: cell, Boxed: true}
	default:
		local := b.newLocal("$var_"+sanitize(n.Name), vt)
		if err := g.expr(b, sc, n.Init); err != nil {
			return err
		}
		b.emit(LocalSet(local).With("let " + n.Name))
		st = Storage{Kind: StorageLabel, Label: local}
	}
	return g.expr(b, sc.bind(n.Name, st), n.Body)
}

// tryHoist compiles a let-bound lambda as a named top-level function
// when every free variable it mentions is context-free. Returns the
// function label when hoisting succeeded.
func (g *gen) tryHoist(sc scope, n *ast.Let, lam *ast.Lambda) (string, bool, error) {
	label := g.fresh("$" + sanitize(n.Name))
	inner := scope{}
	for _, fv := range freeVars(lam) {
		if fv == n.Name && n.Rec {
			continue
		}
		st, ok := sc[fv]
		if !ok {
			return "", false, fmt.Errorf("%w: %s", ErrUnresolvedIdentifier, fv)
		}
		if !st.contextFree() {
			return "", false, nil
		}
		inner = inner.bind(fv, st)
	}
	if n.Rec {
		inner = inner.bind(n.Name, Storage{Kind: StorageLabel, Label: label, Fun: true})
	}
	if err := g.compileFunction(label, lam, inner); err != nil {
		return "", false, err
	}
	return label, true, nil
}

// compileFunction emits lam as a top-level function with the
// closure-calling signature (leading environment pointer).
func (g *gen) compileFunction(label string, lam *ast.Lambda, inner scope) error {
	fnType := lam.Type()
	params := []Local{{Name: "$cenv", Type: I32}}
	for i, p := range lam.Params {
		vt, hasValue := wasmType(fnType.Params[i])
		if !hasValue {
			inner = inner.bind(p.Name, Storage{Kind: StorageID, ID: 0})
			continue
		}
		pname := g.fresh("$p_" + sanitize(p.Name))
		params = append(params, Local{Name: pname, Type: vt})
		inner = inner.bind(p.Name, Storage{Kind: StorageLabel, Label: pname})
	}
	paramTypes := make([]ValType, len(params))
	for i, p := range params {
		paramTypes[i] = p.Type
	}
	fn := &Function{
		Label:  label,
		Type:   FuncType{Params: paramTypes, Results: resultsOf(fnType.Ret)},
		Params: params,
	}
	fb := &funcBuilder{g: g, fn: fn}
	var err error
	if _, retValue := wasmType(fnType.Ret); retValue {
		err = g.expr(fb, inner, lam.Body)
	} else {
		err = g.exprStmt(fb, inner, lam.Body)
	}
	if err != nil {
		return err
	}
	fn.Body = fb.code
	return g.mod.AddFunction(fn)
}

// lowerLambdaValue closure-converts an anonymous lambda: the function
// goes to the table, its free variables into a malloc'd environment
// record, and a static two-word cell (table index, env pointer)
// becomes the runtime value.
func (g *gen) lowerLambdaValue(b *funcBuilder, sc scope, lam *ast.Lambda) error {
	label := g.fresh("$lambda")
	tableIdx := g.mod.AddTableEntry(label)
	cellAddr, err := g.alloc.Allocate(2 * WordSize)
	if err != nil {
		return err
	}
	return g.closureValue(b, sc, lam, label, tableIdx, cellAddr)
}

// closureValue compiles lam under the given label and emits the code
// that builds its environment record and fills the closure cell at
// cellAddr, leaving the cell address on the stack.
func (g *gen) closureValue(b *funcBuilder, sc scope, lam *ast.Lambda, label string, tableIdx, cellAddr int) error {
	inner := scope{}
	type capture struct {
		name  string
		st    Storage
		vt    ValType
		boxed bool
	}
	var captured []capture
	for _, fv := range freeVars(lam) {
		st, ok := sc[fv]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnresolvedIdentifier, fv)
		}
		if st.contextFree() {
			inner = inner.bind(fv, st)
			continue
		}
		vt := I32
		if st.Kind == StorageLabel && !st.Boxed {
			if lt, ok := localType(b.fn, st.Label); ok {
				vt = lt
			}
		}
		captured = append(captured, capture{name: fv, st: st, vt: vt, boxed: st.Kind == StorageLabel && st.Boxed})
	}

	// bind captured variables to prologue locals loaded from the env
	prologueLocals := make([]string, len(captured))
	for j, cap := range captured {
		lname := g.fresh("$cap_" + sanitize(cap.name))
		prologueLocals[j] = lname
		if cap.boxed {
			inner = inner.bind(cap.name, Storage{Kind: StorageLabel, Label: lname, Boxed: true})
		} else {
			inner = inner.bind(cap.name, Storage{Kind: StorageLabel, Label: lname})
		}
	}

	fnType := lam.Type()
	params := []Local{{Name: "$cenv", Type: I32}}
	for i, p := range lam.Params {
		vt, hasValue := wasmType(fnType.Params[i])
		if !hasValue {
			inner = inner.bind(p.Name, Storage{Kind: StorageID, ID: 0})
			continue
		}
		pname := g.fresh("$p_" + sanitize(p.Name))
		params = append(params, Local{Name: pname, Type: vt})
		inner = inner.bind(p.Name, Storage{Kind: StorageLabel, Label: pname})
	}
	paramTypes := make([]ValType, len(params))
	for i, p := range params {
		paramTypes[i] = p.Type
	}
	fn := &Function{
		Label:  label,
		Type:   FuncType{Params: paramTypes, Results: resultsOf(fnType.Ret)},
		Params: params,
	}
	fb := &funcBuilder{g: g, fn: fn}
	for j, cap := range captured {
		vt := cap.vt
		if cap.boxed {
			vt = I32
		}
		fn.AddLocal(prologueLocals[j], vt)
		fb.emit(
			LocalGet("$cenv"),
			Load(vt, j*WordSize).With("captured "+cap.name),
			LocalSet(prologueLocals[j]),
		)
	}
	var err error
	if _, retValue := wasmType(fnType.Ret); retValue {
		err = g.expr(fb, inner, lam.Body)
	} else {
		err = g.exprStmt(fb, inner, lam.Body)
	}
	if err != nil {
		return err
	}
	fn.Body = fb.code
	if err := g.mod.AddFunction(fn); err != nil {
		return err
	}

	// build the environment record at the creation site
	if len(captured) > 0 {
		malloc, err := g.mallocCall()
		if err != nil {
			return err
		}
		env := b.newLocal("$env", I32)
		b.emit(I32Const(int32(len(captured)*WordSize)), malloc.With("closure environment"), LocalSet(env))
		for j, cap := range captured {
			b.emit(LocalGet(env))
			if cap.boxed {
				b.emit(LocalGet(cap.st.Label).With("cell of " + cap.name))
			} else if err := g.loadCaptured(b, cap.st, cap.vt, cap.name); err != nil {
				return err
			}
			b.emit(Store(cap.vt, j*WordSize).With("capture " + cap.name))
		}
		b.emit(
			I32Const(int32(cellAddr)),
			I32Const(int32(tableIdx)),
			Store(I32, 0).With("closure cell: table index"),
			I32Const(int32(cellAddr)),
			LocalGet(env),
			Store(I32, WordSize).With("closure cell: environment"),
		)
	} else {
		b.emit(
			I32Const(int32(cellAddr)),
			I32Const(int32(tableIdx)),
			Store(I32, 0).With("closure cell: table index"),
			I32Const(int32(cellAddr)),
			I32Const(0),
			Store(I32, WordSize).With("closure cell: empty environment"),
		)
	}
	b.emit(I32Const(int32(cellAddr)).With("closure value"))
	return nil
}

// loadCaptured pushes the current value of a captured variable at the
// closure creation site.
func (g *gen) loadCaptured(b *funcBuilder, st Storage, vt ValType, name string) error {
	switch st.Kind {
	case StorageLabel:
		if st.Global {
			b.emit(GlobalGet(st.Label).With(name))
		} else {
			b.emit(LocalGet(st.Label).With(name))
		}
		return nil
	case StorageOffset:
		b.emit(LocalGetIdx(st.Index).With(name))
		return nil
	case StorageMemory:
		b.emit(I32Const(int32(st.Addr)), Load(vt, 0).With(name))
		return nil
	}
	return fmt.Errorf("%w: cannot capture %s with %s", ErrStorageKindMismatch, name, st)
}

func localType(fn *Function, name string) (ValType, bool) {
	for _, l := range fn.Params {
		if l.Name == name {
			return l.Type, true
		}
	}
	for _, l := range fn.Locals {
		if l.Name == name {
			return l.Type, true
		}
	}
	return I32, false
}

func (g *gen) lowerApp(b *funcBuilder, sc scope, n *ast.App) error {
	if v, ok := n.Fn.(*ast.Var); ok {
		if st, bound := sc[v.Name]; bound && st.Kind == StorageLabel && st.Fun {
			b.emit(I32Const(0).With("no environment"))
			for _, a := range n.Args {
				if err := g.expr(b, sc, a); err != nil {
					return err
				}
			}
			b.emit(Call(st.Label).With("call " + v.Name))
			return nil
		}
	}
	// first-class callee: load the closure cell, pass the environment
	// pointer first, dispatch through the table
	if err := g.expr(b, sc, n.Fn); err != nil {
		return err
	}
	clos := b.newLocal("$closure", I32)
	b.emit(
		LocalSet(clos),
		LocalGet(clos),
		Load(I32, WordSize).With("environment pointer"),
	)
	for _, a := range n.Args {
		if err := g.expr(b, sc, a); err != nil {
			return err
		}
	}
	sig := g.sigFor(n.Fn.Type())
	b.emit(
		LocalGet(clos),
		Load(I32, 0).With("table index"),
		CallIndirect(sig),
	)
	return nil
}

func (g *gen) lowerStructLit(b *funcBuilder, sc scope, n *ast.StructLit) error {
	t := n.Type()
	malloc, err := g.mallocCall()
	if err != nil {
		return err
	}
	base := b.newLocal("$struct", I32)
	b.emit(
		I32Const(int32(len(n.Fields)*WordSize)),
		malloc.With("struct allocation"),
		LocalSet(base),
	)
	for i, f := range n.Fields {
		fieldT := t.Fields[i].Type
		vt, hasValue := wasmType(fieldT)
		if !hasValue {
			if err := g.exprStmt(b, sc, f.Value); err != nil {
				return err
			}
			continue
		}
		b.emit(LocalGet(base))
		if err := g.expr(b, sc, f.Value); err != nil {
			return err
		}
		b.emit(Store(vt, i*WordSize).With("field " + f.Name))
	}
	b.emit(LocalGet(base))
	return nil
}

func (g *gen) lowerFieldSel(b *funcBuilder, sc scope, n *ast.FieldSel) error {
	targetT := n.Target.Type()
	idx := targetT.FieldIndex(n.Field)
	if idx < 0 {
		return fmt.Errorf("%w: field %s", ErrInvalidAST, n.Field)
	}
	if err := g.expr(b, sc, n.Target); err != nil {
		return err
	}
	vt, hasValue := wasmType(n.Type())
	if !hasValue {
		b.emit(Drop().With("unit field " + n.Field))
		return nil
	}
	b.emit(Load(vt, idx*WordSize).With("field " + n.Field))
	return nil
}

func (g *gen) lowerArrayCons(b *funcBuilder, sc scope, n *ast.ArrayCons) error {
	elemT := n.Type().Elem
	vt, hasElem := wasmType(elemT)
	malloc, err := g.mallocCall()
	if err != nil {
		return err
	}
	length := b.newLocal("$len", I32)
	header := b.newLocal("$arr", I32)
	if err := g.expr(b, sc, n.Length); err != nil {
		return err
	}
	b.emit(
		LocalTee(length),
		I32Const(1),
		Instr{Op: OpI32LtS},
		IfElse(nil, g.failure(b, "array length must be at least 1"), nil),
	)
	b.emit(
		I32Const(2*WordSize),
		malloc.With("array header"),
		LocalSet(header),
		LocalGet(header),
		LocalGet(length),
		I32Const(WordSize),
		Instr{Op: OpI32Mul},
		malloc.With("array data"),
		Store(I32, 0).With("data pointer"),
		LocalGet(header),
		LocalGet(length),
		Store(I32, WordSize).With("length"),
	)
	if !hasElem {
		// unit elements need the init evaluated once for its effects
		if err := g.exprStmt(b, sc, n.Init); err != nil {
			return err
		}
		b.emit(LocalGet(header))
		return nil
	}
	initVal := b.newLocal("$init", vt)
	if err := g.expr(b, sc, n.Init); err != nil {
		return err
	}
	b.emit(LocalSet(initVal))
	i := b.newLocal("$i", I32)
	exitL := g.fresh("$fill_done")
	beginL := g.fresh("$fill")
	body := []Instr{
		LocalGet(i),
		LocalGet(length),
		Instr{Op: OpI32GeS},
		BrIf(exitL),
		LocalGet(header),
		Load(I32, 0),
		LocalGet(i),
		I32Const(WordSize),
		Instr{Op: OpI32Mul},
		Instr{Op: OpI32Add},
		LocalGet(initVal),
		Store(vt, 0).With("initialize element"),
		LocalGet(i),
		I32Const(1),
		Instr{Op: OpI32Add},
		LocalSet(i),
		Br(beginL),
	}
	b.emit(
		I32Const(0),
		LocalSet(i),
		Block(exitL, nil, []Instr{Loop(beginL, nil, body)}),
		LocalGet(header),
	)
	return nil
}

// boundsCheck guards 0 <= idx < length of the array whose header is in
// header; idx must already be in its local.
func (g *gen) boundsCheck(b *funcBuilder, header, idx string) {
	b.emit(
		LocalGet(idx),
		I32Const(0),
		Instr{Op: OpI32LtS},
		IfElse(nil, g.failure(b, "index below zero"), nil),
		LocalGet(idx),
		LocalGet(header),
		Load(I32, WordSize),
		Instr{Op: OpI32GeS},
		IfElse(nil, g.failure(b, "index past end"), nil),
	)
}

// elemAddr pushes the address of element idx of the array header.
func elemAddr(header, idx string) []Instr {
	return []Instr{
		LocalGet(header),
		Load(I32, 0),
		LocalGet(idx),
		I32Const(WordSize),
		Instr{Op: OpI32Mul},
		Instr{Op: OpI32Add},
	}
}

func (g *gen) lowerArrayElem(b *funcBuilder, sc scope, n *ast.ArrayElem) error {
	header := b.newLocal("$arr", I32)
	idx := b.newLocal("$idx", I32)
	if err := g.expr(b, sc, n.Target); err != nil {
		return err
	}
	b.emit(LocalSet(header))
	if err := g.expr(b, sc, n.Index); err != nil {
		return err
	}
	b.emit(LocalSet(idx))
	g.boundsCheck(b, header, idx)
	vt, hasValue := wasmType(n.Type())
	if !hasValue {
		return nil
	}
	b.emit(elemAddr(header, idx)...)
	b.emit(Load(vt, 0).With("array element"))
	return nil
}

func (g *gen) lowerArraySlice(b *funcBuilder, sc scope, n *ast.ArraySlice) error {
	malloc, err := g.mallocCall()
	if err != nil {
		return err
	}
	header := b.newLocal("$arr", I32)
	start := b.newLocal("$start", I32)
	end := b.newLocal("$end", I32)
	out := b.newLocal("$slice", I32)
	if err := g.expr(b, sc, n.Target); err != nil {
		return err
	}
	b.emit(LocalSet(header))
	if err := g.expr(b, sc, n.Start); err != nil {
		return err
	}
	b.emit(LocalSet(start))
	if err := g.expr(b, sc, n.End); err != nil {
		return err
	}
	b.emit(LocalSet(end))
	b.emit(
		LocalGet(start),
		I32Const(0),
		Instr{Op: OpI32LtS},
		IfElse(nil, g.failure(b, "slice start below zero"), nil),
		LocalGet(end),
		LocalGet(header),
		Load(I32, WordSize),
		Instr{Op: OpI32GtS},
		IfElse(nil, g.failure(b, "slice end past array"), nil),
		LocalGet(end),
		LocalGet(start),
		Instr{Op: OpI32LeS},
		IfElse(nil, g.failure(b, "empty slice"), nil),
	)
	b.emit(
		I32Const(2*WordSize),
		malloc.With("slice header"),
		LocalSet(out),
		LocalGet(out),
		LocalGet(header),
		Load(I32, 0),
		LocalGet(start),
		I32Const(WordSize),
		Instr{Op: OpI32Mul},
		Instr{Op: OpI32Add},
		Store(I32, 0).With("shared data pointer"),
		LocalGet(out),
		LocalGet(end),
		LocalGet(start),
		Instr{Op: OpI32Sub},
		Store(I32, WordSize).With("slice length"),
		LocalGet(out),
	)
	return nil
}

func (g *gen) lowerUnionCons(b *funcBuilder, sc scope, n *ast.UnionCons) error {
	id := g.unionID(n.Label)
	malloc, err := g.mallocCall()
	if err != nil {
		return err
	}
	cell := b.newLocal("$union", I32)
	b.emit(
		I32Const(2*WordSize),
		malloc.With("union value"),
		LocalSet(cell),
		LocalGet(cell),
		I32Const(int32(id)),
		Store(I32, 0).With("tag "+n.Label),
	)
	payloadT := n.Value.Type()
	if vt, hasValue := wasmType(payloadT); hasValue {
		b.emit(LocalGet(cell))
		if err := g.expr(b, sc, n.Value); err != nil {
			return err
		}
		b.emit(Store(vt, WordSize).With("payload"))
	} else {
		if err := g.exprStmt(b, sc, n.Value); err != nil {
			return err
		}
	}
	b.emit(LocalGet(cell))
	return nil
}

func (g *gen) lowerMatch(b *funcBuilder, sc scope, n *ast.Match) error {
	scrut := b.newLocal("$scrutinee", I32)
	if err := g.expr(b, sc, n.Scrutinee); err != nil {
		return err
	}
	b.emit(LocalSet(scrut))
	arms, err := g.matchArms(b, sc, n, scrut, 0)
	if err != nil {
		return err
	}
	b.emit(arms...)
	return nil
}

// matchArms builds the nested if chain testing the scrutinee tag; the
// innermost else fails with the runtime sentinel.
func (g *gen) matchArms(b *funcBuilder, sc scope, n *ast.Match, scrut string, k int) ([]Instr, error) {
	if k >= len(n.Cases) {
		return g.failure(b, "unmatched union value"), nil
	}
	cas := n.Cases[k]
	labelT := n.Scrutinee.Type().FieldType(cas.Label)
	if labelT == nil {
		return nil, fmt.Errorf("%w: match label %s", ErrInvalidAST, cas.Label)
	}
	id := g.unionID(cas.Label)

	caseScope := sc
	var prologue []Instr
	if vt, hasValue := wasmType(labelT); hasValue {
		payload := b.newLocal("$payload_"+sanitize(cas.Var), vt)
		prologue = []Instr{
			LocalGet(scrut),
			Load(vt, WordSize).With("payload of " + cas.Label),
			LocalSet(payload),
		}
		caseScope = sc.bind(cas.Var, Storage{Kind: StorageLabel, Label: payload})
	} else {
		caseScope = sc.bind(cas.Var, Storage{Kind: StorageID, ID: 0})
	}

	body, err := b.capture(func() error { return g.branch(b, caseScope, cas.Body, n.Type()) })
	if err != nil {
		return nil, err
	}
	rest, err := g.matchArms(b, sc, n, scrut, k+1)
	if err != nil {
		return nil, err
	}
	return []Instr{
		LocalGet(scrut),
		Load(I32, 0).With("tag"),
		I32Const(int32(id)),
		Instr{Op: OpI32Eq}.With("is " + cas.Label),
		IfElse(resultsOf(n.Type()), append(prologue, body...), rest),
	}, nil
}

func (g *gen) lowerAssign(b *funcBuilder, sc scope, n *ast.Assign) error {
	switch target := n.Target.(type) {
	case *ast.Var:
		return g.assignVar(b, sc, target, func() error { return g.expr(b, sc, n.Value) }, n.Value.Type())
	case *ast.FieldSel:
		structT := target.Target.Type()
		idx := structT.FieldIndex(target.Field)
		if idx < 0 {
			return fmt.Errorf("%w: field %s", ErrInvalidAST, target.Field)
		}
		vt, hasValue := wasmType(n.Value.Type())
		if !hasValue {
			if err := g.exprStmt(b, sc, target.Target); err != nil {
				return err
			}
			return g.exprStmt(b, sc, n.Value)
		}
		base := b.newLocal("$target", I32)
		value := b.newLocal("$value", vt)
		if err := g.expr(b, sc, target.Target); err != nil {
			return err
		}
		b.emit(LocalSet(base))
		if err := g.expr(b, sc, n.Value); err != nil {
			return err
		}
		b.emit(
			LocalSet(value),
			LocalGet(base),
			LocalGet(value),
			Store(vt, idx*WordSize).With("assign field "+target.Field),
			LocalGet(value),
		)
		return nil
	case *ast.ArrayElem:
		header := b.newLocal("$arr", I32)
		idx := b.newLocal("$idx", I32)
		vt, hasValue := wasmType(n.Value.Type())
		if err := g.expr(b, sc, target.Target); err != nil {
			return err
		}
		b.emit(LocalSet(header))
		if err := g.expr(b, sc, target.Index); err != nil {
			return err
		}
		b.emit(LocalSet(idx))
		g.boundsCheck(b, header, idx)
		if !hasValue {
			return g.exprStmt(b, sc, n.Value)
		}
		value := b.newLocal("$value", vt)
		if err := g.expr(b, sc, n.Value); err != nil {
			return err
		}
		b.emit(LocalSet(value))
		b.emit(elemAddr(header, idx)...)
		b.emit(
			LocalGet(value),
			Store(vt, 0).With("assign element"),
			LocalGet(value),
		)
		return nil
	}
	return fmt.Errorf("%w: assignment target %T", ErrInvalidAST, n.Target)
}

// assignVar stores the value produced by lowerValue into the variable
// and leaves the stored value on the stack.
func (g *gen) assignVar(b *funcBuilder, sc scope, target *ast.Var, lowerValue func() error, valueT *types.Type) error {
	st, ok := sc[target.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnresolvedIdentifier, target.Name)
	}
	vt, hasValue := wasmType(valueT)
	if !hasValue {
		return lowerValue()
	}
	switch st.Kind {
	case StorageLabel:
		switch {
		case st.Global:
			if err := lowerValue(); err != nil {
				return err
			}
			b.emit(GlobalSet(st.Label).With("assign "+target.Name), GlobalGet(st.Label))
			return nil
		case st.Boxed:
			tmp := b.newLocal("$tmp", vt)
			if err := lowerValue(); err != nil {
				return err
			}
			b.emit(
				LocalSet(tmp),
				LocalGet(st.Label).With("cell of "+target.Name),
				LocalGet(tmp),
				Store(vt, 0).With("assign "+target.Name),
				LocalGet(tmp),
			)
			return nil
		case st.Fun:
			return fmt.Errorf("%w: cannot assign to function %s", ErrStorageKindMismatch, target.Name)
		default:
			if err := lowerValue(); err != nil {
				return err
			}
			b.emit(LocalTee(st.Label).With("assign " + target.Name))
			return nil
		}
	case StorageOffset:
		if err := lowerValue(); err != nil {
			return err
		}
		b.emit(Instr{Op: OpLocalTee, Int: int64(st.Index), HasIdx: true}.With("assign " + target.Name))
		return nil
	case StorageMemory:
		if err := lowerValue(); err != nil {
			return err
		}
		tmp := b.newLocal("$tmp", vt)
		b.emit(
			LocalSet(tmp),
			I32Const(int32(st.Addr)),
			LocalGet(tmp),
			Store(vt, 0).With("assign "+target.Name),
			LocalGet(tmp),
		)
		return nil
	}
	return fmt.Errorf("%w: cannot assign to %s with %s", ErrStorageKindMismatch, target.Name, st)
}

func (g *gen) lowerCompoundAssign(b *funcBuilder, sc scope, n *ast.CompoundAssign) error {
	isFloat := n.Type().Kind == types.KindFloat
	lowerValue := func() error {
		if err := g.lowerVar(b, sc, n.Target); err != nil {
			return err
		}
		if err := g.expr(b, sc, n.Value); err != nil {
			return err
		}
		switch n.Op {
		case "+":
			b.emit(pick(isFloat, OpF32Add, OpI32Add))
		case "-":
			b.emit(pick(isFloat, OpF32Sub, OpI32Sub))
		case "*":
			b.emit(pick(isFloat, OpF32Mul, OpI32Mul))
		case "/":
			if isFloat {
				b.emit(Instr{Op: OpF32Div})
			} else {
				g.intDivGuard(b)
				b.emit(Instr{Op: OpI32DivS})
			}
		case "%":
			g.intDivGuard(b)
			b.emit(Instr{Op: OpI32RemS})
		default:
			return fmt.Errorf("%w: compound operator %s", ErrInvalidAST, n.Op)
		}
		return nil
	}
	return g.assignVar(b, sc, n.Target, lowerValue, n.Type())
}

func (g *gen) lowerIncDec(b *funcBuilder, sc scope, n *ast.IncDec) error {
	st, ok := sc[n.Target.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnresolvedIdentifier, n.Target.Name)
	}
	op := Instr{Op: OpI32Add}
	if n.Op == "--" {
		op = Instr{Op: OpI32Sub}
	}
	switch st.Kind {
	case StorageLabel:
		switch {
		case st.Global:
			if n.Pre {
				b.emit(GlobalGet(st.Label), I32Const(1), op, GlobalSet(st.Label), GlobalGet(st.Label))
			} else {
				b.emit(GlobalGet(st.Label).With("old value"), GlobalGet(st.Label), I32Const(1), op, GlobalSet(st.Label))
			}
			return nil
		case st.Boxed:
			if n.Pre {
				b.emit(
					LocalGet(st.Label),
					LocalGet(st.Label),
					Load(I32, 0),
					I32Const(1),
					op,
					Store(I32, 0),
					LocalGet(st.Label),
					Load(I32, 0),
				)
			} else {
				b.emit(
					LocalGet(st.Label),
					Load(I32, 0).With("old value"),
					LocalGet(st.Label),
					LocalGet(st.Label),
					Load(I32, 0),
					I32Const(1),
					op,
					Store(I32, 0),
				)
			}
			return nil
		case st.Fun:
			return fmt.Errorf("%w: %s", ErrStorageKindMismatch, n.Target.Name)
		default:
			if n.Pre {
				b.emit(LocalGet(st.Label), I32Const(1), op, LocalTee(st.Label))
			} else {
				b.emit(LocalGet(st.Label).With("old value"), LocalGet(st.Label), I32Const(1), op, LocalSet(st.Label))
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s has %s", ErrStorageKindMismatch, n.Target.Name, st)
}

func (g *gen) lowerWhile(b *funcBuilder, sc scope, cond, body ast.Expr) error {
	return g.lowerWhileWithUpdate(b, sc, cond, body, nil)
}

func (g *gen) lowerWhileWithUpdate(b *funcBuilder, sc scope, cond, body, update ast.Expr) error {
	exitL := g.fresh("$exit")
	beginL := g.fresh("$begin")
	inner, err := b.capture(func() error {
		if err := g.expr(b, sc, cond); err != nil {
			return err
		}
		b.emit(Instr{Op: OpI32Eqz}, BrIf(exitL).With("loop exit"))
		if err := g.exprStmt(b, sc, body); err != nil {
			return err
		}
		if update != nil {
			if err := g.exprStmt(b, sc, update); err != nil {
				return err
			}
		}
		b.emit(Br(beginL).With("loop back edge"))
		return nil
	})
	if err != nil {
		return err
	}
	b.emit(Block(exitL, nil, []Instr{Loop(beginL, nil, inner)}))
	return nil
}

// finalize synthesizes the runtime scaffolding: the allocator function
// or import, the heap_base global, the memory and the exports.
func (g *gen) finalize() error {
	heapBase := g.alloc.HighWaterMark()
	if g.mallocNeeded && g.cfg.Alloc == AllocInternal {
		if err := g.synthesizeMalloc(heapBase); err != nil {
			return err
		}
	}
	if err := g.mod.AddGlobal(Global{
		Name:    "$heap_base",
		Type:    I32,
		Mutable: false,
		Init:    I32Const(int32(heapBase)),
		Comment: "static allocator high-water mark",
	}); err != nil {
		return err
	}
	if g.exitCodeNeeded {
		if err := g.mod.AddGlobal(Global{
			Name:    "$exit_code",
			Type:    I32,
			Mutable: true,
			Init:    I32Const(0),
		}); err != nil {
			return err
		}
		if err := g.mod.AddExport("exit_code", ExternGlobal, "$exit_code"); err != nil {
			return err
		}
	}
	pages := g.alloc.Pages()
	if pages == 0 {
		pages = 1
	}
	g.mod.EnsureMemory(pages, 0)
	if err := g.mod.AddExport("_start", ExternFunc, "$_start"); err != nil {
		return err
	}
	if err := g.mod.AddExport("memory", ExternMemory, ""); err != nil {
		return err
	}
	return g.mod.AddExport("heap_base_ptr", ExternGlobal, "$heap_base")
}

// synthesizeMalloc emits the internal bump allocator: a mutable heap
// pointer starting at heap_base and a $malloc function that advances
// it, growing memory when the heap crosses the current limit.
func (g *gen) synthesizeMalloc(heapBase int) error {
	if err := g.mod.AddGlobal(Global{
		Name:    "$heap_ptr",
		Type:    I32,
		Mutable: true,
		Init:    I32Const(int32(heapBase)),
		Comment: "bump allocator frontier",
	}); err != nil {
		return err
	}
	fn := &Function{
		Label:   "$malloc",
		Type:    FuncType{Params: []ValType{I32}, Results: []ValType{I32}},
		Params:  []Local{{Name: "$size", Type: I32}},
		Comment: "internal bump allocator",
	}
	fn.AddLocal("$old", I32)
	fn.Body = []Instr{
		GlobalGet("$heap_ptr"),
		LocalTee("$old"),
		LocalGet("$size"),
		Instr{Op: OpI32Add},
		GlobalSet("$heap_ptr"),
		// grow memory when the frontier passes the current limit
		GlobalGet("$heap_ptr"),
		Instr{Op: OpMemorySize},
		I32Const(PageSize),
		Instr{Op: OpI32Mul},
		Instr{Op: OpI32GtS},
		IfElse(nil, []Instr{
			LocalGet("$size"),
			I32Const(PageSize),
			Instr{Op: OpI32DivS},
			I32Const(1),
			Instr{Op: OpI32Add},
			Instr{Op: OpMemoryGrow},
			Drop(),
		}, nil),
		LocalGet("$old"),
	}
	return g.mod.AddFunction(fn)
}
