package wasm

import (
	"bytes"
	"fmt"
	"strings"
)

// Serialize pretty-prints the module as WAT text. Both styles parse to
// the same binary module: linear prints one instruction per line,
// folded nests operands as S-expression children.
func Serialize(m *Module, style Style) string {
	w := &watBuilder{}
	w.line("(module")
	w.indent++

	for _, t := range m.Types {
		w.line(fmt.Sprintf("(type %s (func%s))", t.Name, sigText(t.Params, t.Results)))
	}
	for _, im := range m.Imports {
		if im.Kind != ExternFunc {
			continue
		}
		w.line(fmt.Sprintf("(import %q %q (func %s%s))",
			im.Module, im.Name, im.FuncLabel, sigText(im.FuncType.Params, im.FuncType.Results)))
	}
	if m.Memory != nil {
		if m.Memory.Max > 0 {
			w.line(fmt.Sprintf("(memory $memory %d %d)", m.Memory.Min, m.Memory.Max))
		} else {
			w.line(fmt.Sprintf("(memory $memory %d)", m.Memory.Min))
		}
	}
	for _, g := range m.Globals {
		typ := string(g.Type)
		if g.Mutable {
			typ = "(mut " + typ + ")"
		}
		line := fmt.Sprintf("(global %s %s (%s))", g.Name, typ, instrAtom(g.Init))
		if g.Comment != "" {
			line += " ;; " + g.Comment
		}
		w.line(line)
	}
	if len(m.Table.Elems) > 0 {
		w.line(fmt.Sprintf("(table $table %d funcref)", len(m.Table.Elems)))
		labels := make([]string, len(m.Table.Elems))
		for i, e := range m.Table.Elems {
			labels[i] = e.Label
		}
		w.line(fmt.Sprintf("(elem (i32.const 0) %s)", strings.Join(labels, " ")))
	}
	for _, f := range m.Funcs {
		writeFunction(w, m, f, style)
	}
	for _, d := range m.Data {
		line := fmt.Sprintf("(data (i32.const %d) \"%s\")", d.Offset, escapeData(d.Bytes))
		if d.Comment != "" {
			line += " ;; " + d.Comment
		}
		w.line(line)
	}
	for _, e := range m.Exports {
		switch e.Kind {
		case ExternFunc:
			w.line(fmt.Sprintf("(export %q (func %s))", e.Name, e.Ref))
		case ExternGlobal:
			w.line(fmt.Sprintf("(export %q (global %s))", e.Name, e.Ref))
		case ExternMemory:
			w.line(fmt.Sprintf("(export %q (memory $memory))", e.Name))
		case ExternTable:
			w.line(fmt.Sprintf("(export %q (table $table))", e.Name))
		}
	}

	w.indent--
	w.line(")")
	return w.String()
}

func sigText(params, results []ValType) string {
	var sb strings.Builder
	for _, p := range params {
		sb.WriteString(" (param ")
		sb.WriteString(string(p))
		sb.WriteString(")")
	}
	for _, r := range results {
		sb.WriteString(" (result ")
		sb.WriteString(string(r))
		sb.WriteString(")")
	}
	return sb.String()
}

// instrAtom renders a constant-initializer instruction inline.
func instrAtom(i Instr) string {
	imm := i.immediate()
	if imm == "" {
		return string(i.Op)
	}
	return string(i.Op) + " " + imm
}

func writeFunction(w *watBuilder, m *Module, f *Function, style Style) {
	head := "(func " + f.Label
	for _, p := range f.Params {
		head += fmt.Sprintf(" (param %s %s)", p.Name, p.Type)
	}
	for _, r := range f.Type.Results {
		head += fmt.Sprintf(" (result %s)", r)
	}
	if f.Comment != "" {
		head += " ;; " + f.Comment
	}
	w.line(head)
	w.indent++
	for _, l := range f.Locals {
		w.line(fmt.Sprintf("(local %s %s)", l.Name, l.Type))
	}
	if style == StyleFolded {
		writeFolded(w, m, f.Body)
	} else {
		writeLinear(w, f.Body)
	}
	w.indent--
	w.line(")")
}

func resultsText(results []ValType) string {
	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(" (result ")
		sb.WriteString(string(r))
		sb.WriteString(")")
	}
	return sb.String()
}

func comment(s string) string {
	if s == "" {
		return ""
	}
	return " ;; " + s
}

func writeLinear(w *watBuilder, code []Instr) {
	for _, in := range code {
		switch in.Op {
		case OpBlock, OpLoop:
			head := string(in.Op)
			if in.Sym != "" {
				head += " " + in.Sym
			}
			head += resultsText(in.Results)
			w.line(head + comment(in.Comment))
			w.indent++
			writeLinear(w, in.Body)
			w.indent--
			w.line("end")
		case OpIf:
			w.line("if" + resultsText(in.Results) + comment(in.Comment))
			w.indent++
			writeLinear(w, in.Then)
			w.indent--
			if len(in.Else) > 0 {
				w.line("else")
				w.indent++
				writeLinear(w, in.Else)
				w.indent--
			}
			w.line("end")
		default:
			text := string(in.Op)
			if imm := in.immediate(); imm != "" {
				text += " " + imm
			}
			w.line(text + comment(in.Comment))
		}
	}
}

// foldNode is one folded S-expression together with the number of
// values it leaves on the stack; zero-result nodes are never consumed
// as operands of a later instruction.
type foldNode struct {
	lines   []string
	results int
}

func writeFolded(w *watBuilder, m *Module, code []Instr) {
	for _, node := range foldSeq(m, code, w.indent) {
		for _, line := range node.lines {
			w.raw(line)
		}
	}
}

// foldSeq folds a linear instruction sequence into S-expression trees
// using each instruction's stack arity. Operands that are not
// available in the current block (or would cross a zero-result
// expression) simply stay as preceding siblings, which is equally
// valid folded WAT.
func foldSeq(m *Module, code []Instr, indent int) []foldNode {
	ind := strings.Repeat("  ", indent)
	var stack []foldNode

	pop := func(arity int) []foldNode {
		var taken []foldNode
		for len(taken) < arity && len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.results != 1 {
				break
			}
			stack = stack[:len(stack)-1]
			taken = append([]foldNode{top}, taken...)
		}
		return taken
	}

	push := func(head string, operands []foldNode, tails []foldNode, cmt string, results int) {
		if len(operands) == 0 && len(tails) == 0 {
			stack = append(stack, foldNode{lines: []string{ind + "(" + head + ")" + comment(cmt)}, results: results})
			return
		}
		lines := []string{ind + "(" + head + comment(cmt)}
		for _, op := range operands {
			for _, l := range op.lines {
				lines = append(lines, "  "+l)
			}
		}
		for _, t := range tails {
			for _, l := range t.lines {
				lines = append(lines, "  "+l)
			}
		}
		lines = append(lines, ind+")")
		stack = append(stack, foldNode{lines: lines, results: results})
	}

	for _, in := range code {
		switch in.Op {
		case OpBlock, OpLoop:
			head := string(in.Op)
			if in.Sym != "" {
				head += " " + in.Sym
			}
			head += resultsText(in.Results)
			push(head, nil, foldSeq(m, in.Body, indent), in.Comment, len(in.Results))
		case OpIf:
			cond := pop(1)
			head := "if" + resultsText(in.Results)
			var tails []foldNode
			thenNode := foldNode{lines: wrapFold("then", foldSeq(m, in.Then, indent), ind)}
			tails = append(tails, thenNode)
			if len(in.Else) > 0 {
				tails = append(tails, foldNode{lines: wrapFold("else", foldSeq(m, in.Else, indent), ind)})
			}
			push(head, cond, tails, in.Comment, len(in.Results))
		default:
			arity, known := m.callArity(in)
			if !known {
				arity = 0
			}
			operands := pop(arity)
			head := string(in.Op)
			if imm := in.immediate(); imm != "" {
				head += " " + imm
			}
			push(head, operands, nil, in.Comment, resultCount(m, in))
		}
	}
	return stack
}

func wrapFold(kw string, nodes []foldNode, ind string) []string {
	if len(nodes) == 0 {
		return []string{ind + "(" + kw + ")"}
	}
	lines := []string{ind + "(" + kw}
	for _, n := range nodes {
		for _, l := range n.lines {
			lines = append(lines, "  "+l)
		}
	}
	return append(lines, ind+")")
}

// resultCount says how many values the instruction leaves behind.
func resultCount(m *Module, in Instr) int {
	switch in.Op {
	case OpI32Const, OpF32Const, OpLocalGet, OpLocalTee, OpGlobalGet,
		OpI32Load, OpF32Load, OpMemorySize, OpMemoryGrow, OpSelect,
		OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32RemS,
		OpI32And, OpI32Or, OpI32Xor, OpI32Eqz,
		OpI32Eq, OpI32Ne, OpI32LtS, OpI32LeS, OpI32GtS, OpI32GeS,
		OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Neg, OpF32Sqrt,
		OpF32Min, OpF32Max,
		OpF32Eq, OpF32Ne, OpF32Lt, OpF32Le, OpF32Gt, OpF32Ge,
		OpI32TruncF32S, OpF32ConvertI32S, OpI32ReinterpretF32, OpF32ReinterpretI32:
		return 1
	case OpCall:
		for _, im := range m.Imports {
			if im.Kind == ExternFunc && im.FuncLabel == in.Sym {
				return len(im.FuncType.Results)
			}
		}
		if f, ok := m.FunctionByLabel(in.Sym); ok {
			return len(f.Type.Results)
		}
		return 0
	case OpCallIndirect:
		if t, ok := m.FuncTypeByName(in.Sym); ok {
			return len(t.Results)
		}
		return 0
	case OpIf, OpBlock, OpLoop:
		return len(in.Results)
	}
	return 0
}

type watBuilder struct {
	sb     strings.Builder
	indent int
}

func (w *watBuilder) line(s string) {
	w.sb.WriteString(strings.Repeat("  ", w.indent))
	w.sb.WriteString(s)
	w.sb.WriteString("\n")
}

// raw writes a pre-indented line.
func (w *watBuilder) raw(s string) {
	w.sb.WriteString(s)
	w.sb.WriteString("\n")
}

func (w *watBuilder) String() string {
	return w.sb.String()
}

func escapeData(data []byte) string {
	var buf bytes.Buffer
	for _, b := range data {
		if b >= 0x20 && b <= 0x7e && b != '\\' && b != '"' {
			buf.WriteByte(b)
			continue
		}
		buf.WriteString(fmt.Sprintf("\\%02x", b))
	}
	return buf.String()
}
