package wasm

// Optimize runs the peephole pass over every function body, applying
// local rewrite rules until a fixed point. The pass preserves the
// module's observable behaviour: its exit code and the sequence of
// host calls.
func Optimize(m *Module) {
	for _, f := range m.Funcs {
		f.Body = optimizeSeq(f.Body)
	}
}

const maxRounds = 64

func optimizeSeq(code []Instr) []Instr {
	for round := 0; round < maxRounds; round++ {
		out, changed := rewrite(code)
		code = out
		if !changed {
			break
		}
	}
	return code
}

func rewrite(code []Instr) ([]Instr, bool) {
	changed := false

	// recurse into structured children first
	for i := range code {
		in := &code[i]
		switch in.Op {
		case OpBlock, OpLoop:
			body, c := rewrite(in.Body)
			in.Body = body
			changed = changed || c
		case OpIf:
			then, c1 := rewrite(in.Then)
			els, c2 := rewrite(in.Else)
			in.Then = then
			in.Else = els
			changed = changed || c1 || c2
		}
	}

	out := make([]Instr, 0, len(code))
	for i := 0; i < len(code); i++ {
		in := code[i]

		// dead code after an unconditional exit
		if in.Op == OpReturn || in.Op == OpUnreachable || in.Op == OpBr {
			out = append(out, in)
			if i+1 < len(code) {
				changed = true
			}
			break
		}

		next := func(k int) (Instr, bool) {
			if i+k < len(code) {
				return code[i+k], true
			}
			return Instr{}, false
		}

		// push V; drop  =>  (nothing)
		if in.isPurePush() {
			if n, ok := next(1); ok && n.Op == OpDrop {
				i++
				changed = true
				continue
			}
		}

		// pure op; drop  =>  drop per operand, so pushes above cancel
		if in.isPureOp() {
			if n, ok := next(1); ok && n.Op == OpDrop {
				if arity, known := in.stackArity(); known {
					for k := 0; k < arity; k++ {
						out = append(out, Drop())
					}
					i++
					changed = true
					continue
				}
			}
		}

		// local.set x; local.get x  =>  local.tee x
		if in.Op == OpLocalSet {
			if n, ok := next(1); ok && n.Op == OpLocalGet && sameVarRef(in, n) {
				tee := in
				tee.Op = OpLocalTee
				out = append(out, tee)
				i++
				changed = true
				continue
			}
		}

		// local.tee x; drop  =>  local.set x
		if in.Op == OpLocalTee {
			if n, ok := next(1); ok && n.Op == OpDrop {
				set := in
				set.Op = OpLocalSet
				out = append(out, set)
				i++
				changed = true
				continue
			}
		}

		// i32.const k; if A else B  =>  taken branch
		if in.Op == OpI32Const {
			if n, ok := next(1); ok && n.Op == OpIf {
				branch := n.Then
				if in.Int == 0 {
					branch = n.Else
				}
				out = append(out, branch...)
				i++
				changed = true
				continue
			}
		}

		// i32.const k; br_if L  =>  br L (k != 0) or nothing
		if in.Op == OpI32Const {
			if n, ok := next(1); ok && n.Op == OpBrIf {
				if in.Int != 0 {
					out = append(out, Br(n.Sym).With(n.Comment))
				}
				i++
				changed = true
				continue
			}
		}

		// nop elimination
		if in.Op == OpNop {
			changed = true
			continue
		}

		// an if with two empty branches and no results only consumes
		// its condition
		if in.Op == OpIf && len(in.Then) == 0 && len(in.Else) == 0 && len(in.Results) == 0 {
			out = append(out, Drop().With(in.Comment))
			changed = true
			continue
		}

		out = append(out, in)
	}
	return out, changed
}

func sameVarRef(a, b Instr) bool {
	if a.HasIdx != b.HasIdx {
		return false
	}
	if a.HasIdx {
		return a.Int == b.Int
	}
	return a.Sym == b.Sym
}
