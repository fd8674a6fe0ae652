package devirt

import (
	"fmt"

	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/wasm"
)

// BuildIndirectStub synthesizes an instrument-mode trampoline for one
// (type, table) signature: every call_indirect sharing that signature is
// rewritten to call this one stub instead, with the original table index
// forwarded through as a trailing parameter. Grounded on
// original_source/src/instrument.rs's generate_stubs (the non-optimize
// branch): new params are the original params plus a target i32 and a
// site-index i32, and the body forwards the original params plus the
// target to a call_indirect against the original signature.
//
// The target comes before the site-index in the param list, not after:
// the call-site rewrite (rewrite.go's RewriteInstrument) only ever inserts
// the site-index constant immediately before the stub call, leaving the
// call_indirect's pre-existing target operand exactly where the original
// code already pushed it, one slot earlier. Operands are consumed in push
// order, so the stub's trailing params must be declared in that same
// order (target, then site-index) for the two not to end up swapped at
// runtime. The site-index parameter carries no data-flow role in this
// function's own body; the observation-wiring pass (wiring.go) prepends
// the code that reads it.
func BuildIndirectStub(m *wasm.Module, key sigKey) uint32 {
	ft := m.Types[key.TypeIdx]
	params := cloneValTypes(ft.Params)
	params = append(params, wasm.ValI32, wasm.ValI32) // target, site index
	stubFT := wasm.FuncType{Params: params, Results: cloneValTypes(ft.Results)}

	targetLocal := uint32(len(ft.Params))
	var body []wasm.Instruction
	for i := range ft.Params {
		body = append(body, localGet(uint32(i)))
	}
	body = append(body, localGet(targetLocal))
	body = append(body, wasm.Instruction{
		Opcode: wasm.OpCallIndirect,
		Imm:    wasm.CallIndirectImm{TypeIdx: key.TypeIdx, TableIdx: key.TableIdx},
	})
	body = append(body, wasm.Instruction{Opcode: wasm.OpEnd})

	return addFunction(m, stubFT, nil, body)
}

// BuildSpecializationStub synthesizes an optimize-mode inline cache for one
// call site resolved to MapDirect: a chain of guarded calls, one per
// observed target, each comparing the trailing i32 against the table index
// the target was actually observed at and returning its result on match.
// Exhausting the chain without a match means the runtime table slot moved
// since profiling and is treated as undefined behavior, per spec.md §7's
// "type mismatch during stub synthesis: fatal" sibling rule for stale
// profiles: the chain ends in unreachable rather than falling back to an
// indirect call, matching instrument.rs's guarded-call-then-unreachable
// shape generalized from one candidate to several.
//
// All targets must share the call site's original signature; a mismatch is
// fatal, since walrus-style IR builders (and this one) assume a stub's
// call-type checks out statically.
func BuildSpecializationStub(m *wasm.Module, typeIdx uint32, targets []Target) (uint32, error) {
	ft := m.Types[typeIdx]
	for _, t := range targets {
		tft := m.GetFuncType(t.FuncIdx)
		if tft == nil || !sameSignature(*tft, ft) {
			return 0, errors.TypeMismatch(errors.PhaseSynth,
				[]string{"stub", fmt.Sprintf("func%d", t.FuncIdx)},
				"callee signature does not match call-site signature")
		}
	}

	params := cloneValTypes(ft.Params)
	params = append(params, wasm.ValI32) // target
	stubFT := wasm.FuncType{Params: params, Results: cloneValTypes(ft.Results)}
	targetLocal := uint32(len(ft.Params))

	var body []wasm.Instruction
	for _, t := range targets {
		// The guard block is always void: the mismatch br_if fires with an
		// empty stack (the i32.ne just consumed both operands), and the
		// match path never falls through to the block's end - it returns -
		// so the block itself never yields ft.Results values, whatever
		// they are.
		body = append(body, wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: -64}})
		body = append(body, localGet(targetLocal))
		body = append(body, i32Const(t.TableIndex))
		body = append(body, wasm.Instruction{Opcode: wasm.OpI32Ne})
		body = append(body, wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 0}})
		for i := range ft.Params {
			body = append(body, localGet(uint32(i)))
		}
		body = append(body, wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: t.FuncIdx}})
		body = append(body, wasm.Instruction{Opcode: wasm.OpReturn})
		body = append(body, wasm.Instruction{Opcode: wasm.OpEnd})
	}
	body = append(body, wasm.Instruction{Opcode: wasm.OpUnreachable})
	body = append(body, wasm.Instruction{Opcode: wasm.OpEnd})

	return addFunction(m, stubFT, nil, body), nil
}

func cloneValTypes(vs []wasm.ValType) []wasm.ValType {
	out := make([]wasm.ValType, len(vs))
	copy(out, vs)
	return out
}

func sameSignature(a, b wasm.FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}
