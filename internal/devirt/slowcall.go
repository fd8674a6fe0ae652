package devirt

import "github.com/wippyai/wasm-devirt/wasm"

// WrapSlowcalls synthesizes one slowcall_stub per function classified Slow
// and rewrites every caller outside the wrapper itself to call the wrapper,
// per spec.md §4.6 and original_source/src/fastcalls.rs's
// generate_slowcall_stubs / CallScanner pair. counter is the
// slowcall_counter global index; it is bumped on every wrapper invocation
// regardless of which wrapped function it forwards to.
func WrapSlowcalls(m *wasm.Module, bodies map[uint32]*Body, class map[uint32]Class, counter uint32) (map[uint32]uint32, error) {
	wrappers := make(map[uint32]uint32)

	var slow []uint32
	for funcIdx, c := range class {
		if c == Slow {
			slow = append(slow, funcIdx)
		}
	}

	for _, funcIdx := range slow {
		wrapperIdx := buildSlowcallWrapper(m, funcIdx, counter)
		wrappers[funcIdx] = wrapperIdx
	}

	for funcIdx, body := range bodies {
		if _, isWrapper := isSlowcallWrapperTarget(wrappers, funcIdx); isWrapper {
			continue
		}
		for _, seq := range body.Seqs {
			for i, node := range seq.Nodes {
				if node.Instr.Opcode != wasm.OpCall {
					continue
				}
				imm, ok := node.Instr.Imm.(wasm.CallImm)
				if !ok {
					continue
				}
				if wrapperIdx, ok := wrappers[imm.FuncIdx]; ok {
					seq.Nodes[i].Instr = wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: wrapperIdx}}
				}
			}
		}
	}

	return wrappers, nil
}

// buildSlowcallWrapper synthesizes a same-signature wrapper for funcIdx:
// bump the counter, forward every parameter, call funcIdx, return its
// results untouched.
func buildSlowcallWrapper(m *wasm.Module, funcIdx uint32, counter uint32) uint32 {
	ft := m.GetFuncType(funcIdx)

	var body []wasm.Instruction
	body = append(body,
		globalGet(counter),
		i32Const(1),
		wasm.Instruction{Opcode: wasm.OpI32Add},
		globalSet(counter),
	)
	for i := range ft.Params {
		body = append(body, localGet(uint32(i)))
	}
	body = append(body, wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: funcIdx}})
	body = append(body, wasm.Instruction{Opcode: wasm.OpEnd})

	return addFunction(m, wasm.FuncType{Params: cloneValTypes(ft.Params), Results: cloneValTypes(ft.Results)}, nil, body)
}

// isSlowcallWrapperTarget reports whether funcIdx is itself one of the
// synthesized wrapper functions, found by reverse lookup, so the call-site
// rewrite pass can skip self-recursive edits inside a wrapper.
func isSlowcallWrapperTarget(wrappers map[uint32]uint32, funcIdx uint32) (uint32, bool) {
	for _, wrapperIdx := range wrappers {
		if wrapperIdx == funcIdx {
			return funcIdx, true
		}
	}
	return 0, false
}
