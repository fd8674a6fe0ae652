package devirt

import "github.com/wippyai/wasm-devirt/wasm"

// fn0 is the shared () -> i32 signature used across tests: parameterless,
// one i32 result, matching the single-signature scenarios spec.md §8 walks
// through concretely.
func fn0() wasm.FuncType {
	return wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}
}

// newModule builds a minimal module with one type (fn0), a main function
// table sized to hold every local function, an active element segment
// listing every local function at offset 0, and a _start export pointing at
// function 0. bodies is raw, already-encoded function bytecode (callers use
// wasm.EncodeInstructions).
func newModule(bodies ...[]byte) *wasm.Module {
	m := &wasm.Module{
		Types: []wasm.FuncType{fn0()},
	}
	funcIdxs := make([]uint32, len(bodies))
	for i, b := range bodies {
		m.Funcs = append(m.Funcs, 0)
		m.Code = append(m.Code, wasm.FuncBody{Code: b})
		funcIdxs[i] = uint32(i)
	}
	m.Tables = []wasm.TableType{{ElemType: 0x70, Limits: wasm.Limits{Min: uint64(len(funcIdxs))}}}
	m.Elements = []wasm.Element{{
		Flags:    0,
		Offset:   wasm.EncodeInstructions([]wasm.Instruction{{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 0}}, {Opcode: wasm.OpEnd}}),
		FuncIdxs: funcIdxs,
	}}
	if len(bodies) > 0 {
		m.Exports = append(m.Exports, wasm.Export{Name: "_start", Kind: wasm.KindFunc, Idx: 0})
	}
	return m
}

func endInstr() wasm.Instruction { return wasm.Instruction{Opcode: wasm.OpEnd} }
