package devirt

import "github.com/wippyai/wasm-devirt/wasm"

// addFunction appends a new function (type, body) to the module and returns
// its function index. Mirrors the append-to-every-section idiom asyncify's
// engine.go uses when it adds its own trampolines (see addAsyncFunc there):
// a function is just a Types entry, a Funcs entry, and a matching Code entry,
// all appended in lockstep.
func addFunction(m *wasm.Module, ft wasm.FuncType, locals []wasm.LocalEntry, body []wasm.Instruction) uint32 {
	typeIdx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	m.Funcs = append(m.Funcs, typeIdx)
	m.Code = append(m.Code, wasm.FuncBody{
		Locals: locals,
		Code:   wasm.EncodeInstructions(body),
	})
	return uint32(m.NumImportedFuncs()) + uint32(len(m.Funcs)) - 1
}

// addGlobal appends a mutable i32 global initialized to init and returns its
// global index.
func addGlobal(m *wasm.Module, init int32) uint32 {
	idx := uint32(m.NumImportedGlobals()) + uint32(len(m.Globals))
	m.Globals = append(m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: wasm.EncodeInstructions([]wasm.Instruction{
			{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: init}},
			{Opcode: wasm.OpEnd},
		}),
	})
	return idx
}

func localGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func globalGet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: idx}}
}

func globalSet(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: idx}}
}

func i32Const(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}
