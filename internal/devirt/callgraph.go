package devirt

import (
	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/wasm"
)

// CallGraph maps each local function index to the list of functions it
// directly calls. Generalized from asyncify's CallGraph to also record,
// per function, the (type, table) pairs of its call_indirect sites — the
// fastcall fixed point needs both.
type CallGraph struct {
	Direct   map[uint32][]uint32
	Indirect map[uint32][]sigKey
}

// BuildCallGraph walks every local function body once and records its
// direct call targets and call_indirect signatures.
func BuildCallGraph(m *wasm.Module) (CallGraph, error) {
	cg := CallGraph{
		Direct:   make(map[uint32][]uint32),
		Indirect: make(map[uint32][]sigKey),
	}
	numImported := uint32(m.NumImportedFuncs())

	for i, body := range m.Code {
		callerIdx := numImported + uint32(i)
		instrs, err := wasm.DecodeInstructions(body.Code)
		if err != nil {
			return CallGraph{}, errors.Wrap(errors.PhaseInventory, errors.KindInvalidData, err, "decode function body")
		}

		for _, instr := range instrs {
			switch instr.Opcode {
			case wasm.OpCall:
				if imm, ok := instr.Imm.(wasm.CallImm); ok {
					cg.Direct[callerIdx] = appendUniqueFunc(cg.Direct[callerIdx], imm.FuncIdx)
				}
			case wasm.OpCallIndirect:
				if imm, ok := instr.Imm.(wasm.CallIndirectImm); ok {
					key := sigKey{TypeIdx: imm.TypeIdx, TableIdx: imm.TableIdx}
					cg.Indirect[callerIdx] = appendUniqueSig(cg.Indirect[callerIdx], key)
				}
			}
		}
	}

	return cg, nil
}

func appendUniqueFunc(s []uint32, v uint32) []uint32 {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func appendUniqueSig(s []sigKey, v sigKey) []sigKey {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
