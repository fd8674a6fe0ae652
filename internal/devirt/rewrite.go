package devirt

import (
	"fmt"

	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/wasm"
)

// RewriteInstrument splices the instrument-mode call into every call_indirect
// site: push the site's index, then call the signature's shared trampoline,
// replacing the original call_indirect node one-for-one with two nodes.
// stubs maps each (type, table) signature to the function index
// BuildIndirectStub produced for it.
//
// Sites within one sequence are applied in the order Inventory recorded
// them; each insertion grows that sequence by one node, and Inventory
// already folded that growth into every later site's Position in the same
// sequence (spec.md §4.2's running_offset), so positions stay valid as long
// as sites are applied in recorded order without re-deriving them.
func RewriteInstrument(inv *InventoryResult, stubs map[sigKey]uint32) error {
	for funcIdx, sites := range inv.Sites {
		body := inv.Bodies[funcIdx]
		for _, site := range sites {
			stubIdx, ok := stubs[sigKey{TypeIdx: site.TypeIdx, TableIdx: site.TableIdx}]
			if !ok {
				return errors.NotFound(errors.PhaseRewrite, "indirect stub", sigKeyLabel(site))
			}
			seq := body.Seqs[site.SeqID]
			if site.Position >= len(seq.Nodes) || !seq.Nodes[site.Position].Instr.IsIndirectCall() {
				return errors.InvalidData(errors.PhaseRewrite,
					[]string{"callsite", sigKeyLabel(site)}, "call site position does not point at a call_indirect")
			}
			replacement := []Node{
				{Instr: i32Const(int32(site.Index)), Then: -1, Else: -1},
				{Instr: wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: stubIdx}}, Then: -1, Else: -1},
			}
			seq.Nodes = spliceNodes(seq.Nodes, site.Position, replacement)
		}
	}
	return nil
}

// RewriteOptimize applies the resolved disposition of every call site: a
// matched MapDirect site calls its specialization stub, a MapUnreachable
// site becomes unreachable, and a MapRetain site is left untouched. Every
// replacement is one node for one node, preserving the instruction count of
// every enclosing sequence, so call-site positions stay valid.
func RewriteOptimize(inv *InventoryResult, modified map[uint64]MapValue, specStubs map[uint64]uint32) error {
	for funcIdx, sites := range inv.Sites {
		body := inv.Bodies[funcIdx]
		for _, site := range sites {
			mv, ok := modified[site.Index]
			if !ok {
				return errors.NotFound(errors.PhaseRewrite, "resolved call site", sigKeyLabel(site))
			}
			if mv.Kind == MapRetain {
				continue
			}

			seq := body.Seqs[site.SeqID]
			if site.Position >= len(seq.Nodes) || !seq.Nodes[site.Position].Instr.IsIndirectCall() {
				return errors.InvalidData(errors.PhaseRewrite,
					[]string{"callsite", sigKeyLabel(site)}, "call site position does not point at a call_indirect")
			}

			var instr wasm.Instruction
			switch mv.Kind {
			case MapDirect:
				stubIdx, ok := specStubs[site.Index]
				if !ok {
					return errors.NotFound(errors.PhaseRewrite, "specialization stub", sigKeyLabel(site))
				}
				instr = wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: stubIdx}}
			case MapUnreachable:
				instr = wasm.Instruction{Opcode: wasm.OpUnreachable}
			}
			seq.Nodes[site.Position] = Node{Instr: instr, Then: -1, Else: -1}
		}
	}
	return nil
}

// FinalizeBodies re-flattens and re-encodes every function body Inventory
// parsed, writing the result back into the module's code section. Call
// after all rewrite passes for a module are done.
func FinalizeBodies(m *wasm.Module, bodies map[uint32]*Body) {
	numImported := uint32(m.NumImportedFuncs())
	for funcIdx, body := range bodies {
		m.Code[funcIdx-numImported].Code = wasm.EncodeInstructions(body.Flatten())
	}
}

func spliceNodes(nodes []Node, at int, replacement []Node) []Node {
	out := make([]Node, 0, len(nodes)+len(replacement)-1)
	out = append(out, nodes[:at]...)
	out = append(out, replacement...)
	out = append(out, nodes[at+1:]...)
	return out
}

func sigKeyLabel(site CallSite) string {
	return fmt.Sprintf("func %d, site %d", site.FuncIdx, site.Index)
}
