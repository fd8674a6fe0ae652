package devirt

import (
	"strconv"

	"github.com/wippyai/wasm-devirt/wasm"
)

// ObservationGlobals allocates the globals §4.7 wants: IndirectWindow i32
// globals per call site (init -1), plus one slowcall_counter global
// (init -1, a sentinel for "never incremented" per the resolved ambiguity
// around the original's initial value).
func ObservationGlobals(m *wasm.Module, numSites int) ObservationLayout {
	layout := ObservationLayout{Sites: make([][]uint32, numSites)}
	for i := 0; i < numSites; i++ {
		slots := make([]uint32, IndirectWindow)
		for j := range slots {
			slots[j] = addGlobal(m, -1)
		}
		layout.Sites[i] = slots
	}
	layout.SlowcallCounter = addGlobal(m, -1)
	return layout
}

// WireObservations prepends the per-site observation logic to each
// instrument stub, grounded on the three-state global-slot sketch
// original_source/src/main.rs leaves commented out, implemented here for
// real per the resolved saturate-to-(-2) behavior: reaching the end of a
// site's slot chain without a match means every slot is already occupied by
// some other target, so the whole window is saturated to -2, marking the
// site permanently polymorphic rather than leaving stale single-target
// data behind.
//
// stubSites maps each instrument stub's function index to the call sites
// that route through it (several sites can share one stub when they share
// a (type, table) signature).
func WireObservations(m *wasm.Module, stubSites map[uint32][]uint64, layout ObservationLayout) {
	numImported := uint32(m.NumImportedFuncs())

	for stubIdx, sites := range stubSites {
		ft := m.Types[m.Funcs[stubIdx-numImported]]
		targetLocal := uint32(len(ft.Params) - 2)
		siteIndexLocal := uint32(len(ft.Params) - 1)

		var prefix []wasm.Instruction
		prefix = append(prefix,
			globalGet(layout.SlowcallCounter),
			i32Const(1),
			wasm.Instruction{Opcode: wasm.OpI32Add},
			globalSet(layout.SlowcallCounter),
		)
		for _, site := range sites {
			prefix = append(prefix, buildSiteObservation(site, layout.Sites[site], siteIndexLocal, targetLocal)...)
		}

		prependToFunction(m, stubIdx, prefix)
	}
}

// buildSiteObservation emits one site's guarded slot chain:
//
//	block $site                     ;; label 1 from inside a slot block, 0 from here
//	  (site_index != i) br $site
//	  block $slot0                  ;; label 0
//	    (slot0 != -1 && slot0 != target) br $slot0
//	    slot0 := target; br $site
//	  end
//	  ... one such block per slot ...
//	  ;; fallthrough: every slot held some other target already
//	  slot0 := -2 ... slotN := -2
//	end
func buildSiteObservation(site uint64, slots []uint32, siteIndexLocal, targetLocal uint32) []wasm.Instruction {
	var out []wasm.Instruction
	out = append(out, wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: -64}})
	out = append(out,
		localGet(siteIndexLocal),
		i32Const(int32(site)),
		wasm.Instruction{Opcode: wasm.OpI32Ne},
		wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 0}},
	)

	for _, slot := range slots {
		out = append(out, wasm.Instruction{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: -64}})
		out = append(out,
			globalGet(slot),
			i32Const(-1),
			wasm.Instruction{Opcode: wasm.OpI32Eq},
			globalGet(slot),
			localGet(targetLocal),
			wasm.Instruction{Opcode: wasm.OpI32Eq},
			wasm.Instruction{Opcode: wasm.OpI32Or},
			wasm.Instruction{Opcode: wasm.OpI32Eqz},
			wasm.Instruction{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 0}},
			localGet(targetLocal),
			globalSet(slot),
			wasm.Instruction{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 1}},
		)
		out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	}

	for _, slot := range slots {
		out = append(out, i32Const(-2), globalSet(slot))
	}
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	return out
}

// prependToFunction splices prefix before the existing body of a function
// built by addFunction, re-encoding in place.
func prependToFunction(m *wasm.Module, funcIdx uint32, prefix []wasm.Instruction) {
	numImported := uint32(m.NumImportedFuncs())
	body := &m.Code[funcIdx-numImported]
	existing, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		panic(err) // stub bodies are synthesized in this package; decode failure is a programming error
	}
	if len(existing) > 0 && existing[len(existing)-1].Opcode == wasm.OpEnd {
		existing = existing[:len(existing)-1]
	}

	combined := make([]wasm.Instruction, 0, len(prefix)+len(existing)+1)
	combined = append(combined, prefix...)
	combined = append(combined, existing...)
	combined = append(combined, wasm.Instruction{Opcode: wasm.OpEnd})

	body.Code = wasm.EncodeInstructions(combined)
}

// ExportObservations exports slowcall_counter as "slowcalls" and each
// observation global as "profiling_global_<site>_<slot>".
func ExportObservations(m *wasm.Module, layout ObservationLayout) {
	m.Exports = append(m.Exports, wasm.Export{Name: "slowcalls", Kind: wasm.KindGlobal, Idx: layout.SlowcallCounter})
	for site, slots := range layout.Sites {
		for slot, globalIdx := range slots {
			m.Exports = append(m.Exports, wasm.Export{
				Name: fmtExportName(site, slot),
				Kind: wasm.KindGlobal,
				Idx:  globalIdx,
			})
		}
	}
}

func fmtExportName(site, slot int) string {
	return "profiling_global_" + strconv.Itoa(site) + "_" + strconv.Itoa(slot)
}
