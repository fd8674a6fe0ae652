package devirt

import (
	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/wasm"
)

// Class is the outcome of fastcall/slowcall classification for one function.
type Class byte

const (
	Unknown Class = iota
	Fast
	Slow
)

// ClassifyFastcalls runs the whole-program fixed point described in
// spec.md §4.5, grounded directly on original_source/src/fastcalls.rs's
// FastCallScan and compute_slowcalls: a three-state (fast/slow/unknown)
// iteration seeded by a per-function local scan, converging when no
// UNKNOWN function can be resolved by its dependencies' current state.
// Anything left UNKNOWN when the fixed point stalls is conservatively Slow.
func ClassifyFastcalls(m *wasm.Module) (map[uint32]Class, error) {
	startIdx, ok := findExport(m, "_start", wasm.KindFunc)
	if !ok {
		return nil, errors.NotFound(errors.PhaseFastcall, "export", "_start")
	}

	members := mainTableMembers(m)
	numImported := uint32(m.NumImportedFuncs())

	cg, err := BuildCallGraph(m)
	if err != nil {
		return nil, err
	}

	scans := make(map[uint32]*fastCallScan, len(m.Code))
	for i := range m.Code {
		funcIdx := numImported + uint32(i)
		scans[funcIdx] = scanFunction(m, funcIdx, startIdx, members, cg)
	}

	class := make(map[uint32]Class, len(scans))
	unknown := make(map[uint32]bool, len(scans))
	for funcIdx, scan := range scans {
		switch {
		case !scan.isFast:
			class[funcIdx] = Slow
		case len(scan.deps) == 0:
			class[funcIdx] = Fast
		default:
			class[funcIdx] = Unknown
			unknown[funcIdx] = true
		}
	}

	for len(unknown) > 0 {
		progress := false

		for funcIdx := range unknown {
			deps := scans[funcIdx].deps
			if anyDepIs(deps, class, Slow) {
				class[funcIdx] = Slow
				delete(unknown, funcIdx)
				progress = true
			}
		}
		for funcIdx := range unknown {
			deps := scans[funcIdx].deps
			if allDepsAre(deps, class, Fast) {
				class[funcIdx] = Fast
				delete(unknown, funcIdx)
				progress = true
			}
		}

		if !progress {
			break
		}
	}
	for funcIdx := range unknown {
		class[funcIdx] = Slow
	}

	return class, nil
}

// scanFunction builds the FastCallScan for one local function from its
// pre-built call-graph edges: is_fast starts true and deps empty, and the
// edge walk only ever narrows is_fast to false or grows deps, never the
// reverse. Reusing BuildCallGraph's single decode-and-walk pass here avoids
// re-decoding every function body a second time just for classification.
func scanFunction(m *wasm.Module, funcIdx uint32, startIdx uint32, members []uint32, cg CallGraph) *fastCallScan {
	scan := &fastCallScan{funcIdx: funcIdx, isFast: true, deps: make(map[uint32]bool)}
	if funcIdx == startIdx {
		scan.isFast = false
	}

	for _, callee := range cg.Direct[funcIdx] {
		if callee == funcIdx {
			scan.isFast = false
			continue
		}
		if name, isImport := funcImportName(m, callee); isImport {
			if !slowcallImportWhitelist[name] {
				scan.isFast = false
			}
			continue
		}
		scan.deps[callee] = true
	}

	for _, key := range cg.Indirect[funcIdx] {
		selfInSet := false
		for _, h := range members {
			if funcType(m, h) == nil || !sameSignature(*funcType(m, h), m.Types[key.TypeIdx]) {
				continue
			}
			if h == funcIdx {
				selfInSet = true
				continue
			}
			scan.deps[h] = true
		}
		if selfInSet {
			scan.isFast = false
		}
	}

	return scan
}

func anyDepIs(deps map[uint32]bool, class map[uint32]Class, want Class) bool {
	for dep := range deps {
		if class[dep] == want {
			return true
		}
	}
	return false
}

func allDepsAre(deps map[uint32]bool, class map[uint32]Class, want Class) bool {
	for dep := range deps {
		if class[dep] != want {
			return false
		}
	}
	return true
}

func findExport(m *wasm.Module, name string, kind byte) (uint32, bool) {
	for _, exp := range m.Exports {
		if exp.Name == name && exp.Kind == kind {
			return exp.Idx, true
		}
	}
	return 0, false
}

// funcImportName returns the import name of funcIdx if it names an imported
// function, and whether it does.
func funcImportName(m *wasm.Module, funcIdx uint32) (string, bool) {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		if n == funcIdx {
			return imp.Name, true
		}
		n++
	}
	return "", false
}

// mainTableMembers returns the function indices named by the main table's
// first active element segment, or nil if there is none.
func mainTableMembers(m *wasm.Module) []uint32 {
	elem, ok := findMainActiveElement(m)
	if !ok {
		return nil
	}
	members, err := elementMembers(elem)
	if err != nil {
		return nil
	}
	return members
}
