package devirt

import (
	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/wasm"
)

// InventoryResult is the output of the Indirect-Site Inventory pass.
type InventoryResult struct {
	// Sites holds, per local function index, the call sites found in that
	// function in deterministic traversal order.
	Sites map[uint32][]CallSite
	// Bodies caches each function's parsed Body for reuse by later passes.
	Bodies map[uint32]*Body
	// Signatures is the deduplicated {(type, table)} set across the module.
	Signatures []sigKey
	// ByIndex looks up a CallSite by its call_site_index, for passes that
	// only carry the index (the resolved profile map, the rewrite stubs).
	ByIndex map[uint64]CallSite
}

// Inventory walks every local function body and records the ordered list
// of call_indirect sites plus the distinct signatures present, per
// spec.md §4.2. instrument selects whether running_offset compensates for
// the site-index constant that instrument-mode rewriting will insert.
func Inventory(m *wasm.Module, instrument bool) (*InventoryResult, error) {
	res := &InventoryResult{
		Sites:   make(map[uint32][]CallSite),
		Bodies:  make(map[uint32]*Body),
		ByIndex: make(map[uint64]CallSite),
	}
	numImported := uint32(m.NumImportedFuncs())
	var nextIndex uint64
	seen := make(map[sigKey]bool)

	for i := range m.Code {
		funcIdx := numImported + uint32(i)
		body, err := ParseBody(m.Code[i].Code)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseInventory, errors.KindInvalidData, err, "parse function body")
		}
		res.Bodies[funcIdx] = body

		sites := inventoryFunc(body, funcIdx, instrument, &nextIndex)
		if len(sites) > 0 {
			res.Sites[funcIdx] = sites
		}
		for _, cs := range sites {
			key := sigKey{TypeIdx: cs.TypeIdx, TableIdx: cs.TableIdx}
			if !seen[key] {
				seen[key] = true
				res.Signatures = append(res.Signatures, key)
			}
			res.ByIndex[cs.Index] = cs
		}
	}

	return res, nil
}

// inventoryFunc traverses one function's Body with a sequence-level
// worklist, exactly as spec.md §4.2 describes: a stack of pending sequence
// IDs seeded with the entry sequence; each popped sequence is scanned in
// instruction order, with nested sequences pushed for later processing
// (if-else pushes the consequent, then the alternative).
func inventoryFunc(b *Body, funcIdx uint32, instrument bool, nextIndex *uint64) []CallSite {
	var sites []CallSite
	worklist := []int{b.EntryID}

	for len(worklist) > 0 {
		seqID := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		seq := b.Seqs[seqID]

		var runningOffset int
		for pos, node := range seq.Nodes {
			if node.Instr.IsIndirectCall() {
				imm := node.Instr.Imm.(wasm.CallIndirectImm)
				sites = append(sites, CallSite{
					Index:    *nextIndex,
					FuncIdx:  funcIdx,
					SeqID:    seqID,
					Position: pos + runningOffset,
					TypeIdx:  imm.TypeIdx,
					TableIdx: imm.TableIdx,
				})
				*nextIndex++
				if instrument {
					runningOffset++
				}
			}
			if node.Then != -1 {
				worklist = append(worklist, node.Then)
				if node.Else != -1 {
					worklist = append(worklist, node.Else)
				}
			}
		}
	}

	return sites
}
