package devirt

import "github.com/wippyai/wasm-devirt/wasm"

// IndirectWindow is the number of observation slots allocated per call site
// in instrument mode. Sites that observe more than this many distinct
// targets saturate and remain indirect at optimize time.
const IndirectWindow = 5

// slowcallImportWhitelist names imports that never poison a caller's
// fastcall classification. Domain-specific: these calls are known to
// terminate or be elided downstream. Configurable by construction, not by
// flag, matching the teacher's preference for compile-time configuration
// over runtime knobs in this kind of pass.
var slowcallImportWhitelist = map[string]bool{
	"proc_exit": true,
	"fd_write":  true,
}

// CallSite identifies one textual call_indirect occurrence.
type CallSite struct {
	Index    uint64 // call_site_index, assigned in inventory traversal order
	FuncIdx  uint32
	SeqID    int
	Position int
	TypeIdx  uint32
	TableIdx uint32
}

// sigKey identifies a distinct (type, table) pair seen by the inventory.
type sigKey struct {
	TypeIdx  uint32
	TableIdx uint32
}

// MapKind tags the outcome of profile resolution for one call site.
type MapKind byte

const (
	// MapDirect means one or more concrete callees were observed; the site
	// is a devirtualization candidate.
	MapDirect MapKind = iota
	// MapRetain means keep the indirect call as-is.
	MapRetain
	// MapUnreachable means the site was never observed and can trap.
	MapUnreachable
)

// Target pairs one devirtualization candidate with the raw table index it
// was observed at, since the specialization stub's guard compares against
// the table index, not the function identity.
type Target struct {
	TableIndex int32
	FuncIdx    uint32
}

// MapValue is the resolved disposition of one call site, a closed variant
// over Direct(callees) | Retain | Unreachable.
type MapValue struct {
	Kind    MapKind
	Targets []Target // populated only when Kind == MapDirect
}

// fastCallScan is the per-function working state of the fastcall fixed
// point (spec.md §4.5 / fastcalls.rs's FastCallScan).
type fastCallScan struct {
	funcIdx uint32
	isFast  bool
	deps    map[uint32]bool
}

// ObservationLayout records the globals allocated for instrument-mode
// observation storage.
type ObservationLayout struct {
	// Sites[i][j] is the global index of call site i's j-th observation slot.
	Sites           [][]uint32
	SlowcallCounter uint32
}

// Profile is the resolved-from-wire input to optimize mode: call-site index
// to the list of table-index outcomes observed at runtime.
type Profile map[uint64][]int32

func funcType(m *wasm.Module, funcIdx uint32) *wasm.FuncType {
	return m.GetFuncType(funcIdx)
}
