package devirt

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/wasm"
)

// Config configures the rewrite engine, mirroring asyncify/internal/engine's
// Config struct shape: exported knobs set by the caller, a logger that
// defaults to a no-op when unset.
type Config struct {
	// Profile selects the mode: nil runs instrument mode, non-nil runs
	// optimize mode against the given resolved profile.
	Profile Profile
	Logger  *zap.SugaredLogger
}

// Engine orchestrates the five passes of spec.md §2 in fixed order over a
// single mutable module. Stateless between Transform calls, same as
// asyncify's Engine.
type Engine struct {
	profile Profile
	mode    mode
	log     *zap.SugaredLogger
}

type mode byte

const (
	modeInstrument mode = iota
	modeOptimize
)

// New creates a transformation engine with the given config.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := modeInstrument
	if cfg.Profile != nil {
		m = modeOptimize
	}
	return &Engine{profile: cfg.Profile, mode: m, log: log}
}

// Summary reports the one-line post-rewrite counts spec.md §7 requires on
// success.
type Summary struct {
	FastcallCount      int
	SlowcallCount      int
	CallSiteCount      int
	DevirtualizedCount int
	RetainedCount      int
	UnreachableCount   int
	// Sites lists every call site's disposition, in call_site_index order,
	// for callers that want to render more than the one-line summary (the
	// CLI's interactive table view).
	Sites []SiteSummary
}

// SiteSummary is one call site's resolved disposition, used only for
// reporting (the rewrite passes themselves work off CallSite/MapValue).
type SiteSummary struct {
	Index      uint64
	FuncIdx    uint32
	Kind       MapKind
	CalleeLen  int
}

// String renders the summary the way a CLI's final stdout line would.
func (s Summary) String() string {
	if s.DevirtualizedCount > 0 || s.RetainedCount > 0 || s.UnreachableCount > 0 {
		return fmt.Sprintf(
			"devirt: %d sites (%d devirtualized, %d retained, %d unreachable), %d fastcall, %d slowcall",
			s.CallSiteCount, s.DevirtualizedCount, s.RetainedCount, s.UnreachableCount,
			s.FastcallCount, s.SlowcallCount)
	}
	return fmt.Sprintf("devirt: %d call sites instrumented, %d fastcall, %d slowcall",
		s.CallSiteCount, s.FastcallCount, s.SlowcallCount)
}

// Transform parses wasmData, runs the configured mode's pipeline, and
// returns the re-encoded module plus the rewrite summary.
func (e *Engine) Transform(wasmData []byte) ([]byte, Summary, error) {
	m, err := wasm.ParseModule(wasmData)
	if err != nil {
		return nil, Summary{}, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "parse module")
	}

	var summary Summary
	switch e.mode {
	case modeOptimize:
		summary, err = e.transformOptimize(m)
	default:
		summary, err = e.transformInstrument(m)
	}
	if err != nil {
		return nil, Summary{}, err
	}

	if err := m.Validate(); err != nil {
		return nil, Summary{}, errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "validate rewritten module")
	}

	return m.Encode(), summary, nil
}

// transformInstrument runs Inventory -> Stub Synthesis -> Call-Site Rewriter
// -> Instrumentation Wiring (spec.md §2, instrument mode).
func (e *Engine) transformInstrument(m *wasm.Module) (Summary, error) {
	inv, err := Inventory(m, true)
	if err != nil {
		return Summary{}, err
	}
	e.log.Infof("inventoried %d call sites across %d signatures", len(inv.ByIndex), len(inv.Signatures))

	stubs := make(map[sigKey]uint32, len(inv.Signatures))
	stubSites := make(map[uint32][]uint64)
	for _, key := range inv.Signatures {
		stubIdx := BuildIndirectStub(m, key)
		stubs[key] = stubIdx
	}
	for _, sites := range inv.Sites {
		for _, site := range sites {
			key := sigKey{TypeIdx: site.TypeIdx, TableIdx: site.TableIdx}
			stubIdx := stubs[key]
			stubSites[stubIdx] = append(stubSites[stubIdx], site.Index)
		}
	}

	if err := RewriteInstrument(inv, stubs); err != nil {
		return Summary{}, err
	}
	FinalizeBodies(m, inv.Bodies)

	layout := ObservationGlobals(m, len(inv.ByIndex))
	WireObservations(m, stubSites, layout)
	ExportObservations(m, layout)

	fast, slow, err := e.applySlowcallWrapping(m, layout.SlowcallCounter)
	if err != nil {
		return Summary{}, err
	}
	e.log.Infof("classified %d fastcall, %d slowcall", fast, slow)

	return Summary{
		FastcallCount: fast,
		SlowcallCount: slow,
		CallSiteCount: len(inv.ByIndex),
	}, nil
}

// transformOptimize runs Profile Resolver -> Indirect-Site Inventory ->
// Stub Synthesis -> Call-Site Rewriter (spec.md §2, optimize mode).
// Instrumentation Wiring does not run in optimize mode.
func (e *Engine) transformOptimize(m *wasm.Module) (Summary, error) {
	modified, err := Resolve(m, e.profile)
	if err != nil {
		return Summary{}, err
	}
	e.log.Infof("resolved profile: %d mapped call sites", len(modified))

	inv, err := Inventory(m, false)
	if err != nil {
		return Summary{}, err
	}

	specStubs := make(map[uint64]uint32)
	var devirtualized, retained, unreachableCount int
	var sites []SiteSummary
	for idx, mv := range modified {
		site, ok := inv.ByIndex[idx]
		if !ok {
			return Summary{}, errors.NotFound(errors.PhaseRewrite, "call site", fmt.Sprintf("%d", idx))
		}
		switch mv.Kind {
		case MapDirect:
			stubIdx, err := BuildSpecializationStub(m, site.TypeIdx, mv.Targets)
			if err != nil {
				return Summary{}, err
			}
			specStubs[idx] = stubIdx
			devirtualized++
		case MapRetain:
			retained++
		case MapUnreachable:
			unreachableCount++
		}
		sites = append(sites, SiteSummary{Index: idx, FuncIdx: site.FuncIdx, Kind: mv.Kind, CalleeLen: len(mv.Targets)})
	}
	sortSiteSummaries(sites)

	if err := RewriteOptimize(inv, modified, specStubs); err != nil {
		return Summary{}, err
	}
	FinalizeBodies(m, inv.Bodies)

	e.log.Infof("devirtualized %d/%d call sites (%d retained, %d unreachable)",
		devirtualized, len(inv.ByIndex), retained, unreachableCount)

	return Summary{
		CallSiteCount:      len(inv.ByIndex),
		DevirtualizedCount: devirtualized,
		RetainedCount:      retained,
		UnreachableCount:   unreachableCount,
		Sites:              sites,
	}, nil
}

func sortSiteSummaries(sites []SiteSummary) {
	for i := 1; i < len(sites); i++ {
		for j := i; j > 0 && sites[j-1].Index > sites[j].Index; j-- {
			sites[j-1], sites[j] = sites[j], sites[j-1]
		}
	}
}

// applySlowcallWrapping runs the fastcall fixed point and wraps every
// slowcall with a counter-incrementing wrapper, per spec.md §4.5-4.6. A
// module with no function table at all skips the pass rather than failing
// (spec.md §7). In that case no function is classified and no wrapper is
// built, including for _start, recursive functions and import callers.
func (e *Engine) applySlowcallWrapping(m *wasm.Module, counter uint32) (fast, slow int, err error) {
	if len(m.Tables)+m.NumImportedTables() == 0 {
		e.log.Warn("no function table present; skipping slowcall instrumentation")
		return 0, 0, nil
	}

	class, err := ClassifyFastcalls(m)
	if err != nil {
		return 0, 0, err
	}

	bodies := make(map[uint32]*Body, len(m.Code))
	numImported := uint32(m.NumImportedFuncs())
	for i := range m.Code {
		funcIdx := numImported + uint32(i)
		body, err := ParseBody(m.Code[i].Code)
		if err != nil {
			return 0, 0, err
		}
		bodies[funcIdx] = body
	}

	if _, err := WrapSlowcalls(m, bodies, class, counter); err != nil {
		return 0, 0, err
	}
	FinalizeBodies(m, bodies)

	fast, slow = countClasses(class)
	return fast, slow, nil
}

func countClasses(class map[uint32]Class) (fast, slow int) {
	for _, c := range class {
		switch c {
		case Fast:
			fast++
		case Slow:
			slow++
		}
	}
	return
}
