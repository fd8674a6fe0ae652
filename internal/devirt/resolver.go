package devirt

import (
	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/wasm"
)

// mainTableIdx is the only table this tool ever inspects (spec.md's
// Non-goals exclude multi-table modules).
const mainTableIdx = 0

// Resolve translates a profile's table-index outcomes into concrete
// function identities, grounded on original_source/src/profilemap.rs's
// process_map almost line for line: offset lookup from the first active
// element segment on the main table, then the three-way classification of
// observed values per call site.
func Resolve(m *wasm.Module, profile Profile) (map[uint64]MapValue, error) {
	if len(m.Tables)+m.NumImportedTables() == 0 {
		return map[uint64]MapValue{}, nil
	}

	elem, ok := findMainActiveElement(m)
	if !ok {
		return map[uint64]MapValue{}, nil
	}

	offset := elementOffset(elem)
	members, err := elementMembers(elem)
	if err != nil {
		return nil, err
	}

	modified := make(map[uint64]MapValue, len(profile))
	for idx, observations := range profile {
		var real []int32
		for _, v := range observations {
			if v >= 0 {
				real = append(real, v)
			}
		}

		if len(real) > 0 {
			var targets []Target
			seen := make(map[int32]bool, len(real))
			for _, v := range real {
				if seen[v] {
					continue
				}
				seen[v] = true
				slot := int64(v) - int64(offset)
				if slot < 0 || int(slot) >= len(members) {
					return nil, errors.OutOfBounds(errors.PhaseResolve,
						[]string{"profile", "callsite"}, int(v), len(members))
				}
				targets = append(targets, Target{TableIndex: v, FuncIdx: members[slot]})
			}
			modified[idx] = MapValue{Kind: MapDirect, Targets: targets}
			continue
		}

		saturated := len(observations) > 0
		for _, v := range observations {
			if v != -2 {
				saturated = false
				break
			}
		}
		if saturated {
			modified[idx] = MapValue{Kind: MapRetain}
		} else {
			modified[idx] = MapValue{Kind: MapUnreachable}
		}
	}

	return modified, nil
}

// findMainActiveElement returns the first active element segment targeting
// the main function table, matching profilemap.rs's break-after-first-match
// loop (the Non-goals leave multi-segment modules undefined).
func findMainActiveElement(m *wasm.Module) (*wasm.Element, bool) {
	for i := range m.Elements {
		e := &m.Elements[i]
		active, tableIdx := elementActiveTable(e)
		if active && tableIdx == mainTableIdx {
			return e, true
		}
	}
	return nil, false
}

func elementActiveTable(e *wasm.Element) (active bool, tableIdx uint32) {
	switch e.Flags {
	case 0, 4:
		return true, 0
	case 2, 6:
		return true, e.TableIdx
	default: // 1, 3, 5, 7: passive or declarative
		return false, 0
	}
}

// elementOffset reads the i32 constant base offset from an element
// segment's initializer expression. A non-constant initializer is treated
// as offset 0, per spec.md §7's malformed-module handling.
func elementOffset(e *wasm.Element) int32 {
	instrs, err := wasm.DecodeInstructions(e.Offset)
	if err != nil {
		return 0
	}
	for _, instr := range instrs {
		if instr.Opcode == wasm.OpI32Const {
			if imm, ok := instr.Imm.(wasm.I32Imm); ok {
				return imm.Value
			}
		}
	}
	return 0
}

// elementMembers extracts the function index of each table slot in the
// segment, in the encoding the teacher's wasm package normalizes both
// func-index-vector and expression-vector element formats into.
func elementMembers(e *wasm.Element) ([]uint32, error) {
	if len(e.FuncIdxs) > 0 || len(e.Exprs) == 0 {
		return e.FuncIdxs, nil
	}

	members := make([]uint32, len(e.Exprs))
	for i, expr := range e.Exprs {
		instrs, err := wasm.DecodeInstructions(expr)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err, "decode element expr")
		}
		found := false
		for _, instr := range instrs {
			if instr.Opcode == wasm.OpRefFunc {
				if imm, ok := instr.Imm.(wasm.RefFuncImm); ok {
					members[i] = imm.FuncIdx
					found = true
					break
				}
			}
		}
		if !found {
			members[i] = ^uint32(0) // ref.null or unsupported expr: never a valid devirt target
		}
	}
	return members, nil
}
