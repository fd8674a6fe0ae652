package devirt

import (
	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/wasm"
)

// Node wraps one instruction slot within a Sequence. Then/Else point at
// child Sequence IDs for structured control flow (-1 when absent), giving
// the flat []wasm.Instruction list a navigable forest shape without
// duplicating the teacher's decoder: End and Else bytes are structural
// boundaries between sequences and are not stored as Nodes themselves.
type Node struct {
	Instr wasm.Instruction
	Then  int
	Else  int
}

// Sequence is one instruction sequence: the function's entry body, or the
// body of a block/loop/if-then/if-else.
type Sequence struct {
	ID    int
	Nodes []Node
}

// Body is a function's bytecode parsed into a forest of Sequences.
type Body struct {
	Seqs    []*Sequence
	EntryID int
}

// ParseBody decodes raw function bytecode into a Body. It supports the
// structured constructs named in spec.md §4.2 (block, loop, if-then,
// if-else); exception-handling constructs are rejected as unsupported
// since this tool's target modules do not use them.
func ParseBody(code []byte) (*Body, error) {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "decode function body")
	}
	return parseBody(instrs)
}

type seqFrame struct {
	seqID       int
	isIf        bool
	ownerSeqID  int
	ownerNodeAt int
}

func parseBody(instrs []wasm.Instruction) (*Body, error) {
	b := &Body{}
	newSeq := func() int {
		id := len(b.Seqs)
		b.Seqs = append(b.Seqs, &Sequence{ID: id})
		return id
	}

	b.EntryID = newSeq()
	stack := []seqFrame{{seqID: b.EntryID, ownerSeqID: -1, ownerNodeAt: -1}}

	for _, instr := range instrs {
		top := &stack[len(stack)-1]

		switch instr.Opcode {
		case wasm.OpEnd:
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				continue
			}

		case wasm.OpElse:
			if !top.isIf {
				return nil, errors.InvalidData(errors.PhaseDecode, nil, "else outside if construct")
			}
			elseID := newSeq()
			owner := b.Seqs[top.ownerSeqID]
			owner.Nodes[top.ownerNodeAt].Else = elseID
			top.seqID = elseID

		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			cur := b.Seqs[top.seqID]
			nodeAt := len(cur.Nodes)
			cur.Nodes = append(cur.Nodes, Node{Instr: instr, Then: -1, Else: -1})
			childID := newSeq()
			cur.Nodes[nodeAt].Then = childID
			stack = append(stack, seqFrame{
				seqID:       childID,
				isIf:        instr.Opcode == wasm.OpIf,
				ownerSeqID:  top.seqID,
				ownerNodeAt: nodeAt,
			})

		case wasm.OpTry, wasm.OpCatch, wasm.OpCatchAll, wasm.OpThrow, wasm.OpRethrow,
			wasm.OpDelegate, wasm.OpTryTable, wasm.OpThrowRef:
			return nil, errors.Unsupported(errors.PhaseDecode, "exception-handling constructs in call-site inventory")

		default:
			cur := b.Seqs[top.seqID]
			cur.Nodes = append(cur.Nodes, Node{Instr: instr, Then: -1, Else: -1})
		}
	}

	return b, nil
}

// Flatten reconstructs a flat instruction list suitable for
// wasm.EncodeInstructions, re-synthesizing the End/Else boundaries that
// ParseBody dropped.
func (b *Body) Flatten() []wasm.Instruction {
	var out []wasm.Instruction
	b.flattenSeq(b.EntryID, &out)
	out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	return out
}

func (b *Body) flattenSeq(id int, out *[]wasm.Instruction) {
	seq := b.Seqs[id]
	for _, node := range seq.Nodes {
		*out = append(*out, node.Instr)
		if node.Then == -1 {
			continue
		}
		b.flattenSeq(node.Then, out)
		if node.Else != -1 {
			*out = append(*out, wasm.Instruction{Opcode: wasm.OpElse})
			b.flattenSeq(node.Else, out)
		}
		*out = append(*out, wasm.Instruction{Opcode: wasm.OpEnd})
	}
}

// Encode parses, then immediately re-flattens and encodes raw bytecode: a
// ParseBody/Flatten round trip over one function body.
func Encode(code []byte) ([]byte, error) {
	b, err := ParseBody(code)
	if err != nil {
		return nil, err
	}
	return wasm.EncodeInstructions(b.Flatten()), nil
}
