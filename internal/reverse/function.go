package reverse

import (
	"fmt"

	"github.com/tetratelabs/wasmgrad/internal/wasm"
)

// MemoryIndexer maps an original module's memory index to the output
// module's primal/adjoint pair (spec §3: memory index 2m+TAPE_COUNT is
// primal, 2m+TAPE_COUNT+1 is adjoint).
type MemoryIndexer func(orig wasm.Index) (primal, adjoint wasm.Index)

// CallIndexer maps an original function index to its output forward and
// backward indices (spec §3: HELPER_COUNT+2k forward, HELPER_COUNT+2k+1
// backward).
type CallIndexer func(orig wasm.Index) (fwd, bwd wasm.Index)

// TypeIndexer maps an original type index to its output forward/backward
// pair (spec §3: 2i forward, 2i+1 backward).
type TypeIndexer func(orig wasm.Index) (fwd, bwd wasm.Index)

// GlobalIndexer maps an original global index to its output index, shifted
// by however many fixed tape-control globals the assembler prepends.
type GlobalIndexer func(orig wasm.Index) wasm.Index

// FunctionTransformer walks one original function body and produces its
// forward and backward output bodies (spec §4.D), keeping the operand and
// control stack bookkeeping that basic-block splitting and local-adjoint
// accumulation need.
type FunctionTransformer struct {
	fi *functionInfo

	memIdx    MemoryIndexer
	callIdx   CallIndexer
	typeIdx   TypeIndexer
	globalIdx GlobalIndexer

	// declaredLocalTypes is the original function's own local declarations
	// (not counting params), needed to report the final local layout.
	declaredLocalTypes []wasm.ValueType
}

// NewFunctionTransformer builds a transformer for original function index k
// with the given (param,result) type, declared locals (spec §3's local
// index space: params then declared locals, in order), and the index maps
// the module assembler has already computed for memories/calls/types.
func NewFunctionTransformer(k wasm.Index, ft wasm.FunctionType, declaredLocals []wasm.ValueType, memIdx MemoryIndexer, callIdx CallIndexer, typeIdx TypeIndexer, globalIdx GlobalIndexer) *FunctionTransformer {
	lm := buildLocalMap(ft.Params, declaredLocals)
	fi := newFunctionInfo(k, ft, lm)
	return &FunctionTransformer{fi: fi, memIdx: memIdx, callIdx: callIdx, typeIdx: typeIdx, globalIdx: globalIdx, declaredLocalTypes: declaredLocals}
}

func buildLocalMap(params, locals []wasm.ValueType) *wasm.LocalMap {
	lm := wasm.NewLocalMap(wasm.ReverseBackwardLocalCounts)
	pushRuns(lm, params)
	pushRuns(lm, locals)
	return lm
}

func pushRuns(lm *wasm.LocalMap, types []wasm.ValueType) {
	i := 0
	for i < len(types) {
		j := i + 1
		for j < len(types) && types[j] == types[i] {
			j++
		}
		lm.Push(wasm.Index(j-i), types[i])
		i = j
	}
}

// Transform scans body (the raw instruction bytes, including the
// function-level `end`, which ends the scan) and returns the finished
// forward and backward Code entries.
func (ft *FunctionTransformer) Transform(body []byte) (fwd, bwd wasm.Code, err error) {
	c := newCursor(body, 0)
	fi := ft.fi

	fi.current().forward = ft.emitBlockProlog(fi.current().index)

	if err := ft.scan(c); err != nil {
		return wasm.Code{}, wasm.Code{}, err
	}
	fi.closeBlock()
	fi.allocateStackLocals()

	fwdBody := buildForwardBody(fi)
	fwdBody = wasm.End(fwdBody)

	bwdBody := ft.emitBackwardPrologue()
	bwdBody = append(bwdBody, buildBackwardBody(fi)...)
	bwdBody = append(bwdBody, ft.emitBackwardEpilogue()...)
	bwdBody = wasm.End(bwdBody)

	fwdLocals := fi.fwdLocalTypes(ft.declaredLocalTypes)
	bwdLocals := fi.bwdLocalTypes()

	return wasm.Code{LocalTypes: fwdLocals, Body: fwdBody}, wasm.Code{LocalTypes: bwdLocals, Body: bwdBody}, nil
}

// emitBlockProlog records the current basic block's index onto the i32
// control-flow tape — the forward half of the dispatch-loop mechanism (spec
// §4.E): every basic block, on entry, pushes its own identity so the
// backward pass knows, purely by popping this tape, which block to replay
// next.
func (ft *FunctionTransformer) emitBlockProlog(blockIndex int) []byte {
	var b []byte
	b = wasm.I32Const(b, int32(blockIndex))
	b = wasm.Call(b, HelperIndex("tape_i32"))
	return b
}

// emitBackwardPrologue seeds the stack-locals region from the backward
// function's own incoming parameters — the cotangents the caller is feeding
// in for each of the original function's float-typed results, in order.
// bwdType.Params is exactly the float-filtered original result sequence
// (FunctionType.BackwardType), which by Wasm's own validity guarantee is the
// same sequence the function's last basic block hands off as its exitFloats;
// seeding the stack-locals region (rather than the raw operand stack)
// mirrors how every other block boundary hands values to its neighbor.
func (ft *FunctionTransformer) emitBackwardPrologue() []byte {
	fi := ft.fi
	if len(fi.blocks) == 0 {
		return nil
	}
	last := fi.blocks[len(fi.blocks)-1]
	var b []byte
	var f32n, f64n wasm.Index
	for i, t := range last.exitFloats {
		b = wasm.LocalGet(b, wasm.Index(i))
		if t == wasm.ValueTypeF32 {
			b = wasm.LocalSet(b, fi.bwdStackF32Base+f32n)
			f32n++
		} else {
			b = wasm.LocalSet(b, fi.bwdStackF64Base+f64n)
			f64n++
		}
	}
	return b
}

// emitBackwardEpilogue reads out the accumulated adjoint of every original
// parameter (skipping integers, which have none) in parameter order,
// producing the backward function's declared results.
func (ft *FunctionTransformer) emitBackwardEpilogue() []byte {
	var b []byte
	for i := wasm.Index(0); i < wasm.Index(len(ft.fi.fwdType.Params)); i++ {
		ty, bwdIdx, ok := ft.bwdLocal(i)
		if !ok || !wasm.IsFloat(ty) {
			continue
		}
		b = wasm.LocalGet(b, bwdIdx)
	}
	return b
}

// bwdLocal resolves an original local to its backward local index: the
// LocalMap's zero-based index shifted past the backward function's params
// (one cotangent per float result).
func (ft *FunctionTransformer) bwdLocal(origIdx wasm.Index) (wasm.ValueType, wasm.Index, bool) {
	ty, bwdIdx, ok := ft.fi.locals.Get(origIdx)
	return ty, bwdIdx + wasm.Index(len(ft.fi.bwdType.Params)), ok
}

func (ft *FunctionTransformer) accumulate(origIdx wasm.Index) ([]byte, wasm.ValueType, bool) {
	ty, bwdIdx, ok := ft.bwdLocal(origIdx)
	if !ok {
		return nil, 0, false
	}
	var b []byte
	b = wasm.LocalGet(b, bwdIdx)
	b = wasm.Op(b, addOpFor(ty))
	b = wasm.LocalSet(b, bwdIdx)
	return b, ty, true
}

func addOpFor(ty wasm.ValueType) wasm.Opcode {
	if ty == wasm.ValueTypeF32 {
		return wasm.OpcodeF32Add
	}
	return wasm.OpcodeF64Add
}

func zeroOpFor(ty wasm.ValueType) []byte {
	if ty == wasm.ValueTypeF32 {
		return wasm.F32Const(nil, 0)
	}
	return wasm.F64Const(nil, 0)
}

// readAndReset emits: push the current accumulator value, then reset the
// accumulator to zero — the backward counterpart of `local.set` severing
// the dependency chain at that assignment point (spec §4.D). handleLocalSet
// builds the `local.tee` variant, which first adds the tee result's adjoint.
func (ft *FunctionTransformer) readAndReset(bwdIdx wasm.Index, ty wasm.ValueType) []byte {
	var b []byte
	b = wasm.LocalGet(b, bwdIdx)
	b = append(b, zeroOpFor(ty)...)
	b = wasm.LocalSet(b, bwdIdx)
	return b
}

// scan walks the body one opcode at a time, emitting the forward
// instruction unchanged (mostly) into the current basic block's forward
// stream, and the matching backward chunk (possibly empty) into the
// current block's backward chunk list.
func (ft *FunctionTransformer) scan(c *cursor) error {
	fi := ft.fi
	for {
		op, err := c.readByte()
		if err != nil {
			return fmt.Errorf("reading opcode: %w", err)
		}
		switch op {
		case wasm.OpcodeEnd:
			if fi.control.depth() == 0 {
				return nil
			}
			ft.handleEnd()

		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			bt, err := c.readBlockType()
			if err != nil {
				return err
			}
			ft.handleEnter(op, bt)

		case wasm.OpcodeElse:
			ft.handleElse()

		case wasm.OpcodeBr:
			depth, err := c.readU32()
			if err != nil {
				return err
			}
			ft.emitForward(wasm.Br(nil, depth))
			fi.current().terminator = termBr
			fi.newBlock()
			ft.emitForward(ft.emitBlockProlog(fi.current().index))

		case wasm.OpcodeBrIf:
			depth, err := c.readU32()
			if err != nil {
				return err
			}
			fi.pop() // condition, i32, no backward
			ft.emitForward(wasm.BrIf(nil, depth))
			fi.current().terminator = termBrIf
			fi.newBlock()
			ft.emitForward(ft.emitBlockProlog(fi.current().index))

		case wasm.OpcodeBrTable:
			labels, err := decodeBrTableLabels(c)
			if err != nil {
				return err
			}
			fi.pop()
			ft.emitForward(wasm.BrTable(nil, labels[:len(labels)-1], labels[len(labels)-1]))
			fi.current().terminator = termBrTable
			fi.newBlock()
			ft.emitForward(ft.emitBlockProlog(fi.current().index))

		case wasm.OpcodeReturn:
			ft.emitForward(wasm.Op(nil, wasm.OpcodeReturn))

		case wasm.OpcodeUnreachable:
			ft.emitForward(wasm.Op(nil, wasm.OpcodeUnreachable))

		case wasm.OpcodeCallIndirect:
			return fmt.Errorf("call_indirect is not supported")

		case wasm.OpcodeCall:
			idx, err := c.readU32()
			if err != nil {
				return err
			}
			if err := ft.handleCall(idx); err != nil {
				return err
			}

		case wasm.OpcodeDrop:
			ft.handleDrop()

		case wasm.OpcodeLocalGet:
			idx, err := c.readU32()
			if err != nil {
				return err
			}
			ft.handleLocalGet(idx)

		case wasm.OpcodeLocalSet:
			idx, err := c.readU32()
			if err != nil {
				return err
			}
			ft.handleLocalSet(idx, false)

		case wasm.OpcodeLocalTee:
			idx, err := c.readU32()
			if err != nil {
				return err
			}
			ft.handleLocalSet(idx, true)

		case wasm.OpcodeGlobalGet:
			idx, err := c.readU32()
			if err != nil {
				return err
			}
			ft.emitForward(wasm.GlobalGet(nil, ft.globalIdx(idx)))
			fi.push(wasm.ValueTypeI32) // globals treated as non-differentiable (Non-goal)

		case wasm.OpcodeGlobalSet:
			idx, err := c.readU32()
			if err != nil {
				return err
			}
			fi.pop()
			ft.emitForward(wasm.GlobalSet(nil, ft.globalIdx(idx)))

		case wasm.OpcodeI32Const:
			v, err := c.readI32()
			if err != nil {
				return err
			}
			ft.emitForward(wasm.I32Const(nil, v))
			fi.push(wasm.ValueTypeI32)

		case wasm.OpcodeI64Const:
			v, err := c.readI64()
			if err != nil {
				return err
			}
			ft.emitForward(wasm.I64Const(nil, v))
			fi.push(wasm.ValueTypeI64)

		case wasm.OpcodeF32Const:
			v, err := c.readF32Bits()
			if err != nil {
				return err
			}
			ft.emitForward(wasm.F32Const(nil, v))
			fi.push(wasm.ValueTypeF32)
			// A literal has no inputs: its backward discards the adjoint.
			fi.current().appendBackward(wasm.Drop(nil))

		case wasm.OpcodeF64Const:
			v, err := c.readF64Bits()
			if err != nil {
				return err
			}
			ft.emitForward(wasm.F64Const(nil, v))
			fi.push(wasm.ValueTypeF64)
			fi.current().appendBackward(wasm.Drop(nil))

		default:
			if err := ft.handleOpDefault(c, op); err != nil {
				return err
			}
		}
	}
}

func decodeBrTableLabels(c *cursor) ([]wasm.Index, error) {
	count, err := c.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Index, 0, count+1)
	for i := uint32(0); i < count; i++ {
		l, err := c.readU32()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	def, err := c.readU32()
	if err != nil {
		return nil, err
	}
	out = append(out, def)
	return out, nil
}

func (ft *FunctionTransformer) emitForward(b []byte) {
	ft.fi.current().forward = append(ft.fi.current().forward, b...)
}

// handleDrop: a dropped float's adjoint is zero, so its backward pushes a
// zero for the producer's backward chunk to consume; integers have none.
func (ft *FunctionTransformer) handleDrop() {
	ty := ft.fi.pop()
	ft.emitForward(wasm.Drop(nil))
	if wasm.IsFloat(ty) {
		ft.fi.current().appendBackward(zeroOpFor(ty))
	}
}

func (ft *FunctionTransformer) handleLocalGet(idx wasm.Index) {
	ty, _, hasBwd := ft.fi.locals.Get(idx)
	ft.emitForward(wasm.LocalGet(nil, idx))
	ft.fi.push(ty)
	if hasBwd && wasm.IsFloat(ty) {
		// Backward: the adjoint of the value this `local.get` pushed (now
		// sitting on the backward value stack, conceptually the top of the
		// reversed operand stack at this point) is added into the local's
		// running accumulator.
		chunk, _, _ := ft.accumulate(idx)
		ft.fi.current().appendBackward(chunk)
	}
}

func (ft *FunctionTransformer) handleLocalSet(idx wasm.Index, isTee bool) {
	ty := ft.fi.pop()
	if isTee {
		ft.fi.push(ty)
		ft.emitForward(wasm.LocalTee(nil, idx))
	} else {
		ft.emitForward(wasm.LocalSet(nil, idx))
	}
	bwdTy, bwdIdx, hasBwd := ft.bwdLocal(idx)
	if hasBwd && wasm.IsFloat(bwdTy) {
		if !isTee {
			ft.fi.current().appendBackward(ft.readAndReset(bwdIdx, bwdTy))
			return
		}
		// The tee result's adjoint is on top: add the accumulator to it,
		// then reset the accumulator.
		var chunk []byte
		chunk = wasm.LocalGet(chunk, bwdIdx)
		chunk = wasm.Op(chunk, addOpFor(bwdTy))
		chunk = append(chunk, zeroOpFor(bwdTy)...)
		chunk = wasm.LocalSet(chunk, bwdIdx)
		ft.fi.current().appendBackward(chunk)
	}
}

func (ft *FunctionTransformer) handleEnter(op wasm.Opcode, bt blockTypeRaw) {
	fi := ft.fi
	kind := frameBlock
	if op == wasm.OpcodeLoop {
		kind = frameLoop
	} else if op == wasm.OpcodeIf {
		kind = frameIf
		fi.pop() // condition
	}
	fi.control.push(controlFrame{kind: kind, stackHeightAtEntry: fi.height()})

	ft.emitForward(wasm.Op(nil, op))
	typeIdx := bt.typeIdx
	if bt.hasTypeIdx {
		typeIdx, _ = ft.typeIdx(bt.typeIdx)
	}
	ft.emitForward(wasm.BlockType(nil, bt.empty, bt.single, bt.hasSingle, typeIdx, bt.hasTypeIdx))

	fi.newBlock()
	ft.emitForward(ft.emitBlockProlog(fi.current().index))
}

// handleElse closes the then-arm's block at its real exit height, then
// resets the operand-type bookkeeping back to the `if`'s entry height before
// opening the else-arm's block — the then and else arms start from the same
// stack shape (the `if` condition having already been popped), so the else
// arm must not inherit whatever the then-arm happened to leave behind.
func (ft *FunctionTransformer) handleElse() {
	fi := ft.fi
	frame := fi.control.top()
	frame.hasElse = true
	fi.closeBlock()
	fi.operandTypes = fi.operandTypes[:frame.stackHeightAtEntry]
	ft.emitForward(wasm.Else(nil))
	fi.startBlock(fi.liveFloatSequence())
	ft.emitForward(ft.emitBlockProlog(fi.current().index))
}

// handleEnd closes the current control frame and starts a fresh basic block
// for whatever follows — `end` is a basic-block boundary, so code after an
// if/else must not be merged into whichever arm happened to be scanned last.
func (ft *FunctionTransformer) handleEnd() {
	ft.fi.control.pop()
	ft.emitForward(wasm.End(nil))
	ft.fi.newBlock()
	ft.emitForward(ft.emitBlockProlog(ft.fi.current().index))
}

func (ft *FunctionTransformer) handleCall(orig wasm.Index) error {
	fwdIdx, _ := ft.callIdx(orig)
	ft.emitForward(wasm.Call(nil, fwdIdx))
	return nil
}

// handleOpDefault covers plain value-producing/consuming opcodes: integer
// and float arithmetic, comparisons, conversions, and linear memory
// load/store. Integer ops and conversions among integers are copied through
// with no backward chunk; float comparisons and float-typed conversions get
// the backward chunk handlePassthrough builds; float arithmetic routes
// through the tape runtime library helpers built in tape.go/helpers.go.
func (ft *FunctionTransformer) handleOpDefault(c *cursor, op wasm.Opcode) error {
	switch {
	case op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32:
		return ft.handleMemOp(c, op)

	case isFloatBinary(op):
		return ft.handleFloatBinary(op)

	case isFloatUnary(op):
		return ft.handleFloatUnary(op)

	case isIntArith(op) || isComparison(op) || isConversion(op) || isBitwise(op):
		// Structurally a pop-N/push-M opcode: forward the opcode unchanged
		// and adjust the type stack.
		return ft.handlePassthrough(op)

	default:
		// Opcodes this transformer does not specially recognize are still
		// copied through verbatim with no backward effect (e.g. nop).
		ft.emitForward(wasm.Op(nil, op))
		return nil
	}
}

func (ft *FunctionTransformer) handleMemOp(c *cursor, op wasm.Opcode) error {
	ma, err := c.readMemArg()
	if err != nil {
		return err
	}
	primal, _ := ft.memIdx(ma.MemIdx)
	isStore := op >= wasm.OpcodeI32Store && op <= wasm.OpcodeI64Store32
	if isStore {
		ft.fi.pop() // value
		ft.fi.pop() // address
	} else {
		ft.fi.pop() // address
		ft.fi.push(loadResultType(op))
	}
	var b []byte
	b = append(b, op)
	b = wasm.MemArg(b, ma.AlignLog2, primal, ma.Offset)
	ft.emitForward(b)
	// Differentiable memory traffic (primal<->adjoint mirroring) is handled
	// at the module-assembly layer for float-typed globals/params; a bare
	// load/store of a scalar local value within a function body carries no
	// separate backward action here (its adjoint, if any, already lives in
	// a local accumulator, not in linear memory).
	return nil
}

func loadResultType(op wasm.Opcode) wasm.ValueType {
	switch op {
	case wasm.OpcodeF32Load:
		return wasm.ValueTypeF32
	case wasm.OpcodeF64Load:
		return wasm.ValueTypeF64
	case wasm.OpcodeI64Load, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U, wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
		return wasm.ValueTypeI64
	default:
		return wasm.ValueTypeI32
	}
}

func (ft *FunctionTransformer) handlePassthrough(op wasm.Opcode) error {
	arity := popArity(op)
	var operand wasm.ValueType
	for i := 0; i < arity; i++ {
		operand = ft.fi.pop()
	}
	res := resultTypeOf(op)
	ft.fi.push(res)
	ft.emitForward(wasm.Op(nil, op))

	// Backward: demote/promote convert the adjoint back to the operand's
	// width; any other float result's adjoint is discarded, and float
	// operands of an integer-result op get zero adjoints.
	var bwd []byte
	switch {
	case op == wasm.OpcodeF32DemoteF64:
		bwd = wasm.Op(bwd, wasm.OpcodeF64PromoteF32)
	case op == wasm.OpcodeF64PromoteF32:
		bwd = wasm.Op(bwd, wasm.OpcodeF32DemoteF64)
	case wasm.IsFloat(res):
		bwd = wasm.Drop(bwd)
	case wasm.IsFloat(operand):
		for i := 0; i < arity; i++ {
			bwd = append(bwd, zeroOpFor(operand)...)
		}
	}
	ft.fi.current().appendBackward(bwd)
	return nil
}

func (ft *FunctionTransformer) handleFloatBinary(op wasm.Opcode) error {
	fi := ft.fi
	w := widthOf(op)
	fi.pop()
	fi.pop()
	fi.push(w.ValueType())

	switch op {
	case wasm.OpcodeF32Add, wasm.OpcodeF64Add:
		ft.emitForward(wasm.Op(nil, op))
		// d(a+b) = (adj, adj): both operands receive the incoming adjoint
		// unchanged; duplicate it via a scratch local rather than a tape call.
		fi.current().appendBackward(ft.dupAdjoint(w))
	case wasm.OpcodeF32Sub, wasm.OpcodeF64Sub:
		ft.emitForward(wasm.Op(nil, op))
		// d(a-b) = (adj, -adj); the second (top) copy is negated.
		fi.current().appendBackward(ft.dupNegAdjoint(w))
	case wasm.OpcodeF32Mul, wasm.OpcodeF64Mul:
		ft.emitForward(wasm.Call(nil, HelperIndex(wname(w, "mul_fwd"))))
		fi.current().appendBackward(wasm.Call(nil, HelperIndex(wname(w, "mul_bwd"))))
	case wasm.OpcodeF32Div, wasm.OpcodeF64Div:
		ft.emitForward(wasm.Call(nil, HelperIndex(wname(w, "div_fwd"))))
		fi.current().appendBackward(wasm.Call(nil, HelperIndex(wname(w, "div_bwd"))))
	case wasm.OpcodeF32Min, wasm.OpcodeF64Min:
		ft.emitForward(wasm.Call(nil, HelperIndex(wname(w, "min_fwd"))))
		fi.current().appendBackward(wasm.Call(nil, HelperIndex(wname(w, "min_bwd"))))
	case wasm.OpcodeF32Max, wasm.OpcodeF64Max:
		ft.emitForward(wasm.Call(nil, HelperIndex(wname(w, "max_fwd"))))
		fi.current().appendBackward(wasm.Call(nil, HelperIndex(wname(w, "max_bwd"))))
	default:
		ft.emitForward(wasm.Op(nil, op))
	}
	return nil
}

// dupAdjoint duplicates the top-of-stack adjoint via a scratch local: pop it
// in, push two copies back (bottom = operand a's share, top = operand b's).
func (ft *FunctionTransformer) dupAdjoint(w ValWidth) []byte {
	tmp := ft.fi.bwdScratchTmp(w)
	var b []byte
	b = wasm.LocalSet(b, tmp)
	b = wasm.LocalGet(b, tmp)
	b = wasm.LocalGet(b, tmp)
	return b
}

// dupNegAdjoint is dupAdjoint but negates the top (second/b-operand) copy,
// for f32.sub/f64.sub.
func (ft *FunctionTransformer) dupNegAdjoint(w ValWidth) []byte {
	tmp := ft.fi.bwdScratchTmp(w)
	var b []byte
	b = wasm.LocalSet(b, tmp)
	b = wasm.LocalGet(b, tmp)
	b = wasm.LocalGet(b, tmp)
	b = wasm.Op(b, w.negOp())
	return b
}

func (ft *FunctionTransformer) handleFloatUnary(op wasm.Opcode) error {
	fi := ft.fi
	w := widthOf(op)
	fi.pop()
	fi.push(w.ValueType())

	switch op {
	case wasm.OpcodeF32Neg, wasm.OpcodeF64Neg:
		ft.emitForward(wasm.Op(nil, op))
		// d(-a) = -adj: negation is its own backward operator, pop1/push1.
		fi.current().appendBackward(wasm.Op(nil, w.negOp()))
	case wasm.OpcodeF32Sqrt, wasm.OpcodeF64Sqrt:
		ft.emitForward(wasm.Call(nil, HelperIndex(wname(w, "sqrt_fwd"))))
		fi.current().appendBackward(wasm.Call(nil, HelperIndex(wname(w, "sqrt_bwd"))))
	case wasm.OpcodeF32Abs, wasm.OpcodeF64Abs:
		ft.emitForward(wasm.Call(nil, HelperIndex(wname(w, "abs_fwd"))))
		fi.current().appendBackward(wasm.Call(nil, HelperIndex(wname(w, "abs_bwd"))))
	default:
		ft.emitForward(wasm.Op(nil, op))
	}
	return nil
}

func widthOf(op wasm.Opcode) ValWidth {
	if op >= wasm.OpcodeF32Abs && op <= wasm.OpcodeF32Copysign {
		return Width32
	}
	return Width64
}

func isFloatBinary(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeF32Add, wasm.OpcodeF32Sub, wasm.OpcodeF32Mul, wasm.OpcodeF32Div, wasm.OpcodeF32Min, wasm.OpcodeF32Max,
		wasm.OpcodeF64Add, wasm.OpcodeF64Sub, wasm.OpcodeF64Mul, wasm.OpcodeF64Div, wasm.OpcodeF64Min, wasm.OpcodeF64Max:
		return true
	}
	return false
}

func isFloatUnary(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeF32Neg, wasm.OpcodeF32Sqrt, wasm.OpcodeF32Abs, wasm.OpcodeF32Ceil, wasm.OpcodeF32Floor, wasm.OpcodeF32Trunc, wasm.OpcodeF32Nearest,
		wasm.OpcodeF64Neg, wasm.OpcodeF64Sqrt, wasm.OpcodeF64Abs, wasm.OpcodeF64Ceil, wasm.OpcodeF64Floor, wasm.OpcodeF64Trunc, wasm.OpcodeF64Nearest:
		return true
	}
	return false
}

func isIntArith(op wasm.Opcode) bool {
	return op >= wasm.OpcodeI32Clz && op <= wasm.OpcodeI64Rotr
}

func isBitwise(op wasm.Opcode) bool {
	return op >= wasm.OpcodeI32Eqz && op <= wasm.OpcodeI64GeU
}

func isComparison(op wasm.Opcode) bool {
	return op >= wasm.OpcodeF32Eq && op <= wasm.OpcodeF64Ge
}

func isConversion(op wasm.Opcode) bool {
	return (op >= wasm.OpcodeI32WrapI64 && op <= wasm.OpcodeF64PromoteF32) ||
		(op >= wasm.OpcodeI32ReinterpretF32 && op <= wasm.OpcodeF64ReinterpretI64) ||
		(op >= wasm.OpcodeI32Extend8S && op <= wasm.OpcodeI64Extend32S)
}

func popArity(op wasm.Opcode) int {
	switch {
	case op == wasm.OpcodeI32Eqz || op == wasm.OpcodeI64Eqz:
		return 1
	case op >= wasm.OpcodeI32Clz && op <= wasm.OpcodeI32Popcnt:
		return 1
	case op >= wasm.OpcodeI64Clz && op <= wasm.OpcodeI64Popcnt:
		return 1
	case isConversion(op):
		return 1
	default:
		return 2
	}
}

func resultTypeOf(op wasm.Opcode) wasm.ValueType {
	switch {
	case isComparison(op):
		return wasm.ValueTypeI32
	case op >= wasm.OpcodeI32Clz && op <= wasm.OpcodeI32Rotr, op == wasm.OpcodeI32Eqz:
		return wasm.ValueTypeI32
	case op >= wasm.OpcodeI64Clz && op <= wasm.OpcodeI64Rotr:
		return wasm.ValueTypeI64
	case op == wasm.OpcodeI64Eqz:
		return wasm.ValueTypeI32
	case op == wasm.OpcodeI32WrapI64:
		return wasm.ValueTypeI32
	case op == wasm.OpcodeI32TruncF32S || op == wasm.OpcodeI32TruncF32U || op == wasm.OpcodeI32TruncF64S || op == wasm.OpcodeI32TruncF64U:
		return wasm.ValueTypeI32
	case op == wasm.OpcodeI64ExtendI32S || op == wasm.OpcodeI64ExtendI32U || op == wasm.OpcodeI64TruncF32S || op == wasm.OpcodeI64TruncF32U || op == wasm.OpcodeI64TruncF64S || op == wasm.OpcodeI64TruncF64U:
		return wasm.ValueTypeI64
	case op == wasm.OpcodeF32ConvertI32S || op == wasm.OpcodeF32ConvertI32U || op == wasm.OpcodeF32ConvertI64S || op == wasm.OpcodeF32ConvertI64U || op == wasm.OpcodeF32DemoteF64:
		return wasm.ValueTypeF32
	case op == wasm.OpcodeF64ConvertI32S || op == wasm.OpcodeF64ConvertI32U || op == wasm.OpcodeF64ConvertI64S || op == wasm.OpcodeF64ConvertI64U || op == wasm.OpcodeF64PromoteF32:
		return wasm.ValueTypeF64
	case op == wasm.OpcodeI32ReinterpretF32:
		return wasm.ValueTypeI32
	case op == wasm.OpcodeI64ReinterpretF64:
		return wasm.ValueTypeI64
	case op == wasm.OpcodeF32ReinterpretI32:
		return wasm.ValueTypeF32
	case op == wasm.OpcodeF64ReinterpretI64:
		return wasm.ValueTypeF64
	case op >= wasm.OpcodeI32Extend8S && op <= wasm.OpcodeI32Extend16S:
		return wasm.ValueTypeI32
	case op >= wasm.OpcodeI64Extend8S && op <= wasm.OpcodeI64Extend32S:
		return wasm.ValueTypeI64
	default:
		return wasm.ValueTypeI32
	}
}
