package wasm

import "fmt"

// ValidationError is a semantic ("this Wasm is malformed/illegal") or
// unsupported-feature error raised by a Validator hook. The binary decoder
// wraps these with byte-offset context before they reach the caller (spec
// §7: "position-annotated message when available").
type ValidationError struct {
	Offset  int
	Message string
	// Unsupported marks this as an UnsupportedFeature rather than a plain
	// Parse/Validate error (spec §6 error taxonomy).
	Unsupported bool
}

func (e *ValidationError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("offset %d: %s", e.Offset, e.Message)
	}
	return e.Message
}

func unsupported(offset int, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Offset: offset, Message: fmt.Sprintf(format, args...), Unsupported: true}
}

func invalid(offset int, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// Validator is a polymorphic interface over "validate input" vs "trust
// input" (spec §4.C). Both implementations expose the same hooks; the
// no-op implementation returns nil from every hook unconditionally so a
// release build's inliner can eliminate the call sites entirely.
type Validator interface {
	Payload(magicAndVersion []byte) error
	TypeSection(types []FunctionType) error
	FunctionSection(typeIdxs []Index, numTypes int) error
	MemorySection(mems []Memory) error
	GlobalSection(globals []Global) error
	ExportSection(exports []Export, funcCount, memCount, globalCount Index) error
	CodeSectionEntry(funcIdx Index, sig *FunctionType) error
	DefineLocals(funcIdx Index, localTypes []ValueType) error
	Op(offset int, op Opcode) error
	Finish(offset int) error
	// HeightCheck is an internal-consistency assertion hook (spec §7): it is
	// never user-facing and a no-op Validator always accepts it.
	HeightCheck(have, want int) error
}

// ValidatingValidator performs structural and the Wasm-1.0-plus-floats
// semantic checks this module cares about: well-formed sections, in-range
// indices, and UnsupportedFeature rejection of SIMD and reference value
// types, SIMD instructions, call_indirect, table exports, more than one
// module-defined memory and mutable module-defined globals. Imports reach
// no hook, so unsupported import kinds are not rejected here.
type ValidatingValidator struct {
	AllowMutableGlobals bool
}

func (v *ValidatingValidator) Payload(b []byte) error {
	if len(b) != 8 || string(b[:4]) != "\x00asm" {
		return invalid(0, "invalid magic number")
	}
	return nil
}

func (v *ValidatingValidator) TypeSection(types []FunctionType) error {
	for i := range types {
		for _, p := range types[i].Params {
			if err := v.checkValueType(p); err != nil {
				return err
			}
		}
		for _, r := range types[i].Results {
			if err := v.checkValueType(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *ValidatingValidator) checkValueType(t ValueType) error {
	switch t {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return nil
	case ValueTypeV128:
		return unsupported(-1, "SIMD (v128) is not supported")
	case ValueTypeFuncref, ValueTypeExternref:
		return unsupported(-1, "reference types are not supported")
	default:
		return invalid(-1, "invalid value type 0x%x", t)
	}
}

func (v *ValidatingValidator) FunctionSection(typeIdxs []Index, numTypes int) error {
	for _, idx := range typeIdxs {
		if int(idx) >= numTypes {
			return invalid(-1, "function type index %d out of range", idx)
		}
	}
	return nil
}

func (v *ValidatingValidator) MemorySection(mems []Memory) error {
	if len(mems) > 1 {
		return unsupported(-1, "at most one module-defined memory is supported")
	}
	return nil
}

func (v *ValidatingValidator) GlobalSection(globals []Global) error {
	for i := range globals {
		if globals[i].Type.Mutable && !v.AllowMutableGlobals {
			return unsupported(-1, "mutable globals at module scope are not supported (see SPEC_FULL open question)")
		}
		if err := v.checkValueType(globals[i].Type.ValType); err != nil {
			return err
		}
	}
	return nil
}

func (v *ValidatingValidator) ExportSection(exports []Export, funcCount, memCount, globalCount Index) error {
	seen := make(map[string]struct{}, len(exports))
	for i := range exports {
		e := &exports[i]
		if _, dup := seen[e.Name]; dup {
			return invalid(-1, "duplicate export name %q", e.Name)
		}
		seen[e.Name] = struct{}{}
		var bound Index
		switch e.Type {
		case ExternTypeFunc:
			bound = funcCount
		case ExternTypeMemory:
			bound = memCount
		case ExternTypeGlobal:
			bound = globalCount
		case ExternTypeTable:
			return unsupported(-1, "table exports are not supported")
		default:
			return invalid(-1, "invalid export type 0x%x", e.Type)
		}
		if e.Index >= bound {
			return invalid(-1, "export %q index %d out of range", e.Name, e.Index)
		}
	}
	return nil
}

func (v *ValidatingValidator) CodeSectionEntry(funcIdx Index, sig *FunctionType) error {
	return nil
}

func (v *ValidatingValidator) DefineLocals(funcIdx Index, localTypes []ValueType) error {
	for _, t := range localTypes {
		if err := v.checkValueType(t); err != nil {
			return err
		}
	}
	return nil
}

func (v *ValidatingValidator) Op(offset int, op Opcode) error {
	switch op {
	case OpcodeVecPrefix:
		return unsupported(offset, "SIMD instructions are not supported")
	case OpcodeCallIndirect:
		return unsupported(offset, "call_indirect is not supported (no table support)")
	}
	return nil
}

func (v *ValidatingValidator) Finish(offset int) error { return nil }

func (v *ValidatingValidator) HeightCheck(have, want int) error {
	if have != want {
		return invalid(-1, "internal error: operand-stack height mismatch: have %d want %d", have, want)
	}
	return nil
}

// TrustValidator is the "trust me" Validator: every hook is a no-op. The
// decoder still has to parse structurally-well-formed LEB128/bytes to make
// any progress at all; TrustValidator only skips the semantic checks above.
type TrustValidator struct{}

func (TrustValidator) Payload([]byte) error                                       { return nil }
func (TrustValidator) TypeSection([]FunctionType) error                           { return nil }
func (TrustValidator) FunctionSection([]Index, int) error                         { return nil }
func (TrustValidator) MemorySection([]Memory) error                              { return nil }
func (TrustValidator) GlobalSection([]Global) error                              { return nil }
func (TrustValidator) ExportSection([]Export, Index, Index, Index) error         { return nil }
func (TrustValidator) CodeSectionEntry(Index, *FunctionType) error               { return nil }
func (TrustValidator) DefineLocals(Index, []ValueType) error                     { return nil }
func (TrustValidator) Op(int, Opcode) error                                      { return nil }
func (TrustValidator) Finish(int) error                                          { return nil }
func (TrustValidator) HeightCheck(int, int) error                                { return nil }
