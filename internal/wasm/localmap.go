package wasm

import "sort"

// BackwardLocalCounts fixes how many backward-pass locals one source local
// of a given type consumes. Reverse mode uses i32/i64 -> 0 (integer
// adjoints vanish, spec §9) and f32/f64 -> 1 (a single backward local of the
// same type).
type BackwardLocalCounts map[ValueType]int

// ReverseBackwardLocalCounts is the BackwardLocalCounts used by reverse mode.
var ReverseBackwardLocalCounts = BackwardLocalCounts{
	ValueTypeI32: 0,
	ValueTypeI64: 0,
	ValueTypeF32: 1,
	ValueTypeF64: 1,
}

// localMapEntry is one run of count consecutive original locals of type Typ.
type localMapEntry struct {
	typ ValueType
	// keyEnd is the exclusive original-local-index bound of this entry.
	keyEnd Index
	// valEnd is the exclusive backward-local-index bound this entry
	// contributes, zero-based within the backward local space (before the
	// float-result-count offset described in spec §4.A is added).
	valEnd Index
}

// LocalMap maps an original function's local index space to the backward
// local index space (spec §3, "Local map"). Construction is incremental: one
// entry per run of locals sharing a type, matching how the Wasm binary
// format itself groups locals by (count, type) pairs.
type LocalMap struct {
	typeMap BackwardLocalCounts
	entries []localMapEntry
	keys    Index // count_keys(): total original locals pushed so far.
	vals    Index // count_vals(): total backward locals pushed so far.
}

// NewLocalMap constructs an empty LocalMap using typeMap to decide how many
// backward locals each source type consumes.
func NewLocalMap(typeMap BackwardLocalCounts) *LocalMap {
	return &LocalMap{typeMap: typeMap}
}

// Push records a run of count consecutive original locals of type ty.
func (m *LocalMap) Push(count Index, ty ValueType) {
	if count == 0 {
		return
	}
	perLocal := Index(m.typeMap[ty])
	m.keys += count
	m.vals += perLocal * count
	m.entries = append(m.entries, localMapEntry{typ: ty, keyEnd: m.keys, valEnd: m.vals})
}

// Get returns the type of the original local at index, and the zero-based
// backward local index it maps to (valid only when ok is true; integer
// locals have no backward counterpart per spec §9).
func (m *LocalMap) Get(index Index) (ty ValueType, backwardIndex Index, ok bool) {
	// partition-point over entry ends: the first entry whose keyEnd > index.
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].keyEnd > index
	})
	e := m.entries[i]
	ty = e.typ
	perLocal := Index(m.typeMap[ty])
	if perLocal == 0 {
		return ty, 0, false
	}
	// Locals within this entry are contiguous in the backward space too,
	// since every local in the entry shares the same type and thus the same
	// per-local backward-slot width.
	runStart := Index(0)
	if i > 0 {
		runStart = m.entries[i-1].keyEnd
	}
	valStart := e.valEnd - (e.keyEnd-runStart)*perLocal
	return ty, valStart + (index-runStart)*perLocal, true
}

// CountKeys returns the total number of original locals pushed.
func (m *LocalMap) CountKeys() Index { return m.keys }

// CountVals returns the total number of backward locals the map will
// consume (BackwardCount in SPEC_FULL §4.A: callers use this to compute the
// float-result prefix offset of the backward local space).
func (m *LocalMap) CountVals() Index { return m.vals }

// BackwardCount is an alias for CountVals with the name SPEC_FULL §4.A
// gives it at call sites outside this package.
func (m *LocalMap) BackwardCount() Index { return m.CountVals() }

// Keys iterates the source-side entries in order, yielding (count, type) the
// way the Wasm local-declarations encoding groups them.
func (m *LocalMap) Keys(yield func(count Index, ty ValueType)) {
	start := Index(0)
	for _, e := range m.entries {
		yield(e.keyEnd-start, e.typ)
		start = e.keyEnd
	}
}

// Vals iterates the backward-side entries in order, yielding (count, type)
// for only the entries that actually contribute backward locals.
func (m *LocalMap) Vals(yield func(count Index, ty ValueType)) {
	start := Index(0)
	for _, e := range m.entries {
		perLocal := Index(m.typeMap[e.typ])
		if perLocal == 0 {
			start = e.keyEnd
			continue
		}
		n := (e.keyEnd - start) * perLocal
		if n > 0 {
			yield(n, e.typ)
		}
		start = e.keyEnd
	}
}
