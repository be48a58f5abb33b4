package wasm

// TypeTable duplicates every input FunctionType into a (forward, backward)
// pair in the output type section, per spec §3: output index 2*i is the
// forward form of input type i, 2*i+1 is its backward form.
type TypeTable struct {
	Types []FunctionType
}

// BuildReverseTypeTable emits, for every FunctionType in src, its forward
// form unchanged followed immediately by BackwardType().
func BuildReverseTypeTable(src []FunctionType) *TypeTable {
	t := &TypeTable{Types: make([]FunctionType, 0, 2*len(src))}
	for i := range src {
		t.Types = append(t.Types, src[i], src[i].BackwardType())
	}
	return t
}

// ForwardIndex returns the output typeidx of the forward form of input type i.
func ForwardIndex(i Index) Index { return 2 * i }

// BackwardIndex returns the output typeidx of the backward form of input type i.
func BackwardIndex(i Index) Index { return 2*i + 1 }
