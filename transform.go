// Package wasmgrad transforms a WebAssembly binary module into an
// automatic-differentiation variant of itself: every function gains a
// forward pass (identical primal behavior, plus tape recording) and a
// backward pass (adjoint propagation driven by the tape), so a module
// compiled from ordinary numeric code can be differentiated without its
// source language's compiler ever knowing about gradients.
//
// Transform does not execute WebAssembly itself; it reads and rewrites the
// binary format. Running the output module is the caller's (or, in this
// module's own tests, wazero's) job.
package wasmgrad

import (
	"errors"

	"github.com/tetratelabs/wasmgrad/internal/assemble"
	"github.com/tetratelabs/wasmgrad/internal/forward"
	"github.com/tetratelabs/wasmgrad/internal/wasm"
	"github.com/tetratelabs/wasmgrad/internal/wasm/binary"
)

// Mode selects which differentiation strategy Transform applies.
type Mode int

const (
	// ModeForward produces a tangent-propagation variant: every function
	// gains dual (value, tangent) parameters/locals/results, computed in a
	// single pass with no tape.
	ModeForward Mode = iota

	// ModeReverse produces the tape-based forward/backward pair described
	// in this package's design notes.
	ModeReverse
)

// Transform reads a Wasm binary module and returns its differentiated
// counterpart, encoded back to the Wasm binary format.
func Transform(input []byte, mode Mode, opts ...Option) ([]byte, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		cfg = opt(cfg)
	}

	var validator wasm.Validator = wasm.TrustValidator{}
	if cfg.validate {
		validator = &wasm.ValidatingValidator{}
	}

	src, err := binary.Decode(input, validator)
	if err != nil {
		return nil, decodeErrToPublic(err)
	}

	switch mode {
	case ModeReverse:
		out, err := assemble.Assemble(src, assemble.Options{
			EmitNames:    cfg.names,
			ImportBackwd: cfg.imports,
			ExportBackwd: cfg.exports,
		})
		if err != nil {
			return nil, assembleErrToPublic(err)
		}
		return binary.Encode(out), nil

	case ModeForward:
		out, err := forward.Transform(src)
		if err != nil {
			return nil, newError(KindUnsupportedFeature, -1, "%s", err)
		}
		return binary.Encode(out), nil

	default:
		return nil, newError(KindUnsupportedFeature, -1, "unknown mode %d", mode)
	}
}

func decodeErrToPublic(err error) error {
	var ve *wasm.ValidationError
	if errors.As(err, &ve) {
		kind := KindValidate
		if ve.Unsupported {
			kind = KindUnsupportedFeature
		}
		offset := ve.Offset
		if de, ok := err.(*binary.DecodeError); ok {
			offset = de.Offset
		}
		return newError(kind, offset, "%s", ve.Message)
	}
	if de, ok := err.(*binary.DecodeError); ok {
		return wrapError(KindParse, de.Offset, de.Err)
	}
	return wrapError(KindParse, -1, err)
}

func assembleErrToPublic(err error) error {
	if ae, ok := err.(*assemble.Error); ok {
		switch ae.Kind {
		case "UnsupportedFeature":
			return newError(KindUnsupportedFeature, -1, "%s", ae.Message)
		case "MissingImport":
			return newError(KindMissingImport, -1, "%s", ae.Message)
		}
	}
	return wrapError(KindReencode, -1, err)
}
