package wasmgrad

import "github.com/tetratelabs/wasmgrad/internal/assemble"

// config mirrors the teacher's RuntimeConfig: an immutable value, built up
// by chaining Option functions that each return a modified copy rather than
// mutating in place.
type config struct {
	validate bool
	names    bool
	imports  []assemble.ImportBackward
	exports  []assemble.ExportBackward
}

func defaultConfig() config {
	return config{validate: true}
}

func (c config) clone() config {
	out := c
	out.imports = append([]assemble.ImportBackward{}, c.imports...)
	out.exports = append([]assemble.ExportBackward{}, c.exports...)
	return out
}

// Option configures a Transform call.
type Option func(config) config

// WithValidation toggles full semantic validation of the input module
// (value-type legality, export uniqueness, and so on; the decoder checks
// section ordering either way).
// Disabling it trusts the input is already well-formed, skipping straight
// to decoding — useful when the caller already validated the module itself.
func WithValidation(enabled bool) Option {
	return func(c config) config {
		c = c.clone()
		c.validate = enabled
		return c
	}
}

// WithNames sets the names flag, which Transform passes to the reverse-mode
// assembler as Options.EmitNames. The assembler does not read it and
// neither mode writes a name section, so the output carries none either way.
func WithNames(enabled bool) Option {
	return func(c config) config {
		c = c.clone()
		c.names = enabled
		return c
	}
}

// WithImportMapping names the backward counterpart of an imported function:
// since the transformer never sees an imported function's body, it cannot
// synthesize a backward pass for it, and Transform fails with
// KindMissingImport unless every imported function has one of these.
func WithImportMapping(module, name, bwdModule, bwdName string) Option {
	return func(c config) config {
		c = c.clone()
		c.imports = append(c.imports, assemble.ImportBackward{
			Module: module, Name: name, BackwardModule: bwdModule, BackwardName: bwdName,
		})
		return c
	}
}

// WithExportMapping overrides the default "<name>_bwd" naming for an
// exported function's backward counterpart.
func WithExportMapping(name, bwdName string) Option {
	return func(c config) config {
		c = c.clone()
		c.exports = append(c.exports, assemble.ExportBackward{Name: name, BackwardName: bwdName})
		return c
	}
}
