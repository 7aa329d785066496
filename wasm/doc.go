// Package wasm provides WebAssembly core binary format parsing and encoding.
//
// The decoder lowers function bodies into flat []Instr slices with fixed
// immediate fields and pre-resolved branch targets for block, loop, if, and
// else, so the interpreter never rescans bytecode at run time.
//
// # Supported Features
//
//	WebAssembly core:
//	  - Numeric types (i32, i64, f32, f64) and reference types
//	    (funcref, externref)
//	  - Functions, a single table, a single fixed-size memory, globals
//	  - Control flow, calls, local/global access, memory and table access
//	  - Sign-extension and saturating truncation instructions
//	  - Import/export of all definition kinds
//
//	Rejected at decode time:
//	  - SIMD (0xFD), atomics (0xFE), GC (0xFB)
//	  - Exception handling, tail calls
//	  - Shared or 64-bit memories
//
// # Parsing
//
// Parse a WebAssembly module from binary:
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Decoding is structural: section framing, ordering, LEB128 encoding,
// index ranges, counts, and UTF-8 names are checked. Instruction type
// checking is deliberately not performed; type and arity errors surface
// as traps during execution.
//
// # Encoding
//
// Encode a module back to binary:
//
//	encoded := module.Encode()
//
// Round-trip parsing and encoding preserves module structure:
//
//	original, _ := wasm.ParseModule(data)
//	roundtrip, _ := wasm.ParseModule(original.Encode())
//	// original and roundtrip are structurally identical
//
// Encode also serves programmatic module construction, which is how the
// package's own tests build fixtures.
//
// # Module Structure
//
// A parsed module contains all sections:
//
//	module.Types      []FuncType    // Function signatures
//	module.Funcs      []Function    // Decoded function bodies
//	module.Tables     []TableType   // Table definitions
//	module.Memories   []MemoryType  // Memory definitions
//	module.Globals    []Global      // Global definitions
//	module.Imports    []Import      // Imported definitions
//	module.Exports    []Export      // Exported definitions
//	module.Data       []DataSegment // Data segments
//	module.Elements   []Element     // Element segments
//
// Modules are immutable after decoding; any number of instances may share
// one Module.
package wasm
