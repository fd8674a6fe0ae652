// Package devirt implements the indirect-call profiling and devirtualization
// passes: profile resolution, call-site inventory, stub synthesis, call-site
// rewriting, fastcall/slowcall classification, and observation wiring.
//
// The five passes run in fixed order against a single *wasm.Module, the way
// asyncify's Engine.Transform orchestrates its own pipeline: parse once,
// mutate in place, re-encode once.
package devirt
