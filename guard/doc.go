// Package guard implements the admission layers that screen raw user text
// before any LLM call is made: known attack-signature scanning, flip-attack
// detection, the multi-layer intent/relevance filter, and red-team phrase
// detection.
//
// Every check is a pure function over the input text and immutable pattern
// tables loaded at init; rejections are ordinary return values, never errors.
// Layers compose by logical AND: a request proceeds only if every layer
// allows it.
package guard
