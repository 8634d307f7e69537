// Package textutil provides text processing utilities for fingerprinting,
// similarity, and path token sanitization.
//
// Fingerprints are term frequency vectors over rune bigrams of the letters
// and digits in a string, so they behave the same for spaced scripts and CJK
// text. The optimizer uses Similarity to reject rewrites that drift too far
// from the recognized line.
package textutil
