// Package language provides unified language code normalization and mapping.
//
// Task overrides and translation targets arrive as ISO 639 codes, English
// names, or BCP 47 tags. This package maps them to the ISO 639-1 code WhisperX
// expects, the canonical tag translation backends take, and the display name
// used in LLM prompts.
package language
