// Package subtitle holds the transcript model shared by every pipeline stage
// and the readers and writers for the formats the worker consumes and
// produces.
//
// A Transcript is an ordered list of cues. Cues carry optional word timing
// (from WhisperX JSON) and an optional translation. SRT is read and written;
// ASS is written with one of the bilingual layouts and a named style. The
// Splitter regroups word timing into sentence-sized cues.
package subtitle
