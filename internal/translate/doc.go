// Package translate turns subtitle lines into the configured target language.
//
// A Backend describes one of four services (llm, deeplx, google, bing). It is
// resolved once into a Translator by New; nothing downstream switches on the
// backend kind again. Engine drives a Translator over a whole transcript:
// cached lines are skipped, the rest are batched over a bounded worker pool
// with a shared request rate limit, and every batch passes a cancellation
// checkpoint before it runs.
package translate
