// Package optimize corrects transcription errors in subtitle text with an
// OpenAI-compatible chat model before translation.
//
// Lines are sent in batches over the shared batch runner. A corrected line
// that drifts too far from the recognized text is discarded in favour of the
// original, so the model can fix typos and punctuation but cannot rewrite
// dialogue. Results are cached per model.
package optimize
