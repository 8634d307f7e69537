// Package pipeline runs the single active task from video to finished
// subtitle file.
//
// Execute launches one goroutine per task. The run walks five stages on the
// 0-10000 progress scale:
//
//	transcribe  0-5000      extract audio, run the ASR engine, save the raw file
//	split       5000-6000   regroup word timing into sentence cues
//	optimize    6000-7000   LLM correction of recognized text
//	translate   7000-10000  translation into the target language
//	persist                 write the final file and mark the task completed
//
// Cancellation is cooperative. The token is polled before each stage, after
// audio extraction, after transcription, after each stage and before every
// optimize/translate batch; firing it also cancels the run context so
// subprocesses and HTTP requests stop early. Once the token has fired the run
// writes no further task state.
package pipeline
