// Package transcribe turns a video file into a word-timed transcript.
//
// Audio is extracted with ffmpeg into a mono 16kHz WAV and handed to WhisperX
// (run through uvx). WhisperX is started with --print_progress so its
// "Progress: NN%" lines can be relayed to a progress.Reporter while it runs.
// The command runner is injectable so tests never spawn real processes.
package transcribe
