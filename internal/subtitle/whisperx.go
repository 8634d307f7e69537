package subtitle

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

type whisperXWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

type whisperXSegment struct {
	Text  string         `json:"text"`
	Start float64        `json:"start"`
	End   float64        `json:"end"`
	Words []whisperXWord `json:"words"`
}

type whisperXPayload struct {
	Segments []whisperXSegment `json:"segments"`
}

// LoadWhisperX reads a WhisperX JSON result. Words without timing (numbers
// and symbols WhisperX could not align) inherit the neighbouring bounds.
func LoadWhisperX(path string) (*Transcript, error) {
	if strings.TrimSpace(path) == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}

	out := &Transcript{Segments: make([]Segment, 0, len(payload.Segments))}
	for _, raw := range payload.Segments {
		text := strings.TrimSpace(raw.Text)
		if text == "" {
			continue
		}
		seg := Segment{
			Start: seconds(raw.Start),
			End:   seconds(raw.End),
			Text:  text,
		}
		cursor := seg.Start
		for _, w := range raw.Words {
			word := strings.TrimSpace(w.Word)
			if word == "" {
				continue
			}
			start, end := cursor, cursor
			if w.Start != nil {
				start = seconds(*w.Start)
			}
			if w.End != nil {
				end = seconds(*w.End)
			}
			if end < start {
				end = start
			}
			seg.Words = append(seg.Words, Word{Text: word, Start: start, End: end})
			cursor = end
		}
		out.Segments = append(out.Segments, seg)
	}
	return out, nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
