package subtitle

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Splitter limits.
const (
	DefaultMaxWordCountCJK     = 25
	DefaultMaxWordCountEnglish = 18
	defaultPauseGap            = 1500 * time.Millisecond
)

// Splitter regroups word-timed cues into sentence-sized cues.
type Splitter struct {
	MaxWordCountCJK     int
	MaxWordCountEnglish int
	PauseGap            time.Duration
}

// NewSplitter builds a splitter, replacing non-positive limits with defaults.
func NewSplitter(maxCJK, maxEnglish int) *Splitter {
	if maxCJK <= 0 {
		maxCJK = DefaultMaxWordCountCJK
	}
	if maxEnglish <= 0 {
		maxEnglish = DefaultMaxWordCountEnglish
	}
	return &Splitter{MaxWordCountCJK: maxCJK, MaxWordCountEnglish: maxEnglish, PauseGap: defaultPauseGap}
}

// Split returns a new transcript. Cues without word timing get synthesized
// timing first, so plain segment-level transcripts are split too. A cue ends
// at sentence punctuation, at a pause longer than PauseGap, or when the next
// word would exceed the length limit. CJK length counts characters, other
// text counts words.
func (s *Splitter) Split(t *Transcript) *Transcript {
	src := t.Clone()
	src.SplitToWords()

	var words []Word
	for _, seg := range src.Segments {
		words = append(words, seg.Words...)
	}

	out := &Transcript{}
	var current []Word
	emit := func() {
		if len(current) == 0 {
			return
		}
		text := joinWords(current)
		if strings.TrimSpace(text) != "" {
			out.Segments = append(out.Segments, Segment{
				Start: current[0].Start,
				End:   current[len(current)-1].End,
				Text:  text,
				Words: append([]Word(nil), current...),
			})
		}
		current = current[:0]
	}

	for _, w := range words {
		if len(current) > 0 {
			last := current[len(current)-1]
			if s.PauseGap > 0 && w.Start-last.End > s.PauseGap {
				emit()
			} else if s.exceeds(append(current, w)) {
				emit()
			}
		}
		current = append(current, w)
		if endsSentence(w.Text) {
			emit()
		}
	}
	emit()
	return out
}

func (s *Splitter) exceeds(words []Word) bool {
	cjk, other := 0, 0
	for _, w := range words {
		for _, tok := range tokenize(w.Text) {
			r, _ := utf8.DecodeRuneInString(tok)
			if isCJK(r) {
				cjk++
			} else {
				other++
			}
		}
	}
	if cjk >= other {
		return cjk+other > s.MaxWordCountCJK
	}
	return cjk+other > s.MaxWordCountEnglish
}

func endsSentence(word string) bool {
	word = strings.TrimRight(strings.TrimSpace(word), `"'”’)」』`)
	if word == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(word)
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	default:
		return false
	}
}
