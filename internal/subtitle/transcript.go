package subtitle

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Word is a single recognized token with timing.
type Word struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Segment is one subtitle cue.
type Segment struct {
	Start       time.Duration
	End         time.Duration
	Text        string
	Translation string
	Words       []Word
}

// Transcript is an ordered list of cues.
type Transcript struct {
	Segments []Segment
}

// Len returns the number of cues.
func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Segments)
}

// HasWordTiming reports whether every non-empty cue carries word timing.
func (t *Transcript) HasWordTiming() bool {
	if t.Len() == 0 {
		return false
	}
	for _, seg := range t.Segments {
		if strings.TrimSpace(seg.Text) != "" && len(seg.Words) == 0 {
			return false
		}
	}
	return true
}

// Texts returns the cue texts in order.
func (t *Transcript) Texts() []string {
	out := make([]string, t.Len())
	for i, seg := range t.Segments {
		out[i] = seg.Text
	}
	return out
}

// SetTexts replaces cue texts. The slice must match the cue count.
func (t *Transcript) SetTexts(texts []string) error {
	if len(texts) != t.Len() {
		return fmt.Errorf("set texts: got %d lines for %d cues", len(texts), t.Len())
	}
	for i := range t.Segments {
		t.Segments[i].Text = strings.TrimSpace(texts[i])
	}
	return nil
}

// SetTranslations attaches translated lines. The slice must match the cue count.
func (t *Transcript) SetTranslations(lines []string) error {
	if len(lines) != t.Len() {
		return fmt.Errorf("set translations: got %d lines for %d cues", len(lines), t.Len())
	}
	for i := range t.Segments {
		t.Segments[i].Translation = strings.TrimSpace(lines[i])
	}
	return nil
}

// Clone returns a deep copy.
func (t *Transcript) Clone() *Transcript {
	if t == nil {
		return nil
	}
	out := &Transcript{Segments: make([]Segment, len(t.Segments))}
	for i, seg := range t.Segments {
		seg.Words = append([]Word(nil), seg.Words...)
		out.Segments[i] = seg
	}
	return out
}

// SplitToWords synthesizes word timing for cues that have none by spreading
// the cue duration over its tokens in proportion to their length. CJK text is
// tokenized per character, other text per whitespace-separated word.
func (t *Transcript) SplitToWords() {
	for i := range t.Segments {
		seg := &t.Segments[i]
		if len(seg.Words) > 0 {
			continue
		}
		tokens := tokenize(seg.Text)
		if len(tokens) == 0 {
			continue
		}
		total := 0
		for _, tok := range tokens {
			total += utf8.RuneCountInString(tok)
		}
		span := seg.End - seg.Start
		cursor := seg.Start
		seen := 0
		for _, tok := range tokens {
			seen += utf8.RuneCountInString(tok)
			end := seg.Start + time.Duration(int64(span)*int64(seen)/int64(total))
			seg.Words = append(seg.Words, Word{Text: tok, Start: cursor, End: end})
			cursor = end
		}
	}
}

func tokenize(text string) []string {
	var tokens []string
	for _, field := range strings.Fields(text) {
		if !containsCJK(field) {
			tokens = append(tokens, field)
			continue
		}
		var latin strings.Builder
		for _, r := range field {
			if isCJK(r) {
				if latin.Len() > 0 {
					tokens = append(tokens, latin.String())
					latin.Reset()
				}
				tokens = append(tokens, string(r))
				continue
			}
			latin.WriteRune(r)
		}
		if latin.Len() > 0 {
			tokens = append(tokens, latin.String())
		}
	}
	return tokens
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func containsCJK(s string) bool {
	for _, r := range s {
		if isCJK(r) {
			return true
		}
	}
	return false
}

// joinWords concatenates tokens, inserting spaces only between non-CJK tokens.
func joinWords(words []Word) string {
	var b strings.Builder
	prevCJK := true
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		first, _ := utf8.DecodeRuneInString(text)
		cjk := isCJK(first)
		if b.Len() > 0 && !cjk && !prevCJK && !isClosingPunct(first) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		last, _ := utf8.DecodeLastRuneInString(text)
		prevCJK = isCJK(last)
	}
	return b.String()
}

func isClosingPunct(r rune) bool {
	switch r {
	case ',', '.', '!', '?', ';', ':', ')', '\'', '"':
		return true
	default:
		return false
	}
}
