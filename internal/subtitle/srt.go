package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted by the writers.
const (
	LayoutSourceAbove = "source-above"
	LayoutTargetAbove = "target-above"
	LayoutSourceOnly  = "source-only"
	LayoutTargetOnly  = "target-only"
)

// ReadSRT loads an SRT file.
func ReadSRT(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	defer f.Close()
	return ParseSRT(f)
}

// ParseSRT parses SRT cues. Cue numbers are ignored; malformed blocks are
// skipped.
func ParseSRT(r io.Reader) (*Transcript, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		out   Transcript
		block []string
	)
	flush := func() {
		if seg, ok := parseSRTBlock(block); ok {
			out.Segments = append(out.Segments, seg)
		}
		block = block[:0]
	}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		line = strings.TrimPrefix(line, "\ufeff")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse srt: %w", err)
	}
	flush()
	return &out, nil
}

func parseSRTBlock(lines []string) (Segment, bool) {
	for i, line := range lines {
		if !strings.Contains(line, "-->") {
			continue
		}
		parts := strings.SplitN(line, "-->", 2)
		start, err := ParseTimestamp(parts[0])
		if err != nil {
			return Segment{}, false
		}
		endText := strings.Fields(parts[1])
		if len(endText) == 0 {
			return Segment{}, false
		}
		end, err := ParseTimestamp(endText[0])
		if err != nil {
			return Segment{}, false
		}
		text := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		return Segment{Start: start, End: end, Text: text}, true
	}
	return Segment{}, false
}

// ParseTimestamp parses HH:MM:SS,mmm (a period separator is accepted).
func ParseTimestamp(value string) (time.Duration, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ".", ",")
	clock, millisText, ok := strings.Cut(value, ",")
	if !ok {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(clock, ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(millisText)
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, nil
}

// FormatTimestamp renders d as HH:MM:SS,mmm.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, (ms/60000)%60, (ms/1000)%60, ms%1000)
}

// WriteSRT renders t as SRT using layout to place translations.
func WriteSRT(w io.Writer, t *Transcript, layout string) error {
	bw := bufio.NewWriter(w)
	n := 0
	for _, seg := range t.Segments {
		lines := cueLines(seg, layout)
		if len(lines) == 0 {
			continue
		}
		n++
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n", n, FormatTimestamp(seg.Start), FormatTimestamp(seg.End), strings.Join(lines, "\n"))
	}
	return bw.Flush()
}

// cueLines orders source and translation for a cue. A cue without a
// translation always falls back to its source text.
func cueLines(seg Segment, layout string) []string {
	source := strings.TrimSpace(seg.Text)
	target := strings.TrimSpace(seg.Translation)
	if target == "" {
		if source == "" {
			return nil
		}
		return []string{source}
	}
	var lines []string
	switch layout {
	case LayoutSourceOnly:
		lines = []string{source}
	case LayoutTargetOnly:
		lines = []string{target}
	case LayoutSourceAbove:
		lines = []string{source, target}
	default:
		lines = []string{target, source}
	}
	out := lines[:0]
	for _, line := range lines {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
