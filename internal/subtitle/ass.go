package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"captioner/internal/fileutil"
)

// Style is a pair of ASS styles: Primary renders the upper line, Secondary the
// lower line of a bilingual cue.
type Style struct {
	Primary   string
	Secondary string
}

// DefaultStyle is used when no style is configured.
const DefaultStyle = "default"

var styles = map[string]Style{
	"default": {
		Primary:   "Arial,52,&H0000FFFF,&H000000FF,&H00000000,&H80000000,-1,0,0,0,100,100,0,0,1,2,1,2,10,10,15,1",
		Secondary: "Arial,38,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,2,1,2,10,10,15,1",
	},
	"minimal": {
		Primary:   "Helvetica,48,&H00FFFFFF,&H000000FF,&H00202020,&H00000000,0,0,0,0,100,100,0,0,1,1.5,0,2,10,10,20,1",
		Secondary: "Helvetica,36,&H00D0D0D0,&H000000FF,&H00202020,&H00000000,0,0,0,0,100,100,0,0,1,1.5,0,2,10,10,20,1",
	},
	"boxed": {
		Primary:   "Arial,50,&H00FFFFFF,&H000000FF,&H00000000,&H99000000,-1,0,0,0,100,100,0,0,3,2,0,2,10,10,15,1",
		Secondary: "Arial,38,&H00E0E0E0,&H000000FF,&H00000000,&H99000000,0,0,0,0,100,100,0,0,3,2,0,2,10,10,15,1",
	},
}

// StyleNames lists the built-in styles.
func StyleNames() []string {
	names := make([]string, 0, len(styles))
	for name := range styles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupStyle returns the named style, falling back to the default.
func LookupStyle(name string) (Style, bool) {
	style, ok := styles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return styles[DefaultStyle], false
	}
	return style, true
}

const assHeader = `[Script Info]
ScriptType: v4.00+
PlayResX: 1920
PlayResY: 1080
WrapStyle: 0
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,%s
Style: Secondary,%s

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// WriteASS renders t as an ASS script. Bilingual cues become two dialogue
// lines; the upper one uses the Default style.
func WriteASS(w io.Writer, t *Transcript, layout, styleName string) error {
	style, _ := LookupStyle(styleName)
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, assHeader, style.Primary, style.Secondary)
	for _, seg := range t.Segments {
		lines := cueLines(seg, layout)
		start, end := formatASSTime(seg.Start), formatASSTime(seg.End)
		switch len(lines) {
		case 0:
			continue
		case 1:
			fmt.Fprintf(bw, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", start, end, escapeASS(lines[0]))
		default:
			fmt.Fprintf(bw, "Dialogue: 0,%s,%s,Secondary,,0,0,0,,%s\n", start, end, escapeASS(lines[1]))
			fmt.Fprintf(bw, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", start, end, escapeASS(lines[0]))
		}
	}
	return bw.Flush()
}

func formatASSTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := d.Milliseconds() / 10
	return fmt.Sprintf("%d:%02d:%02d.%02d", cs/360000, (cs/6000)%60, (cs/100)%60, cs%100)
}

func escapeASS(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, "\r", ""), "\n", `\N`)
}

// Save writes t to path, creating parent directories. The extension picks the
// format: .ass is written as ASS, anything else as SRT.
func Save(path string, t *Transcript, layout, style string) error {
	err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		if strings.EqualFold(filepath.Ext(path), ".ass") {
			return WriteASS(w, t, layout, style)
		}
		return WriteSRT(w, t, layout)
	})
	if err != nil {
		return fmt.Errorf("save subtitle: %w", err)
	}
	return nil
}
