package vterm

import "strings"

// Color is either a 256-color index or a 24-bit RGB triple.
type Color struct {
	Indexed *uint8 `json:"indexed,omitempty"`
	R, G, B uint8
	HasRGB  bool
}

func indexedColor(i uint8) Color { return Color{Indexed: &i} }
func rgbColor(r, g, b uint8) Color { return Color{R: r, G: g, B: b, HasRGB: true} }

// Style is the set of attributes active for a Span.
type Style struct {
	FG            *Color `json:"fg,omitempty"`
	BG            *Color `json:"bg,omitempty"`
	Bold          bool   `json:"bold,omitempty"`
	Faint         bool   `json:"faint,omitempty"`
	Italic        bool   `json:"italic,omitempty"`
	Underline     bool   `json:"underline,omitempty"`
	Strikethrough bool   `json:"strikethrough,omitempty"`
	Blink         bool   `json:"blink,omitempty"`
	Inverse       bool   `json:"inverse,omitempty"`
}

func (s Style) equal(o Style) bool {
	return colorEqual(s.FG, o.FG) && colorEqual(s.BG, o.BG) &&
		s.Bold == o.Bold && s.Faint == o.Faint && s.Italic == o.Italic &&
		s.Underline == o.Underline && s.Strikethrough == o.Strikethrough &&
		s.Blink == o.Blink && s.Inverse == o.Inverse
}

func colorEqual(a, b *Color) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Indexed != nil || b.Indexed != nil {
		if a.Indexed == nil || b.Indexed == nil {
			return false
		}
		return *a.Indexed == *b.Indexed
	}
	return a.HasRGB == b.HasRGB && a.R == b.R && a.G == b.G && a.B == b.B
}

// Span is a run of text sharing one Style.
type Span struct {
	Text  string `json:"text"`
	Style Style  `json:"style"`
}

// FormattedLine is either a plain string or an ordered sequence of styled
// spans, matching the two query formats (plain|styled) clients can ask for.
type FormattedLine struct {
	Styled bool   `json:"styled"`
	Text   string `json:"text,omitempty"`
	Spans  []Span `json:"spans,omitempty"`
}

// FormatLine renders one row of a vt.Emulator's ANSI output into either a
// plain string (SGR codes stripped) or a coalesced run of styled spans.
//
// rows are recovered from the emulator's whole-grid Render() by splitting
// on the row delimiter it emits during a repaint; see the engine's row
// extraction for the documented assumption this rests on.
func FormatLine(raw string, styled bool) FormattedLine {
	if !styled {
		return FormattedLine{Styled: false, Text: stripSGR(raw)}
	}
	return FormattedLine{Styled: true, Spans: lineSpans(raw)}
}

func stripSGR(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && !(s[j] >= 0x40 && s[j] <= 0x7e) {
				j++
			}
			if j < len(s) {
				i = j + 1
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// lineSpans walks raw, applying SGR parameters to a running pen and
// coalescing consecutive runs that share the same resulting Style.
func lineSpans(raw string) []Span {
	var spans []Span
	var cur Style
	var buf strings.Builder

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		if len(spans) > 0 && spans[len(spans)-1].Style.equal(cur) {
			spans[len(spans)-1].Text += buf.String()
		} else {
			spans = append(spans, Span{Text: buf.String(), Style: cur})
		}
		buf.Reset()
	}

	i := 0
	for i < len(raw) {
		if raw[i] == 0x1b && i+1 < len(raw) && raw[i+1] == '[' {
			j := i + 2
			for j < len(raw) && !(raw[j] >= 0x40 && raw[j] <= 0x7e) {
				j++
			}
			if j < len(raw) && raw[j] == 'm' {
				flush()
				applySGR(&cur, raw[i+2:j])
				i = j + 1
				continue
			}
			if j < len(raw) {
				// Non-SGR CSI sequence: drop it, it carries no style info
				// we track.
				i = j + 1
				continue
			}
		}
		buf.WriteByte(raw[i])
		i++
	}
	flush()
	return spans
}

func applySGR(st *Style, params string) {
	if params == "" {
		*st = Style{}
		return
	}
	parts := strings.Split(params, ";")
	for idx := 0; idx < len(parts); idx++ {
		code := atoiSafe(parts[idx])
		switch {
		case code == 0:
			*st = Style{}
		case code == 1:
			st.Bold = true
		case code == 2:
			st.Faint = true
		case code == 3:
			st.Italic = true
		case code == 4:
			st.Underline = true
		case code == 5 || code == 6:
			st.Blink = true
		case code == 7:
			st.Inverse = true
		case code == 9:
			st.Strikethrough = true
		case code == 22:
			st.Bold, st.Faint = false, false
		case code == 23:
			st.Italic = false
		case code == 24:
			st.Underline = false
		case code == 25:
			st.Blink = false
		case code == 27:
			st.Inverse = false
		case code == 29:
			st.Strikethrough = false
		case code == 39:
			st.FG = nil
		case code == 49:
			st.BG = nil
		case code >= 30 && code <= 37:
			c := indexedColor(uint8(code - 30))
			st.FG = &c
		case code >= 90 && code <= 97:
			c := indexedColor(uint8(code - 90 + 8))
			st.FG = &c
		case code >= 40 && code <= 47:
			c := indexedColor(uint8(code - 40))
			st.BG = &c
		case code >= 100 && code <= 107:
			c := indexedColor(uint8(code - 100 + 8))
			st.BG = &c
		case code == 38 || code == 48:
			// Extended color: 5;N (indexed) or 2;r;g;b (rgb).
			if idx+1 >= len(parts) {
				break
			}
			mode := atoiSafe(parts[idx+1])
			var col Color
			switch mode {
			case 5:
				if idx+2 < len(parts) {
					col = indexedColor(uint8(atoiSafe(parts[idx+2])))
					idx += 2
				}
			case 2:
				if idx+4 < len(parts) {
					col = rgbColor(uint8(atoiSafe(parts[idx+2])), uint8(atoiSafe(parts[idx+3])), uint8(atoiSafe(parts[idx+4])))
					idx += 4
				}
			}
			if code == 38 {
				st.FG = &col
			} else {
				st.BG = &col
			}
		}
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
