package parser

import (
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/runenames"
)

// decodeEscapes interprets backslash escapes in the body of a non-raw Python
// str literal. Unknown escapes are kept verbatim, as Python does. A malformed
// or unknown \N{...} escape is a syntax error in Python and reports false.
func decodeEscapes(s string) (string, bool) {
	if !strings.ContainsRune(s, '\\') {
		return s, true
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := s[i]; e {
		case '\n':
			// line continuation
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case 'x':
			i += writeHexEscape(&b, s, i, 2)
		case 'u':
			i += writeHexEscape(&b, s, i, 4)
		case 'U':
			i += writeHexEscape(&b, s, i, 8)
		case 'N':
			if i+1 >= len(s) || s[i+1] != '{' {
				return "", false
			}
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return "", false
			}
			r, ok := lookupRuneName(s[i+2 : i+2+end])
			if !ok {
				return "", false
			}
			b.WriteRune(r)
			i += 2 + end
		default:
			if e >= '0' && e <= '7' {
				j := i
				for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
					j++
				}
				v, _ := strconv.ParseUint(s[i:j], 8, 32)
				b.WriteRune(rune(v))
				i = j - 1
				continue
			}
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String(), true
}

const cjkIdeographPrefix = "CJK UNIFIED IDEOGRAPH-"

var (
	runeNamesOnce sync.Once
	runesByName   map[string]rune
)

// lookupRuneName maps a Unicode character name to its rune, ignoring case.
func lookupRuneName(name string) (rune, bool) {
	name = strings.ToUpper(name)
	if hex, ok := strings.CutPrefix(name, cjkIdeographPrefix); ok {
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil || (len(hex) != 4 && len(hex) != 5) || !unicode.Is(unicode.Unified_Ideograph, rune(v)) {
			return 0, false
		}
		return rune(v), true
	}
	runeNamesOnce.Do(buildRuneNames)
	r, ok := runesByName[name]
	return r, ok
}

// buildRuneNames inverts the runenames table. Range placeholders such as
// "<control>" carry no usable name and are skipped.
func buildRuneNames() {
	runesByName = make(map[string]rune, 1<<15)
	for r := rune(0); r <= unicode.MaxRune; r++ {
		if r >= 0xD800 && r <= 0xDFFF {
			continue
		}
		name := runenames.Name(r)
		if name == "" || name[0] == '<' {
			continue
		}
		runesByName[name] = r
	}
}

// writeHexEscape decodes the n hex digits following s[at] and returns how
// many bytes it consumed. Malformed escapes are written back unchanged.
func writeHexEscape(b *strings.Builder, s string, at, n int) int {
	if at+n >= len(s) {
		b.WriteByte('\\')
		b.WriteByte(s[at])
		return 0
	}
	v, err := strconv.ParseUint(s[at+1:at+1+n], 16, 32)
	if err != nil || v > unicode.MaxRune {
		b.WriteByte('\\')
		b.WriteByte(s[at])
		return 0
	}
	b.WriteRune(rune(v))
	return n
}

// cleanDocstring normalizes docstring indentation: tabs expand to 8 columns,
// the first line loses leading whitespace, the common margin of the remaining
// lines is removed, and blank lines at either end are dropped.
func cleanDocstring(doc string) string {
	lines := strings.Split(expandTabs(doc, 8), "\n")

	margin := -1
	for _, line := range lines[1:] {
		content := strings.TrimLeftFunc(line, unicode.IsSpace)
		if content == "" {
			continue
		}
		indent := utf8.RuneCountInString(line) - utf8.RuneCountInString(content)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}

	lines[0] = strings.TrimLeftFunc(lines[0], unicode.IsSpace)
	if margin > 0 {
		for i := 1; i < len(lines); i++ {
			runes := []rune(lines[i])
			if len(runes) <= margin {
				lines[i] = ""
				continue
			}
			lines[i] = string(runes[margin:])
		}
	}

	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	return strings.Join(lines, "\n")
}

func expandTabs(s string, size int) string {
	if !strings.ContainsRune(s, '\t') {
		return s
	}
	var b strings.Builder
	col := 0
	for _, r := range s {
		switch r {
		case '\t':
			spaces := size - col%size
			b.WriteString(strings.Repeat(" ", spaces))
			col += spaces
		case '\n', '\r':
			b.WriteRune(r)
			col = 0
		default:
			b.WriteRune(r)
			col++
		}
	}
	return b.String()
}
