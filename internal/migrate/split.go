package migrate

import "strings"

// splitStatements breaks a SQL script into statements on top-level
// semicolons. Quoted literals, quoted identifiers and dollar-quoted bodies
// are kept intact; comments are dropped.
func splitStatements(src string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\'' || c == '"':
			j := skipQuoted(src, i+1, c)
			cur.WriteString(src[i:j])
			i = j
		case strings.HasPrefix(src[i:], "--"):
			j := strings.IndexByte(src[i:], '\n')
			if j < 0 {
				i = len(src)
			} else {
				i += j
			}
		case strings.HasPrefix(src[i:], "/*"):
			j := strings.Index(src[i+2:], "*/")
			if j < 0 {
				i = len(src)
			} else {
				i += j + 4
			}
			cur.WriteByte(' ')
		case c == '$':
			tag, ok := dollarTag(src[i:])
			if !ok {
				cur.WriteByte(c)
				i++
				break
			}
			end := strings.Index(src[i+len(tag):], tag)
			if end < 0 {
				cur.WriteString(src[i:])
				i = len(src)
				break
			}
			n := 2*len(tag) + end
			cur.WriteString(src[i : i+n])
			i += n
		case c == ';':
			flush()
			i++
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return out
}

// skipQuoted returns the index just past the quote q closing a literal whose
// body starts at i. A doubled quote is an escaped quote.
func skipQuoted(src string, i int, q byte) int {
	for i < len(src) {
		if src[i] == q {
			if i+1 < len(src) && src[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(src)
}

// dollarTag returns the opening tag of a dollar-quoted string ($$ or
// $name$) at the start of s. Positional parameters such as $1 are not tags.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$':
			return s[:i+1], true
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && i > 1:
		default:
			return "", false
		}
	}
	return "", false
}
