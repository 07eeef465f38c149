package response

import (
	"net/url"
	"sort"
	"strings"
)

// Link is a web link of the Link header (RFC 8288).
type Link struct {
	URL *url.URL

	// Rel holds the relation types, separated by space.
	Rel string

	// Params holds the other target attributes, keyed by lower case name.
	Params map[string]string
}

// HasRel tells whether the link has the relation type, compared case
// insensitively.
func (l *Link) HasRel(rel string) bool {
	for _, r := range strings.Fields(l.Rel) {
		if strings.EqualFold(r, rel) {
			return true
		}
	}

	return false
}

// String renders the link in the Link header format.
func (l *Link) String() string {
	var b strings.Builder
	b.WriteByte('<')
	if l.URL != nil {
		b.WriteString(l.URL.String())
	}

	b.WriteByte('>')
	if l.Rel != "" {
		b.WriteString(`; rel="`)
		b.WriteString(l.Rel)
		b.WriteByte('"')
	}

	keys := make([]string, 0, len(l.Params))
	for k := range l.Params {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("; ")
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(strings.ReplaceAll(l.Params[k], `"`, `\"`))
		b.WriteByte('"')
	}

	return b.String()
}

type linkParser struct {
	s   string
	pos int
}

func (p *linkParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *linkParser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}

	return p.s[p.pos]
}

// skipEntry moves after the next comma, outside of angle brackets and
// quoted strings.
func (p *linkParser) skipEntry() {
	var inQuote, inURI bool
	for ; p.pos < len(p.s); p.pos++ {
		c := p.s[p.pos]
		switch {
		case inQuote && c == '\\':
			p.pos++
		case inQuote:
			inQuote = c != '"'
		case inURI:
			inURI = c != '>'
		case c == '"':
			inQuote = true
		case c == '<':
			inURI = true
		case c == ',':
			p.pos++
			return
		}
	}
}

func (p *linkParser) token() string {
	start := p.pos
	for p.pos < len(p.s) && !strings.ContainsRune("=;, \t", rune(p.s[p.pos])) {
		p.pos++
	}

	return p.s[start:p.pos]
}

func (p *linkParser) quoted() (string, bool) {
	var b strings.Builder
	for p.pos++; p.pos < len(p.s); p.pos++ {
		c := p.s[p.pos]
		switch c {
		case '\\':
			p.pos++
			if p.pos < len(p.s) {
				b.WriteByte(p.s[p.pos])
			}
		case '"':
			p.pos++
			return b.String(), true
		default:
			b.WriteByte(c)
		}
	}

	return "", false
}

func (p *linkParser) link() (*Link, bool) {
	p.skipSpace()
	if p.peek() != '<' {
		return nil, false
	}

	end := strings.IndexByte(p.s[p.pos:], '>')
	if end < 0 {
		return nil, false
	}

	u, err := url.Parse(strings.TrimSpace(p.s[p.pos+1 : p.pos+end]))
	if err != nil {
		return nil, false
	}

	p.pos += end + 1
	l := &Link{URL: u}
	for {
		p.skipSpace()
		switch p.peek() {
		case 0:
			return l, true
		case ',':
			p.pos++
			return l, true
		case ';':
			p.pos++
		default:
			return nil, false
		}

		p.skipSpace()
		name := strings.ToLower(p.token())
		if name == "" {
			return nil, false
		}

		var value string
		p.skipSpace()
		if p.peek() == '=' {
			p.pos++
			p.skipSpace()
			if p.peek() == '"' {
				v, ok := p.quoted()
				if !ok {
					return nil, false
				}

				value = v
			} else {
				value = p.token()
			}
		}

		switch {
		case name == "rel":
			if l.Rel == "" {
				l.Rel = strings.Join(strings.Fields(value), " ")
			}
		default:
			if l.Params == nil {
				l.Params = make(map[string]string)
			}

			if _, ok := l.Params[name]; !ok {
				l.Params[name] = value
			}
		}
	}
}

// ParseLinks parses the value of a Link header. Invalid entries are
// skipped.
func ParseLinks(s string) []*Link {
	var links []*Link
	p := &linkParser{s: s}
	for {
		p.skipSpace()
		for p.peek() == ',' {
			p.pos++
			p.skipSpace()
		}

		if p.pos >= len(p.s) {
			return links
		}

		start := p.pos
		if l, ok := p.link(); ok {
			links = append(links, l)
			continue
		}

		p.pos = start
		p.skipEntry()
	}
}
