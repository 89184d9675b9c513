package config

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// setDefaultInterval returns data with poll.interval_seconds set to secs.
// Everything else in the file, comments included, is left as written.
func setDefaultInterval(path string, data []byte, secs int) ([]byte, error) {
	if isYAML(path) {
		return setYAMLInterval(data, secs)
	}
	return setJSONCInterval(data, secs)
}

func setYAMLInterval(data []byte, secs int) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config root is not a mapping")
	}

	val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(secs)}
	poll := yamlLookup(root, "poll")
	switch {
	case poll == nil:
		root.Content = append(root.Content, yamlKey("poll"), &yaml.Node{
			Kind:    yaml.MappingNode,
			Tag:     "!!map",
			Content: []*yaml.Node{yamlKey("interval_seconds"), val},
		})
	case poll.Kind == yaml.ScalarNode && poll.Tag == "!!null":
		*poll = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: []*yaml.Node{yamlKey("interval_seconds"), val}}
	case poll.Kind == yaml.MappingNode:
		if cur := yamlLookup(poll, "interval_seconds"); cur != nil {
			cur.Kind, cur.Tag, cur.Value, cur.Style = yaml.ScalarNode, "!!int", val.Value, 0
		} else {
			poll.Content = append(poll.Content, yamlKey("interval_seconds"), val)
		}
	default:
		return nil, fmt.Errorf("poll: not a mapping")
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yamlLookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func yamlKey(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

// setJSONCInterval edits the raw bytes in place so comments, key order and
// formatting survive.
func setJSONCInterval(data []byte, secs int) ([]byte, error) {
	num := strconv.Itoa(secs)
	s := &jsoncScanner{b: data}
	s.skipSpace()
	if s.i >= len(data) || data[s.i] != '{' {
		return nil, fmt.Errorf("config root is not an object")
	}
	rootOpen := s.i
	root, err := s.members(rootOpen)
	if err != nil {
		return nil, err
	}

	poll, ok := lookupMember(data, root, "poll")
	if !ok {
		return insertMember(data, rootOpen, root, `"poll": {"interval_seconds": `+num+`}`), nil
	}
	switch data[poll.valStart] {
	case '{':
		ps := &jsoncScanner{b: data}
		inner, err := ps.members(poll.valStart)
		if err != nil {
			return nil, err
		}
		if cur, ok := lookupMember(data, inner, "interval_seconds"); ok {
			return splice(data, cur.valStart, cur.valEnd, num), nil
		}
		return insertMember(data, poll.valStart, inner, `"interval_seconds": `+num), nil
	case 'n':
		return splice(data, poll.valStart, poll.valEnd, `{"interval_seconds": `+num+`}`), nil
	default:
		return nil, fmt.Errorf("poll: not an object")
	}
}

type jsoncMember struct {
	keyStart, keyEnd int // includes quotes
	valStart, valEnd int
}

func lookupMember(b []byte, ms []jsoncMember, key string) (jsoncMember, bool) {
	want := strconv.Quote(key)
	for _, m := range ms {
		if string(b[m.keyStart:m.keyEnd]) == want {
			return m, true
		}
	}
	return jsoncMember{}, false
}

// insertMember adds text as the last member of the object opened at open.
func insertMember(b []byte, open int, ms []jsoncMember, text string) []byte {
	if len(ms) == 0 {
		return splice(b, open+1, open+1, text)
	}
	last := ms[len(ms)-1]

	j := skipBlanks(b, last.valEnd)
	hasComma := j < len(b) && b[j] == ','
	if hasComma {
		j = skipBlanks(b, j+1)
	}
	if j+1 < len(b) && b[j] == '/' && b[j+1] == '/' {
		for j < len(b) && b[j] != '\n' && b[j] != '\r' {
			j++
		}
	}

	var ins string
	if j < len(b) && (b[j] == '\n' || b[j] == '\r') {
		nl := "\n"
		if b[j] == '\r' {
			nl = "\r\n"
		}
		ins = nl + lineIndent(b, last.keyStart) + text
	} else {
		ins = " " + text
	}

	out := splice(b, j, j, ins)
	if !hasComma {
		out = splice(out, last.valEnd, last.valEnd, ",")
	}
	return out
}

func lineIndent(b []byte, pos int) string {
	start := pos
	for start > 0 && b[start-1] != '\n' && b[start-1] != '\r' {
		start--
	}
	for k := start; k < pos; k++ {
		if b[k] != ' ' && b[k] != '\t' {
			return "  "
		}
	}
	return string(b[start:pos])
}

func skipBlanks(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	return i
}

func splice(b []byte, from, to int, s string) []byte {
	out := make([]byte, 0, len(b)-(to-from)+len(s))
	out = append(out, b[:from]...)
	out = append(out, s...)
	return append(out, b[to:]...)
}

// jsoncScanner walks JSON with comments and trailing commas without
// decoding it.
type jsoncScanner struct {
	b []byte
	i int
}

func (s *jsoncScanner) skipSpace() {
	for s.i < len(s.b) {
		c := s.b[s.i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			s.i++
		case c == '/' && s.i+1 < len(s.b) && s.b[s.i+1] == '/':
			for s.i < len(s.b) && s.b[s.i] != '\n' {
				s.i++
			}
		case c == '/' && s.i+1 < len(s.b) && s.b[s.i+1] == '*':
			end := bytes.Index(s.b[s.i+2:], []byte("*/"))
			if end < 0 {
				s.i = len(s.b)
				return
			}
			s.i += end + 4
		default:
			return
		}
	}
}

// members lists the members of the object whose '{' is at open.
func (s *jsoncScanner) members(open int) ([]jsoncMember, error) {
	var out []jsoncMember
	s.i = open + 1
	for {
		s.skipSpace()
		if s.i >= len(s.b) {
			return nil, fmt.Errorf("unterminated object at offset %d", open)
		}
		switch s.b[s.i] {
		case '}':
			return out, nil
		case ',':
			s.i++
			continue
		case '"':
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", s.b[s.i], s.i)
		}

		var m jsoncMember
		m.keyStart = s.i
		if err := s.skipString(); err != nil {
			return nil, err
		}
		m.keyEnd = s.i
		s.skipSpace()
		if s.i >= len(s.b) || s.b[s.i] != ':' {
			return nil, fmt.Errorf("missing ':' at offset %d", s.i)
		}
		s.i++
		s.skipSpace()
		m.valStart = s.i
		if err := s.skipValue(); err != nil {
			return nil, err
		}
		m.valEnd = s.i
		out = append(out, m)
	}
}

func (s *jsoncScanner) skipString() error {
	start := s.i
	s.i++
	for s.i < len(s.b) {
		switch s.b[s.i] {
		case '\\':
			s.i += 2
		case '"':
			s.i++
			return nil
		default:
			s.i++
		}
	}
	return fmt.Errorf("unterminated string at offset %d", start)
}

func (s *jsoncScanner) skipValue() error {
	if s.i >= len(s.b) {
		return fmt.Errorf("missing value")
	}
	switch s.b[s.i] {
	case '"':
		return s.skipString()
	case '{', '[':
		depth := 0
		for s.i < len(s.b) {
			s.skipSpace()
			if s.i >= len(s.b) {
				break
			}
			switch s.b[s.i] {
			case '"':
				if err := s.skipString(); err != nil {
					return err
				}
				continue
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
			s.i++
			if depth == 0 {
				return nil
			}
		}
		return fmt.Errorf("unterminated value")
	default:
		for s.i < len(s.b) && !strings.ContainsRune(",}] \t\n\r/", rune(s.b[s.i])) {
			s.i++
		}
		return nil
	}
}
