package age

import (
	"bytes"
	"encoding/json"
	"strings"

	"kraph/core/internal/kgerr"
)

const (
	vertexSuffix = "::vertex"
	edgeSuffix   = "::edge"
	pathSuffix   = "::path"
)

type vertexJSON struct {
	ID         int64          `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

type edgeJSON struct {
	ID         int64          `json:"id"`
	Label      string         `json:"label"`
	StartID    int64          `json:"start_id"`
	EndID      int64          `json:"end_id"`
	Properties map[string]any `json:"properties"`
}

func decodeJSON(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec.Decode(v)
}

func malformed(op, literal, format string, args ...any) error {
	if len(literal) > 120 {
		literal = literal[:120] + "..."
	}
	return kgerr.New(kgerr.KindEngine, op, format+": %s", append(args, literal)...)
}

// ParseVertex parses an agtype vertex literal of graph.
func ParseVertex(graph, literal string) (RetrievedEntity, error) {
	body, ok := strings.CutSuffix(strings.TrimSpace(literal), vertexSuffix)
	if !ok {
		return RetrievedEntity{}, malformed("age.ParseVertex", literal, "not a vertex")
	}
	var v vertexJSON
	if err := decodeJSON(body, &v); err != nil {
		return RetrievedEntity{}, malformed("age.ParseVertex", literal, "decoding vertex (%v)", err)
	}
	if v.Properties == nil {
		v.Properties = map[string]any{}
	}
	return RetrievedEntity{GraphName: graph, ID: v.ID, KindAgeName: v.Label, Properties: v.Properties}, nil
}

// ParseEdge parses an agtype edge literal of graph.
func ParseEdge(graph, literal string) (RetrievedRelation, error) {
	body, ok := strings.CutSuffix(strings.TrimSpace(literal), edgeSuffix)
	if !ok {
		return RetrievedRelation{}, malformed("age.ParseEdge", literal, "not an edge")
	}
	var e edgeJSON
	if err := decodeJSON(body, &e); err != nil {
		return RetrievedRelation{}, malformed("age.ParseEdge", literal, "decoding edge (%v)", err)
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	return RetrievedRelation{
		GraphName:   graph,
		ID:          e.ID,
		KindAgeName: e.Label,
		LeftID:      e.StartID,
		RightID:     e.EndID,
		Properties:  e.Properties,
	}, nil
}

// ParsePath extracts every vertex and edge in a path literal, or in any
// agtype value embedding them such as a list of paths. Duplicates collapse
// by id.
func ParsePath(graph, literal string) (*Subgraph, error) {
	sg := NewSubgraph()
	err := scanElements(literal, func(fragment, suffix string) error {
		switch suffix {
		case vertexSuffix:
			v, err := ParseVertex(graph, fragment+suffix)
			if err != nil {
				return err
			}
			sg.AddNode(v)
		case edgeSuffix:
			e, err := ParseEdge(graph, fragment+suffix)
			if err != nil {
				return err
			}
			sg.AddEdge(e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sg, nil
}

// scanElements finds every top-level {...}::vertex and {...}::edge object in
// s. Braces inside JSON strings do not count.
func scanElements(s string, fn func(fragment, suffix string) error) error {
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				return malformed("age.ParsePath", s, "unbalanced braces at %d", i)
			}
			depth--
			if depth > 0 {
				continue
			}
			rest := s[i+1:]
			for _, suffix := range []string{vertexSuffix, edgeSuffix} {
				if strings.HasPrefix(rest, suffix) {
					if err := fn(s[start:i+1], suffix); err != nil {
						return err
					}
					i += len(suffix)
					break
				}
			}
		}
	}
	if depth != 0 || inString {
		return malformed("age.ParsePath", s, "unterminated literal")
	}
	return nil
}

// ParseValue decodes a scalar or container agtype cell into plain Go data.
// Vertices and edges are decoded into their JSON shape.
func ParseValue(cell string) (any, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || cell == "null" {
		return nil, nil
	}
	var b bytes.Buffer
	err := stripSuffixes(cell, &b)
	if err != nil {
		return nil, err
	}
	var v any
	if err := decodeJSON(b.String(), &v); err != nil {
		return nil, malformed("age.ParseValue", cell, "decoding value (%v)", err)
	}
	return v, nil
}

// stripSuffixes copies s to b without "::type" annotations outside strings.
func stripSuffixes(s string, b *bytes.Buffer) error {
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ':' && i+1 < len(s) && s[i+1] == ':' {
			j := i + 2
			for j < len(s) && (s[j] >= 'a' && s[j] <= 'z' || s[j] == '_') {
				j++
			}
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	if inString {
		return malformed("age.ParseValue", s, "unterminated string")
	}
	return nil
}

// IsPath reports whether a cell holds a path literal.
func IsPath(cell string) bool {
	return strings.HasSuffix(strings.TrimSpace(cell), pathSuffix)
}
