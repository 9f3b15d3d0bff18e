package ingest

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseYAML walks the node tree so errors can carry line and column.
// Accepted shapes match parseJSON.
func parseYAML(raw []byte) ([]record, defaults, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, defaults{}, yamlError(err)
	}
	if len(doc.Content) == 0 {
		return nil, defaults{}, malformed(FormatYAML, pos{line: 1, column: 1}, -1, "", "empty input")
	}

	root := resolve(doc.Content[0])
	switch root.Kind {
	case yaml.SequenceNode:
		recs, err := yamlRecords(root)
		return recs, defaults{}, err

	case yaml.MappingNode:
		top := make(map[string]string)
		var (
			recs  []record
			found bool
		)
		for i := 0; i+1 < len(root.Content); i += 2 {
			key := strings.ToLower(root.Content[i].Value)
			val := resolve(root.Content[i+1])
			if !found && recordArrayKeys[key] && val.Kind == yaml.SequenceNode {
				var err error
				if recs, err = yamlRecords(val); err != nil {
					return nil, defaults{}, err
				}
				found = true
				continue
			}
			if s, ok := yamlScalar(val); ok {
				top[key] = s
			}
		}
		if !found {
			return []record{{fields: top, pos: nodePos(root)}}, defaults{}, nil
		}
		var defs defaults
		defs.instrument, _ = lookup(top, instrumentFields)
		defs.source, _ = lookup(top, sourceFields)
		return recs, defs, nil

	default:
		return nil, defaults{}, malformed(FormatYAML, nodePos(root), -1, "", "expected a sequence or mapping")
	}
}

func yamlRecords(seq *yaml.Node) ([]record, error) {
	recs := make([]record, 0, len(seq.Content))
	for i, n := range seq.Content {
		n = resolve(n)
		switch n.Kind {
		case yaml.MappingNode:
			fields := make(map[string]string, len(n.Content)/2)
			for j := 0; j+1 < len(n.Content); j += 2 {
				if s, ok := yamlScalar(resolve(n.Content[j+1])); ok {
					fields[strings.ToLower(n.Content[j].Value)] = s
				}
			}
			recs = append(recs, record{fields: fields, pos: nodePos(n)})
		case yaml.SequenceNode:
			vals := make([]string, len(n.Content))
			for j, c := range n.Content {
				vals[j], _ = yamlScalar(resolve(c))
			}
			recs = append(recs, record{fields: positional(vals), pos: nodePos(n)})
		default:
			return nil, malformed(FormatYAML, nodePos(n), i, "", "record is not a mapping or sequence")
		}
	}
	return recs, nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func yamlScalar(n *yaml.Node) (string, bool) {
	if n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return "", false
	}
	return n.Value, true
}

func nodePos(n *yaml.Node) pos {
	return pos{line: n.Line, column: n.Column}
}

// yamlError pulls the line out of a yaml.v3 message such as
// "yaml: line 3: mapping values are not allowed in this context".
func yamlError(err error) error {
	msg := err.Error()
	at := pos{line: 1, column: 1}
	var line int
	if _, scanErr := fmt.Sscanf(msg, "yaml: line %d:", &line); scanErr == nil {
		at = pos{line: line}
	}
	return malformed(FormatYAML, at, -1, "", msg)
}
