// Package specdoc models the per-assignment test specification document and
// where it is kept. The document is an open JSON tree: only the parts the
// integration reads are interpreted, everything else round-trips verbatim.
package specdoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Document is the root object of a spec document.
type Document map[string]any

// Parse decodes data keeping numbers exact.
func Parse(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	doc := Document{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse spec document: %w", err)
	}
	return doc, nil
}

func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Clone deep-copies the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return deepCopy(map[string]any(d)).(map[string]any)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case Document:
		return deepCopy(map[string]any(t))
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = deepCopy(e)
		}
		return s
	case []string:
		s := make([]string, len(t))
		copy(s, t)
		return s
	default:
		return v
	}
}

// Object returns the object at key, or nil.
func (d Document) Object(key string) map[string]any {
	m, _ := d[key].(map[string]any)
	return m
}

// GroupSpecs walks testers[*].test_data[*] in document order. Entries
// without an extra_info object get an empty one so that ids written back
// land in the document.
func (d Document) GroupSpecs() []GroupSpec {
	var specs []GroupSpec
	testers, _ := d["testers"].([]any)
	for _, tester := range testers {
		testerObj, ok := tester.(map[string]any)
		if !ok {
			continue
		}
		testData, _ := testerObj["test_data"].([]any)
		for _, group := range testData {
			groupObj, ok := group.(map[string]any)
			if !ok {
				continue
			}
			extra, ok := groupObj["extra_info"].(map[string]any)
			if !ok {
				extra = map[string]any{}
				groupObj["extra_info"] = extra
			}
			specs = append(specs, GroupSpec{extra: extra})
		}
	}
	return specs
}

// GroupSpec is a handle on one test group's extra_info block.
type GroupSpec struct {
	extra map[string]any
}

func (g GroupSpec) TestGroupID() (int64, bool) {
	return toInt64(g.extra["test_group_id"])
}

func (g GroupSpec) SetTestGroupID(id int64) {
	g.extra["test_group_id"] = id
}

func (g GroupSpec) Name() (string, bool) {
	return g.str("name")
}

func (g GroupSpec) DisplayOutput() (string, bool) {
	return g.str("display_output")
}

// Criterion is the "type:name" identifier, if any.
func (g GroupSpec) Criterion() (string, bool) {
	return g.str("criterion")
}

func (g GroupSpec) str(key string) (string, bool) {
	s, ok := g.extra[key].(string)
	return s, ok
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := strconv.ParseFloat(n.String(), 64)
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
