// Package jsonvars binds the fields of a JSON request body to variables.
package jsonvars

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrEmptyBody is returned for requests without a body
	ErrEmptyBody = errors.New("request body is empty")
	// ErrNotObject is returned when the document is not a JSON object
	ErrNotObject = errors.New("request body is not a JSON object")
	// ErrTooManyVariables is returned when a document expands past the limit
	ErrTooManyVariables = errors.New("JSON document binds too many variables")
)

const (
	DefaultMaxDepth     = 8
	DefaultMaxVariables = 1024
)

var api = jsoniter.Config{
	UseNumber:   true,
	SortMapKeys: true,
	EscapeHTML:  false,
}.Froze()

// DecodeErrorName is the variable, after the prefix, that carries decode
// failures. Documents cannot bind it.
const DecodeErrorName = "decode_error"

// Decoder flattens a JSON object into named values.
//
// Every member becomes <prefix><key>; nested members append _<key> or _<index>.
// Objects and arrays are also bound to their own name as compact JSON.
// Containers nested deeper than MaxDepth are only bound as JSON text.
//
// Keys are sanitized, so several members can map to the same name. The first
// binding of a name wins, and members are visited level by level: a shallower
// member beats a nested one, at the same depth a key that needed no
// sanitizing beats one that did, and otherwise the smaller raw key wins.
type Decoder struct {
	MaxDepth     int
	MaxVariables int
}

// NewDecoder creates a decoder with the given limits
func NewDecoder(maxDepth, maxVariables int) *Decoder {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxVariables <= 0 {
		maxVariables = DefaultMaxVariables
	}
	return &Decoder{MaxDepth: maxDepth, MaxVariables: maxVariables}
}

type member struct {
	name  string
	value any
	depth int
}

// Decode parses body and returns the variables it binds
func (d *Decoder) Decode(body []byte, prefix string) (map[string]string, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	var doc any
	if err := api.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	root, ok := doc.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	vars := make(map[string]string, len(root))
	vars[prefix+DecodeErrorName] = ""

	queue := objectMembers(prefix, root, 1)
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		if _, taken := vars[m.name]; taken {
			continue
		}
		if len(vars) > d.MaxVariables {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyVariables, d.MaxVariables)
		}

		value, err := scalarOrJSON(m.value)
		if err != nil {
			return nil, err
		}
		vars[m.name] = value

		if m.depth >= d.MaxDepth {
			continue
		}
		switch v := m.value.(type) {
		case map[string]any:
			queue = append(queue, objectMembers(m.name+"_", v, m.depth+1)...)
		case []any:
			for i, elem := range v {
				queue = append(queue, member{name: m.name + "_" + strconv.Itoa(i), value: elem, depth: m.depth + 1})
			}
		}
	}

	delete(vars, prefix+DecodeErrorName)
	return vars, nil
}

// objectMembers lists the members of obj in binding precedence order
func objectMembers(prefix string, obj map[string]any, depth int) []member {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci := pipeline.SanitizeName(keys[i]) == keys[i]
		cj := pipeline.SanitizeName(keys[j]) == keys[j]
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})

	members := make([]member, 0, len(keys))
	for _, key := range keys {
		members = append(members, member{name: prefix + pipeline.SanitizeName(key), value: obj[key], depth: depth})
	}
	return members
}

func scalarOrJSON(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return v.String(), nil
	case map[string]any, []any:
		raw, err := api.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return fmt.Sprint(value), nil
}
