package pipeline

import (
	"sort"
	"strings"
)

// Variables holds the named values later phases can reference as $name.
type Variables struct {
	values map[string]string
}

func newVariables() *Variables {
	return &Variables{values: make(map[string]string)}
}

// Set stores value under name, replacing any previous value
func (v *Variables) Set(name, value string) {
	v.values[name] = value
}

// Get returns the value stored under name
func (v *Variables) Get(name string) (string, bool) {
	value, ok := v.values[name]
	return value, ok
}

// Len returns the number of stored variables
func (v *Variables) Len() int {
	return len(v.values)
}

// Names returns the stored variable names in sorted order
func (v *Variables) Names() []string {
	names := make([]string, 0, len(v.values))
	for name := range v.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand replaces $name and ${name} references in tmpl using lookup.
// Unknown variables expand to the empty string; a lone '$' is kept.
func Expand(tmpl string, lookup func(name string) (string, bool)) string {
	if strings.IndexByte(tmpl, '$') < 0 {
		return tmpl
	}

	var sb strings.Builder
	sb.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c != '$' || i+1 == len(tmpl) {
			sb.WriteByte(c)
			i++
			continue
		}

		var name string
		var next int
		if tmpl[i+1] == '{' {
			end := strings.IndexByte(tmpl[i+2:], '}')
			if end < 0 {
				sb.WriteString(tmpl[i:])
				break
			}
			name = tmpl[i+2 : i+2+end]
			next = i + 3 + end
		} else {
			j := i + 1
			for j < len(tmpl) && isNameChar(tmpl[j]) {
				j++
			}
			name = tmpl[i+1 : j]
			next = j
		}

		if name == "" {
			sb.WriteByte(c)
			i++
			continue
		}

		if value, ok := lookup(name); ok {
			sb.WriteString(value)
		}
		i = next
	}

	return sb.String()
}

func isNameChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// SanitizeName maps s onto the variable name alphabet
func SanitizeName(s string) string {
	b := []byte(s)
	for i := range b {
		if !isNameChar(b[i]) {
			b[i] = '_'
		}
	}
	return string(b)
}
