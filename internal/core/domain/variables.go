package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// VariableRef names an output variable published by an action.
type VariableRef struct {
	Namespace string
	Key       string
}

func (r VariableRef) String() string {
	return r.Namespace + "." + r.Key
}

var variableRefPattern = regexp.MustCompile(`#\{([A-Za-z0-9_-]+)\.([A-Za-z0-9_-]+)\}`)

// ParseVariableRef parses "Namespace.KEY".
func ParseVariableRef(s string) (VariableRef, error) {
	ns, key, ok := strings.Cut(s, ".")
	if !ok || ns == "" || key == "" {
		return VariableRef{}, fmt.Errorf("invalid variable reference %q (want Namespace.KEY)", s)
	}
	return VariableRef{Namespace: ns, Key: key}, nil
}

// ExtractVariableRefs returns the #{Namespace.KEY} references in s, in order
// of appearance.
func ExtractVariableRefs(s string) []VariableRef {
	matches := variableRefPattern.FindAllStringSubmatch(s, -1)
	refs := make([]VariableRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, VariableRef{Namespace: m[1], Key: m[2]})
	}
	return refs
}

// ExpandVariables replaces every #{Namespace.KEY} in s using lookup. The
// first reference lookup cannot resolve is returned as an error.
func ExpandVariables(s string, lookup func(VariableRef) (string, bool)) (string, error) {
	var missing *VariableRef
	out := variableRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := variableRefPattern.FindStringSubmatch(match)
		ref := VariableRef{Namespace: m[1], Key: m[2]}
		v, ok := lookup(ref)
		if !ok {
			if missing == nil {
				missing = &ref
			}
			return match
		}
		return v
	})
	if missing != nil {
		return "", fmt.Errorf("variable %s is not resolved", missing)
	}
	return out, nil
}
