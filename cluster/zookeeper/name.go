package zookeeper

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRegex matches {placeholder} segments in a lock name template.
var placeholderRegex = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Params binds a lock name template's placeholders to values at acquisition
// time.
type Params map[string]string

// LockName is an immutable lock name template, e.g. "resource-{id}". Resolving
// it against Params yields the relative znode key the lock's claims are
// entered under.
type LockName struct {
	template     string
	placeholders []string
}

// NewLockName parses and validates a lock name template.
func NewLockName(template string) (LockName, error) {
	if template == "" {
		return LockName{}, ErrConfiguration{message: "lock name must not be empty"}
	}
	if strings.ContainsAny(template, "/ ") {
		return LockName{}, ErrConfiguration{message: fmt.Sprintf("invalid lock name %q", template)}
	}

	// Any brace remaining once placeholders are stripped means the template
	// is malformed.
	if rest := placeholderRegex.ReplaceAllString(template, ""); strings.ContainsAny(rest, "{}") {
		return LockName{}, ErrConfiguration{message: fmt.Sprintf("malformed placeholder in lock name %q", template)}
	}

	var placeholders []string
	seen := map[string]struct{}{}
	for _, m := range placeholderRegex.FindAllStringSubmatch(template, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		placeholders = append(placeholders, m[1])
	}

	return LockName{template: template, placeholders: placeholders}, nil
}

// Template returns the raw template string.
func (n LockName) Template() string {
	return n.template
}

// Resolve binds params to the template, producing the lock's relative key.
// It's deterministic: equal params always resolve to the same key, and
// distinct params to distinct keys. Missing or unrecognized params fail with
// ErrConfiguration rather than being silently ignored.
func (n LockName) Resolve(params Params) (string, error) {
	for k := range params {
		if !n.recognized(k) {
			return "", ErrConfiguration{message: fmt.Sprintf("unrecognized lock parameter %q", k)}
		}
	}

	var resolveErr error
	key := placeholderRegex.ReplaceAllStringFunc(n.template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		switch {
		case !ok:
			resolveErr = ErrConfiguration{message: fmt.Sprintf("missing lock parameter %q", name)}
		case v == "" || strings.ContainsAny(v, "/{} "):
			// Values that could blur placeholder boundaries or escape the
			// lock's znode are rejected outright.
			resolveErr = ErrConfiguration{message: fmt.Sprintf("invalid value %q for lock parameter %q", v, name)}
		}
		return v
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	return key, nil
}

func (n LockName) recognized(param string) bool {
	for _, p := range n.placeholders {
		if p == param {
			return true
		}
	}
	return false
}
