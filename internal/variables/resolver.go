// Package variables implements the `${ns.path}` substitution grammar used
// to resolve step configuration against the layered variable context
// assembled in SeedURLCrawler step 2.
package variables

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Mode selects strict-vs-lenient handling of missing keys (§4.3.a, §9 open
// question: "implementers should expose both").
type Mode string

const (
	Strict  Mode = "strict"
	Lenient Mode = "lenient"
)

// DefaultRecursionCap bounds the number of recursive substitution passes
//.
const DefaultRecursionCap = 4

var tokenPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_\-]+)*)\}`)

// escapedTokenPattern matches a backslash-escaped token so it can be
// pulled out, before substitution runs, into an opaque placeholder that
// tokenPattern will never match (§4.3.a "Backslash-escape (\${…}) yields a
// literal").
var escapedTokenPattern = regexp.MustCompile(`\\(\$\{[a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_\-]+)*\})`)

// NotFoundError is raised in strict mode when a referenced path has no
// value.
type NotFoundError struct {
	Token string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("variable not found: %s", e.Token)
}

// CircularReferenceError is raised when resolving a key requires resolving
// itself, directly or transitively.
type CircularReferenceError struct {
	Key string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular variable reference: %s", e.Key)
}

// Context is the layered set of namespaces a token may reference. Lookups
// walk dotted paths against nested maps.
type Context struct {
	Variables  map[string]interface{}
	Env        map[string]interface{}
	Input      map[string]interface{}
	Pagination map[string]interface{}
	Metadata   map[string]interface{}
}

func (c Context) namespace(ns string) (map[string]interface{}, bool) {
	switch ns {
	case "variables":
		return c.Variables, true
	case "ENV":
		return c.Env, true
	case "input":
		return c.Input, true
	case "pagination":
		return c.Pagination, true
	case "metadata":
		return c.Metadata, true
	default:
		return nil, false
	}
}

// Resolver substitutes ${ns.path} tokens against a Context, recursing into
// a resolved value when it itself contains tokens, up to recursionCap
// levels deep, with a circular-reference detector threaded through that
// recursion.
// A fresh Resolver should be built per invocation; Warnings accumulate
// across calls to Resolve within one Resolver's lifetime.
type Resolver struct {
	mode         Mode
	recursionCap int
	Warnings     []string
}

// New creates a Resolver. mode defaults to Strict and recursionCap to
// DefaultRecursionCap when zero-valued.
func New(mode Mode, recursionCap int) *Resolver {
	if mode == "" {
		mode = Strict
	}
	if recursionCap <= 0 {
		recursionCap = DefaultRecursionCap
	}
	return &Resolver{mode: mode, recursionCap: recursionCap}
}

// Resolve substitutes every ${ns.path} token in input against ctx. A
// token whose value itself contains further tokens is resolved
// recursively, up to recursionCap levels deep (P8: identical inputs
// produce identical output; recursive substitution terminates in <=
// recursionCap levels or raises CircularReferenceError).
func (r *Resolver) Resolve(input string, ctx Context) (string, error) {
	prepped, literals := escapeLiterals(input)
	resolved, err := r.substitute(prepped, ctx, nil, 0)
	if err != nil {
		return "", err
	}
	return restoreLiterals(resolved, literals), nil
}

// ResolveValue substitutes tokens in a string, then tries to parse the
// result as an integer, a float and a boolean, in that order, returning the
// first value that parses and the string otherwise. The coercion applies to
// any input, not only to a string that is a single token, and a failed parse
// is never an error, in either mode.
func (r *Resolver) ResolveValue(input string, ctx Context) (interface{}, error) {
	resolved, err := r.Resolve(input, ctx)
	if err != nil {
		return nil, err
	}
	if i, err := strconv.ParseInt(resolved, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(resolved, 64); err == nil {
		return f, nil
	}
	if b, err := strconv.ParseBool(resolved); err == nil {
		return b, nil
	}
	return resolved, nil
}

// substitute replaces every ${ns.path} token in s. chain carries the
// tokens currently being resolved on this recursion path so that a cycle
// (a -> b -> a) raises a CircularReferenceError instead of silently
// truncating once depth exceeds recursionCap; sibling tokens within the
// same string (not nested inside one another's values) don't share chain
// entries, so a token repeated verbatim in the input is never mistaken for
// a cycle.
func (r *Resolver) substitute(s string, ctx Context, chain []string, depth int) (string, error) {
	if depth > r.recursionCap {
		return s, nil
	}

	var outerErr error
	result := tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		if outerErr != nil {
			return match
		}

		sub := tokenPattern.FindStringSubmatch(match)
		token := sub[1]
		for _, seen := range chain {
			if seen == token {
				outerErr = &CircularReferenceError{Key: token}
				return match
			}
		}

		parts := strings.SplitN(token, ".", 2)
		if len(parts) != 2 {
			outerErr = fmt.Errorf("malformed variable token: %s", match)
			return match
		}
		ns, path := parts[0], parts[1]

		nsMap, known := ctx.namespace(ns)
		if !known {
			if r.mode == Lenient {
				r.Warnings = append(r.Warnings, fmt.Sprintf("unknown namespace: %s", ns))
				return match
			}
			outerErr = fmt.Errorf("unknown variable namespace: %s", ns)
			return match
		}

		value, found := lookupPath(nsMap, path)
		if !found {
			if r.mode == Lenient {
				r.Warnings = append(r.Warnings, fmt.Sprintf("variable not found: %s", token))
				return match
			}
			outerErr = &NotFoundError{Token: token}
			return match
		}

		rendered := toDisplayString(value)
		if strings.Contains(rendered, "${") {
			nextChain := make([]string, len(chain), len(chain)+1)
			copy(nextChain, chain)
			nextChain = append(nextChain, token)

			nested, err := r.substitute(rendered, ctx, nextChain, depth+1)
			if err != nil {
				outerErr = err
				return match
			}
			rendered = nested
		}
		return rendered
	})

	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

// escapeLiterals pulls every backslash-escaped token out of input into an
// opaque placeholder (a NUL-delimited index no ordinary text or token
// grammar can produce), returning the literal text to restore later so
// substitute never sees, and therefore never re-resolves, an escaped
// token.
func escapeLiterals(input string) (string, []string) {
	var literals []string
	out := escapedTokenPattern.ReplaceAllStringFunc(input, func(m string) string {
		literal := m[1:] // strip the escaping backslash
		placeholder := fmt.Sprintf("\x00ESC%d\x00", len(literals))
		literals = append(literals, literal)
		return placeholder
	})
	return out, literals
}

// restoreLiterals substitutes back the literal text of every escaped
// token pulled out by escapeLiterals.
func restoreLiterals(s string, literals []string) string {
	for i, literal := range literals {
		placeholder := fmt.Sprintf("\x00ESC%d\x00", i)
		s = strings.ReplaceAll(s, placeholder, literal)
	}
	return s
}

// toDisplayString renders a resolved value for inline string substitution.
func toDisplayString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// lookupPath walks a dotted path through nested maps (map[string]interface{}
// at every level; non-map intermediate values fail the lookup).
func lookupPath(root map[string]interface{}, path string) (interface{}, bool) {
	if root == nil {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current interface{} = root
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
