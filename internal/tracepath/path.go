// Package tracepath parses and orders the path keys that identify internal
// calls inside a transaction's call tree.
//
// A key such as "10_7_1_0" splits on "_" into tokens. Every token is either a
// decimal integer or one of the reserved tokens "v" (validation call) and "f"
// (fee-payment call). The empty path is the synthetic root shared by every
// top-level call of a batch.
//
// Paths order token by token, comparing tokens as strings ("10" < "2"), with a
// prefix sorting before its extensions. This is the order the call tree
// builder expects its input in.
package tracepath

import (
	"fmt"
	"slices"
	"strings"
)

// Delimiter separates tokens in a path key.
const Delimiter = "_"

// Reserved tokens.
const (
	TokenValidate = "v"
	TokenFee      = "f"
)

// Path is a call's position in the call tree. The zero value is the root.
type Path []string

// Root is the synthetic root path.
var Root = Path{}

// PathError reports a key that does not tokenize into a valid path.
type PathError struct {
	Key    string
	Token  int // index of the offending token, -1 for the whole key
	Reason string
}

func (e *PathError) Error() string {
	if e.Token >= 0 {
		return fmt.Sprintf("malformed path %q: token %d: %s", e.Key, e.Token, e.Reason)
	}
	return fmt.Sprintf("malformed path %q: %s", e.Key, e.Reason)
}

// Parse splits a raw key into a Path. The key is taken as is: surrounding
// whitespace is an error, so callers trim their input fields first.
func Parse(key string) (Path, error) {
	if strings.TrimSpace(key) != key {
		return nil, &PathError{Key: key, Token: -1, Reason: "surrounding whitespace"}
	}
	if key == "" {
		return nil, &PathError{Key: key, Token: -1, Reason: "empty key"}
	}

	tokens := strings.Split(key, Delimiter)
	for i, tok := range tokens {
		if tok == "" {
			return nil, &PathError{Key: key, Token: i, Reason: "empty token"}
		}
		if !validToken(tok) {
			return nil, &PathError{Key: key, Token: i, Reason: fmt.Sprintf("unexpected token %q", tok)}
		}
	}
	return Path(tokens), nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse(key string) Path {
	p, err := Parse(key)
	if err != nil {
		panic(err)
	}
	return p
}

func validToken(tok string) bool {
	if tok == TokenValidate || tok == TokenFee {
		return true
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Key returns the delimiter-joined form of p. Key(Parse(k)) == k whenever
// Parse accepts k.
func (p Path) Key() string {
	return strings.Join(p, Delimiter)
}

func (p Path) String() string {
	if len(p) == 0 {
		return "<root>"
	}
	return p.Key()
}

// IsRoot reports whether p is the synthetic root.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Parent returns p with its last token removed.
// The root has no parent.
func (p Path) Parent() (Path, bool) {
	if len(p) == 0 {
		return nil, false
	}
	return p[:len(p)-1], true
}

// Last returns the final token, or "" for the root.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Reserved reports whether p ends in a validation or fee-payment token.
func (p Path) Reserved() bool {
	last := p.Last()
	return last == TokenValidate || last == TokenFee
}

// ContainsReserved reports whether any token of p is reserved, i.e. p is a
// validation or fee-payment call or nested under one.
func (p Path) ContainsReserved() bool {
	for _, tok := range p {
		if tok == TokenValidate || tok == TokenFee {
			return true
		}
	}
	return false
}

// Compare orders paths token by token using string comparison.
// Returns -1, 0 or +1.
func Compare(a, b Path) int {
	return slices.Compare(a, b)
}
