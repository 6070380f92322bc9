package glob

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const wildcard = "*"

// ErrInvalid is matched by every compile error via errors.Is.
var ErrInvalid = errors.New("invalid glob")

// Error reports a filter string that could not be compiled.
type Error struct {
	Filter string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid glob %q: %s", e.Filter, e.Reason)
}

// Is makes errors.Is(err, ErrInvalid) hold for every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

// Kind identifies which of the three glob forms a Glob is.
type Kind int

const (
	// MatchAll matches every kind ("*").
	MatchAll Kind = iota
	// MatchPrefix matches kinds starting with a prefix ending in '/' ("irc/*").
	MatchPrefix
	// MatchExact matches one literal kind ("irc/in").
	MatchExact
)

// String returns string representation of the glob kind
func (k Kind) String() string {
	switch k {
	case MatchAll:
		return "all"
	case MatchPrefix:
		return "prefix"
	case MatchExact:
		return "exact"
	default:
		return "unknown"
	}
}

// Glob is a compiled kind filter. The zero value is not useful; build one
// with Compile.
type Glob struct {
	kind    Kind
	pattern string
}

// Compile parses a single filter string.
func Compile(filter string) (Glob, error) {
	switch {
	case filter == "":
		return Glob{}, &Error{Filter: filter, Reason: "empty filter"}
	case filter == wildcard:
		return Glob{kind: MatchAll}, nil
	case !strings.Contains(filter, wildcard):
		return Glob{kind: MatchExact, pattern: filter}, nil
	case !strings.HasSuffix(filter, "/"+wildcard):
		return Glob{}, &Error{Filter: filter, Reason: "wildcard must follow a trailing slash"}
	}

	prefix := strings.TrimSuffix(filter, wildcard)
	if strings.Contains(prefix, wildcard) {
		return Glob{}, &Error{Filter: filter, Reason: "more than one wildcard"}
	}
	return Glob{kind: MatchPrefix, pattern: prefix}, nil
}

// Kind returns the form of the glob.
func (g Glob) Kind() Kind {
	return g.kind
}

// Pattern returns the literal kind for MatchExact, the prefix (including the
// trailing slash) for MatchPrefix and the empty string for MatchAll.
func (g Glob) Pattern() string {
	return g.pattern
}

// String renders the glob back into filter syntax.
func (g Glob) String() string {
	switch g.kind {
	case MatchAll:
		return wildcard
	case MatchPrefix:
		return g.pattern + wildcard
	default:
		return g.pattern
	}
}

// Match reports whether kind satisfies the glob.
func (g Glob) Match(kind string) bool {
	switch g.kind {
	case MatchAll:
		return true
	case MatchPrefix:
		return hasRunePrefix(kind, g.pattern)
	case MatchExact:
		return kind == g.pattern
	default:
		return false
	}
}

// hasRunePrefix compares s and prefix one scalar value at a time. A byte that
// is not valid UTF-8 only matches the identical byte.
func hasRunePrefix(s, prefix string) bool {
	for len(prefix) > 0 {
		if len(s) == 0 {
			return false
		}
		pr, pn := utf8.DecodeRuneInString(prefix)
		sr, sn := utf8.DecodeRuneInString(s)
		if pr != sr || pn != sn {
			return false
		}
		if pr == utf8.RuneError && pn == 1 && s[0] != prefix[0] {
			return false
		}
		prefix = prefix[pn:]
		s = s[sn:]
	}
	return true
}
