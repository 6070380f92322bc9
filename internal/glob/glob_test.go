package glob

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		filter  string
		kind    Kind
		pattern string
	}{
		{"*", MatchAll, ""},
		{"a/b", MatchExact, "a/b"},
		{"a/*", MatchPrefix, "a/"},
		{"foo/qux/*", MatchPrefix, "foo/qux/"},
		{"/*", MatchPrefix, "/"},
		{"hash#", MatchExact, "hash#"},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			g, err := Compile(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, g.Kind())
			assert.Equal(t, tt.pattern, g.Pattern())
			assert.Equal(t, tt.filter, g.String())
		})
	}
}

func TestCompileInvalid(t *testing.T) {
	for _, filter := range []string{
		"",
		"a*b",
		"a/*/b",
		"a*/b*",
		"oops*",
		"oops/*/fail/*",
		"f*il/oops/*",
		"**",
		"a/**",
	} {
		t.Run(filter, func(t *testing.T) {
			_, err := Compile(filter)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))

			var globErr *Error
			require.True(t, errors.As(err, &globErr))
			assert.Equal(t, filter, globErr.Filter)
		})
	}
}

func TestGlobMatch(t *testing.T) {
	all, _ := Compile("*")
	prefix, _ := Compile("irc/*")
	exact, _ := Compile("irc/in")

	for _, kind := range []string{"", "irc/in", "po/ta/to", "x"} {
		assert.True(t, all.Match(kind), "MatchAll should match %q", kind)
	}

	assert.True(t, prefix.Match("irc/in"))
	assert.True(t, prefix.Match("irc/"))
	assert.False(t, prefix.Match("ircX/in"))
	assert.False(t, prefix.Match("irc"))
	assert.False(t, prefix.Match("xyz/in"))

	assert.True(t, exact.Match("irc/in"))
	assert.False(t, exact.Match("irc/out"))
	assert.False(t, exact.Match("irc/in/more"))
}

func TestHasRunePrefixInvalidUTF8(t *testing.T) {
	assert.True(t, hasRunePrefix("\xffabc", "\xff"))
	assert.False(t, hasRunePrefix("\xefabc", "\xff"))
	assert.False(t, hasRunePrefix("ab", "abc"))
}
