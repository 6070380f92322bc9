package initfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Entry
	}{
		{"simple", "test: run -a script", Entry{Name: "test", Command: "run -a script"}},
		{"spacey", "  test :  run -a script  ", Entry{Name: "test", Command: "run -a script"}},
		{"hash in name", "hash#: this is valid", Entry{Name: "hash#", Command: "this is valid"}},
		{"colon in command", "web: curl http://localhost:8080", Entry{Name: "web", Command: "curl http://localhost:8080"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok, err := ParseLine(tt.line)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, entry)
		})
	}
}

func TestParseLineIgnored(t *testing.T) {
	for _, line := range []string{"", "   ", "# don't run -a script", "  # don't run -a script  "} {
		_, ok, err := ParseLine(line)
		assert.NoError(t, err, "line %q", line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestParseLineErrors(t *testing.T) {
	tests := []struct {
		line   string
		reason Reason
	}{
		{": cat /dev/null", NoName},
		{"  :  cat /dev/null   ", NoName},
		{":cmd", NoName},
		{"nothing:", NoCommand},
		{"   nothing:  ", NoCommand},
		{"name:", NoCommand},
		{"no delimiter here", NoColon},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, ok, err := ParseLine(tt.line)
			assert.False(t, ok)
			var syntaxErr *SyntaxError
			require.True(t, errors.As(err, &syntaxErr))
			assert.Equal(t, tt.reason, syntaxErr.Reason)
		})
	}
}

const sample = `# plugins
irc: ./irc-bridge

log : ./logger --verbose
`

func TestParseStrict(t *testing.T) {
	file, err := Parse(strings.NewReader(sample), Strict)
	require.NoError(t, err)
	require.Len(t, file.Entries, 2)
	assert.Equal(t, Entry{Name: "irc", Command: "./irc-bridge", Line: 2}, file.Entries[0])
	assert.Equal(t, Entry{Name: "log", Command: "./logger --verbose", Line: 4}, file.Entries[1])
	assert.Empty(t, file.Skipped)
	assert.NoError(t, file.SkippedErr())
}

func TestParseStrictAbortsWithLineNumber(t *testing.T) {
	_, err := Parse(strings.NewReader("a: one\n\nbroken\nb: two\n"), Strict)
	var syntaxErr *SyntaxError
	require.True(t, errors.As(err, &syntaxErr))
	assert.Equal(t, 3, syntaxErr.Line)
	assert.Equal(t, NoColon, syntaxErr.Reason)
	assert.Equal(t, "line 3: no colon delimiter found", err.Error())
}

func TestParseLenientSkips(t *testing.T) {
	file, err := Parse(strings.NewReader("a: one\nbroken\n:x\nb: two\na: again\n"), Lenient)
	require.NoError(t, err)
	require.Len(t, file.Entries, 2)
	assert.Equal(t, "a", file.Entries[0].Name)
	assert.Equal(t, "b", file.Entries[1].Name)

	require.Len(t, file.Skipped, 3)
	assert.Equal(t, 2, file.Skipped[0].Line)
	assert.Equal(t, NoColon, file.Skipped[0].Reason)
	assert.Equal(t, 3, file.Skipped[1].Line)
	assert.Equal(t, NoName, file.Skipped[1].Reason)
	assert.Equal(t, 5, file.Skipped[2].Line)
	assert.Equal(t, DuplicateName, file.Skipped[2].Reason)
	assert.Error(t, file.SkippedErr())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Lenient")
	require.NoError(t, err)
	assert.Equal(t, Lenient, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Strict, m)

	_, err = ParseMode("sloppy")
	assert.Error(t, err)
}

func TestRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	file, err := Read(path, Strict)
	require.NoError(t, err)
	assert.Len(t, file.Entries, 2)

	_, err = Read(filepath.Join(t.TempDir(), "missing"), Strict)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
