// Package initfile reads the broker's plugin list.
//
// The format is one plugin per line:
//
//	# comment
//	irc: ./irc-bridge --server irc.libera.chat
//	log: ./logger
//
// Whitespace around the name and the command is ignored, as are blank lines
// and lines whose first non-blank character is '#'. A line is split at its
// first colon, so commands may contain colons but names may not.
package initfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/codefionn/cylonn/internal/consts"
)

// Reason explains why a line was rejected.
type Reason int

const (
	// NoColon means the line has no ':' delimiter.
	NoColon Reason = iota + 1
	// NoName means the part before the colon is blank.
	NoName
	// NoCommand means the part after the colon is blank.
	NoCommand
	// DuplicateName means an earlier line already declared the same name.
	DuplicateName
)

// String returns string representation of the reason
func (r Reason) String() string {
	switch r {
	case NoColon:
		return "no colon delimiter found"
	case NoName:
		return "plugin has no name"
	case NoCommand:
		return "plugin has no command"
	case DuplicateName:
		return "plugin name declared twice"
	default:
		return "unknown syntax error"
	}
}

// SyntaxError reports a malformed line with its 1-based line number.
type SyntaxError struct {
	Line   int
	Reason Reason
	Text   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Mode selects how Parse treats malformed lines.
type Mode int

const (
	// Strict aborts on the first malformed line.
	Strict Mode = iota
	// Lenient skips malformed lines and reports them in File.Skipped.
	Lenient
)

// ParseMode maps "strict"/"lenient" onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	default:
		return Strict, fmt.Errorf("unknown init mode %q (want strict or lenient)", s)
	}
}

// String returns string representation of the mode
func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

// Entry is one declared plugin.
type Entry struct {
	Name    string
	Command string
	Line    int
}

// File is the result of parsing an init list.
type File struct {
	Entries []Entry
	// Skipped holds the lines dropped in Lenient mode. Always empty in Strict mode.
	Skipped []*SyntaxError
}

// SkippedErr joins the skipped lines into one error, nil if none.
func (f *File) SkippedErr() error {
	if f == nil || len(f.Skipped) == 0 {
		return nil
	}
	errs := make([]error, len(f.Skipped))
	for i, s := range f.Skipped {
		errs[i] = s
	}
	return errors.Join(errs...)
}

// ParseLine parses a single line. ok is false for blank and comment lines.
func ParseLine(line string) (entry Entry, ok bool, err error) {
	ln := strings.TrimSpace(line)
	if ln == "" || strings.HasPrefix(ln, "#") {
		return Entry{}, false, nil
	}

	name, cmd, found := strings.Cut(ln, ":")
	if !found {
		return Entry{}, false, &SyntaxError{Reason: NoColon, Text: line}
	}
	name = strings.TrimSpace(name)
	cmd = strings.TrimSpace(cmd)
	if name == "" {
		return Entry{}, false, &SyntaxError{Reason: NoName, Text: line}
	}
	if cmd == "" {
		return Entry{}, false, &SyntaxError{Reason: NoCommand, Text: line}
	}
	return Entry{Name: name, Command: cmd}, true, nil
}

// Parse reads an init list from r.
func Parse(r io.Reader, mode Mode) (*File, error) {
	file := &File{}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, consts.BufferSize4KB), consts.BufferSize64KB)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()

		entry, ok, err := ParseLine(text)
		if err == nil && ok && seen[entry.Name] {
			err = &SyntaxError{Reason: DuplicateName, Text: text}
		}
		if err != nil {
			var syntaxErr *SyntaxError
			if errors.As(err, &syntaxErr) {
				syntaxErr.Line = lineNo
			}
			if mode == Strict {
				return nil, err
			}
			file.Skipped = append(file.Skipped, syntaxErr)
			continue
		}
		if !ok {
			continue
		}

		entry.Line = lineNo
		seen[entry.Name] = true
		file.Entries = append(file.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read init list: %w", err)
	}
	return file, nil
}

// Read opens and parses the init file at path.
func Read(path string, mode Mode) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open init file: %w", err)
	}
	defer f.Close()

	file, err := Parse(f, mode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}
