package schemaload

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMetaCommand is returned for psql meta-commands other than the
	// guard lines written by pg_dump.
	ErrMetaCommand = errors.New("unsupported psql meta-command")
	// ErrUnterminatedCopy is returned when COPY data has no \. terminator.
	ErrUnterminatedCopy = errors.New("COPY data is not terminated by \\.")
)

// Step is one unit of a plain script: a batch of SQL statements, or a
// COPY ... FROM stdin statement with its inline rows.
type Step struct {
	SQL  string
	Copy bool
	// Data holds the rows of a COPY step, without the \. terminator.
	Data []byte
}

var (
	copyFromStdin = regexp.MustCompile(`(?is)^copy\s.*\sfrom\s+stdin\b`)
	dollarQuote   = regexp.MustCompile(`^\$(?:[A-Za-z_][A-Za-z0-9_]*)?\$`)
)

// pg_dump writes these around (or at the top of) a plain dump. They only
// matter to psql and are dropped.
var guardCommands = map[string]bool{
	`\restrict`:   true,
	`\unrestrict`: true,
	`\connect`:    true,
	`\c`:          true,
}

// PlainScript validates a plain schema and splits it into steps.
//
// A line starting with a backslash is a psql meta-command only at a
// statement boundary; inside string literals, quoted identifiers, dollar
// quoted bodies and COPY data it is ordinary content.
func PlainScript(src []byte) ([]Step, error) {
	src = bytes.TrimPrefix(src, []byte("\xef\xbb\xbf"))

	if !utf8.Valid(src) {
		return nil, ErrNotUTF8
	}

	return splitScript(string(src))
}

func splitScript(script string) ([]Step, error) {
	var (
		steps      []Step
		batchStart int
		stmtBegin  = -1
	)

	flush := func(end int) {
		if sql := script[batchStart:end]; strings.TrimSpace(sql) != "" {
			steps = append(steps, Step{SQL: sql})
		}
	}

	begin := func(i int) {
		if stmtBegin < 0 {
			stmtBegin = i
		}
	}

	for i := 0; i < len(script); {
		c := script[i]

		if c == '\\' && stmtBegin < 0 && (i == 0 || script[i-1] == '\n') {
			end := lineEnd(script, i)
			line := strings.TrimSpace(script[i:end])

			if !guardCommands[strings.Fields(line)[0]] {
				return nil, fmt.Errorf("%w: %s", ErrMetaCommand, line)
			}

			flush(i)
			batchStart, i = end, end

			continue
		}

		switch {
		case strings.HasPrefix(script[i:], "--"):
			i = lineEnd(script, i)
		case strings.HasPrefix(script[i:], "/*"):
			i = skipBlockComment(script, i)
		case c == '\'':
			begin(i)
			i = skipString(script, i, isEscapeString(script, i))
		case c == '"':
			begin(i)
			i = skipIdentifier(script, i)
		case c == '$':
			begin(i)

			tag := ""
			if i == 0 || !isIdentChar(script[i-1]) {
				tag = dollarQuote.FindString(script[i:])
			}

			if tag == "" {
				i++
				continue
			}

			i = skipDollarQuoted(script, i, tag)
		case c == ';':
			if stmtBegin >= 0 && copyFromStdin.MatchString(script[stmtBegin:i]) {
				flush(stmtBegin)

				data, next, err := copyData(script, lineEnd(script, i))
				if err != nil {
					return nil, err
				}

				steps = append(steps, Step{SQL: script[stmtBegin : i+1], Copy: true, Data: data})
				batchStart, i, stmtBegin = next, next, -1

				continue
			}

			stmtBegin = -1
			i++
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
		default:
			begin(i)
			i++
		}
	}

	flush(len(script))

	return steps, nil
}

// lineEnd returns the offset just past the newline ending the line at i.
func lineEnd(script string, i int) int {
	if n := strings.IndexByte(script[i:], '\n'); n >= 0 {
		return i + n + 1
	}

	return len(script)
}

func skipBlockComment(script string, i int) int {
	depth := 0

	for i < len(script) {
		switch {
		case strings.HasPrefix(script[i:], "/*"):
			depth++
			i += 2
		case strings.HasPrefix(script[i:], "*/"):
			depth--
			i += 2

			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}

	return len(script)
}

// isEscapeString reports whether the quote at i opens an E'...' literal.
func isEscapeString(script string, i int) bool {
	if i == 0 || (script[i-1] != 'E' && script[i-1] != 'e') {
		return false
	}

	return i == 1 || !isIdentChar(script[i-2])
}

func skipString(script string, i int, escapes bool) int {
	for j := i + 1; j < len(script); j++ {
		switch {
		case escapes && script[j] == '\\':
			j++
		case script[j] == '\'':
			if j+1 < len(script) && script[j+1] == '\'' {
				j++
				continue
			}

			return j + 1
		}
	}

	return len(script)
}

func skipIdentifier(script string, i int) int {
	if n := strings.IndexByte(script[i+1:], '"'); n >= 0 {
		return i + 1 + n + 1
	}

	return len(script)
}

func skipDollarQuoted(script string, i int, tag string) int {
	body := i + len(tag)
	if n := strings.Index(script[body:], tag); n >= 0 {
		return body + n + len(tag)
	}

	return len(script)
}

// copyData reads COPY rows starting at offset start up to the \. line. It
// returns the rows and the offset after the terminator.
func copyData(script string, start int) ([]byte, int, error) {
	for i := start; i < len(script); {
		end := lineEnd(script, i)
		if strings.TrimRight(script[i:end], "\r\n") == `\.` {
			return []byte(script[start:i]), end, nil
		}

		i = end
	}

	return nil, 0, ErrUnterminatedCopy
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
