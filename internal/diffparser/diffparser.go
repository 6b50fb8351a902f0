// Package diffparser turns a unified diff into a structured list of
// file-patches with per-line old/new line numbers and change kinds.
//
// The algorithm is a direct generalization of nose_bleed/diff.py's
// DiffParser (an adaptation of lodgeit's lib/diff.py): a line-by-line
// state machine with states HEADER, FILE_INTRO and CHUNK, the same
// chunk-header regexp, and the same old_line/new_line counters seeded
// at start-1 and incremented per affected side.
package diffparser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/HexmosTech/kleenex-go/internal/kerrors"
)

// Action classifies a single diff body line.
type Action int

const (
	// Unmod is a context line: present on both sides.
	Unmod Action = iota
	// Add is a line only present on the new side.
	Add
	// Del is a line only present on the old side.
	Del
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Del:
		return "del"
	default:
		return "unmod"
	}
}

// DiffLine is one line of a hunk body. Exactly one of OldLineno,
// NewLineno is zero (meaning "no line on that side") iff the line
// exists only on the opposite side.
type DiffLine struct {
	OldLineno int // 0 means "not present on the old side"
	NewLineno int // 0 means "not present on the new side"
	Action    Action
	Text      string
}

// Chunk is one `@@ ... @@` hunk's body lines, in order.
type Chunk struct {
	OldStart, OldLen int
	NewStart, NewLen int
	Lines            []DiffLine
}

// FilePatch is either a header block (commit preamble or an
// inter-file gap) or a file's old/new path pair plus its chunks.
type FilePatch struct {
	IsHeader bool
	OldPath  string
	NewPath  string
	Chunks   []Chunk

	// HeaderLines holds the raw preamble text when IsHeader is true.
	HeaderLines []string
}

// IsNewFile reports whether OldPath denotes a newly added file.
func (f *FilePatch) IsNewFile() bool { return f.OldPath == "/dev/null" }

// IsDeletedFile reports whether NewPath denotes a removed file.
func (f *FilePatch) IsDeletedFile() bool { return f.NewPath == "/dev/null" }

// Patch is the full parsed diff: an ordered sequence of file-patches.
type Patch struct {
	Files []FilePatch
}

var chunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

type parserState int

const (
	stateHeader parserState = iota
	stateFileIntro
	stateChunk
)

// Parse parses a complete unified-diff buffer. It is not restartable
// and not lazy: the whole input is consumed and a finite Patch is
// returned, or a *kerrors.MalformedDiff on the first chunk header that
// does not parse.
func Parse(buf []byte) (*Patch, error) {
	text := string(buf)
	lines := splitLines(text)

	patch := &Patch{}
	if len(lines) == 0 {
		return patch, nil
	}

	state := stateHeader
	var header []string
	i := 0
	n := len(lines)

	for i < n {
		line := lines[i]

		switch state {
		case stateHeader:
			if strings.HasPrefix(line, "--- ") {
				if nonEmptyHeader(header) {
					patch.Files = append(patch.Files, FilePatch{IsHeader: true, HeaderLines: header})
				}
				header = nil
				state = stateFileIntro
				continue
			}
			header = append(header, line)
			i++

		case stateFileIntro:
			oldLine := line
			var newLine string
			if i+1 < n {
				newLine = lines[i+1]
			}
			oldPath, _ := extractRev(oldLine, "--- ")
			newPath, _ := extractRev(newLine, "+++ ")

			patch.Files = append(patch.Files, FilePatch{
				OldPath: oldPath,
				NewPath: newPath,
			})
			i += 2
			state = stateChunk

		case stateChunk:
			if i >= n {
				break
			}
			if !strings.HasPrefix(line, "@@") {
				// Blank/foreign line between chunks: re-enter HEADER,
				// possibly starting a new preamble block.
				state = stateHeader
				continue
			}

			chunk, consumed, eof, err := parseChunk(lines, i)
			if err != nil {
				return nil, err
			}
			cur := &patch.Files[len(patch.Files)-1]
			cur.Chunks = append(cur.Chunks, *chunk)
			i += consumed
			if eof {
				// The body ran out before satisfying the chunk
				// header's counts (no trailing newline on the last
				// line). Mirrors the Python parser: the line iterator
				// raising StopIteration here ends the whole parse.
				return patch, nil
			}
		}
	}

	if nonEmptyHeader(header) {
		patch.Files = append(patch.Files, FilePatch{IsHeader: true, HeaderLines: header})
	}

	return patch, nil
}

func nonEmptyHeader(header []string) bool {
	for _, l := range header {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}

// splitLines splits on \n and \r\n without losing a trailing partial
// line (unterminated final chunk line).
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	parts := strings.Split(s, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// extractRev splits a "--- path\trev" or "+++ path\trev" line into its
// filename token (first whitespace-delimited token after the prefix).
func extractRev(line, prefix string) (path string, rev string) {
	if !strings.HasPrefix(line, prefix) {
		return "", ""
	}
	rest := line[len(prefix):]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", ""
	}
	path = fields[0]
	if len(fields) > 1 {
		rev = strings.Join(fields[1:], " ")
	}
	return path, rev
}

// parseChunk parses the "@@ ... @@" header at lines[start] and its
// body, returning the chunk, the number of input lines consumed
// (header + body), and whether the input ran out before the chunk
// header's counts were satisfied.
func parseChunk(lines []string, start int) (chunk *Chunk, consumed int, eof bool, err error) {
	header := lines[start]
	m := chunkHeaderRe.FindStringSubmatch(header)
	if m == nil {
		return nil, 0, false, &kerrors.MalformedDiff{Line: start + 1, Text: header}
	}

	oldStart := atoiDefault(m[1], 1)
	oldLen := atoiDefault(m[2], 1)
	newStart := atoiDefault(m[3], 1)
	newLen := atoiDefault(m[4], 1)

	chunk = &Chunk{OldStart: oldStart, OldLen: oldLen, NewStart: newStart, NewLen: newLen}

	oldLine := oldStart - 1
	newLine := newStart - 1
	oldEnd := oldLine + oldLen
	newEnd := newLine + newLen

	i := start + 1
	n := len(lines)

	for oldLine < oldEnd || newLine < newEnd {
		if i >= n {
			// The body ran out before the chunk's declared counts
			// were satisfied (e.g. the final line of the diff has no
			// trailing newline). Not malformed — just end of input.
			return chunk, i - start, true, nil
		}
		body := lines[i]
		i++

		var command byte = ' '
		var text string
		if body != "" {
			command = body[0]
			text = body[1:]
		}

		var dl DiffLine
		switch command {
		case '+':
			newLine++
			dl = DiffLine{NewLineno: newLine, Action: Add, Text: text}
		case '-':
			oldLine++
			dl = DiffLine{OldLineno: oldLine, Action: Del, Text: text}
		default:
			oldLine++
			newLine++
			dl = DiffLine{OldLineno: oldLine, NewLineno: newLine, Action: Unmod, Text: text}
		}
		chunk.Lines = append(chunk.Lines, dl)
	}

	return chunk, i - start, false, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
