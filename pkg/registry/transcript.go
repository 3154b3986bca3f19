package registry

import (
	"path/filepath"
	"strings"
)

const fence = "```"

// Transcript is the room-facing log of one copy invocation, rendered as a
// fenced code block.
type Transcript struct {
	b strings.Builder
}

// NewTranscript opens the block with the invocation line. Only the base
// name of program is shown.
func NewTranscript(program string, args []string) *Transcript {
	t := &Transcript{}
	t.b.WriteString(fence)
	t.b.WriteString("\notcbot$> ")
	t.b.WriteString(filepath.Base(program))
	if len(args) > 0 {
		t.b.WriteString(" ")
		t.b.WriteString(strings.Join(args, " "))
	}
	t.b.WriteString("\n")
	return t
}

// Output appends the process output after a blank line.
func (t *Transcript) Output(s string) {
	t.b.WriteString("\n")
	t.b.WriteString(s)
}

// String closes the block and returns it. The transcript must not be
// written to afterwards.
func (t *Transcript) String() string {
	return t.b.String() + "\n" + fence
}
