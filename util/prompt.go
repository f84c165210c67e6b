package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads secrets from the user.
type Prompter interface {
	Secret(prompt string) ([]byte, error)
}

// TermPrompter prompts on Out and reads from In.  When In is a terminal
// the input is not echoed.
type TermPrompter struct {
	In  *os.File
	Out io.Writer
}

// StdPrompter prompts on stderr and reads stdin.
func StdPrompter() *TermPrompter {
	return &TermPrompter{In: os.Stdin, Out: os.Stderr}
}

// Secret prints prompt and reads one line without echo.
func (p *TermPrompter) Secret(prompt string) ([]byte, error) {
	fmt.Fprint(p.Out, prompt)
	defer fmt.Fprintln(p.Out)

	fd := int(p.In.Fd())
	if term.IsTerminal(fd) {
		return term.ReadPassword(fd)
	}
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
