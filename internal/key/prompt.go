package key

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user for a passphrase
type Prompter interface {
	ReadPassphrase(prompt string) ([]byte, error)
}

// Terminal prompts on Out and reads from In, without echo when In is a tty
type Terminal struct {
	In  *os.File
	Out io.Writer
}

// NewTerminal prompts on stderr and reads stdin
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

func (t *Terminal) ReadPassphrase(prompt string) ([]byte, error) {
	fmt.Fprint(t.Out, prompt)

	fd := int(t.In.Fd())
	if term.IsTerminal(fd) {
		pass, err := term.ReadPassword(fd)
		fmt.Fprintln(t.Out)
		return pass, err
	}

	// Piped input, e.g. from a boot-time password agent
	line, err := bufio.NewReader(t.In).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
