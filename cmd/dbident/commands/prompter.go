package commands

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/identkit/dbident/internal/authflow"
)

// terminalPrompter writes login prompts to stderr, keeping stdout free for
// token output that callers pipe into other tools.
type terminalPrompter struct {
	interactive bool
}

var _ authflow.Prompter = (*terminalPrompter)(nil)

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{
		interactive: term.IsTerminal(int(os.Stderr.Fd())),
	}
}

func (p *terminalPrompter) ShowDeviceCodeMessage(userCode, verificationURL string) {
	if p.interactive {
		fmt.Fprintf(os.Stderr, "\nTo sign in, open %s and enter the code %s\n\n", verificationURL, userCode)
		return
	}
	fmt.Fprintf(os.Stderr, "device login: url=%s code=%s\n", verificationURL, userCode)
}

func (p *terminalPrompter) ShowError(message string) {
	fmt.Fprintln(os.Stderr, "Error:", message)
}

func (p *terminalPrompter) ShowInfo(message string) {
	fmt.Fprintln(os.Stderr, message)
}
