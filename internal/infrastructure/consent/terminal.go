// Package consent implements interactive permission prompts.
package consent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
)

// TerminalPrompter asks for consent on the controlling terminal. Declining
// or aborting the prompt denies the request; running without a terminal
// denies with an explanation of what was requested.
type TerminalPrompter struct{}

// NewTerminalPrompter creates a terminal-backed consent prompter.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{}
}

// IsInteractive checks if we're running in an interactive terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// RequestConsent implements ports.ConsentPrompter.
func (p *TerminalPrompter) RequestConsent(_ context.Context, req ports.ConsentRequest) (bool, error) {
	if !p.IsInteractive() {
		return false, p.formatNonInteractiveError(req)
	}

	var approved bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("%s requests additional permissions", req.DisplayName)).
		Description(describeRequest(req)).
		Affirmative("Allow").
		Negative("Deny").
		Value(&approved).
		Run()
	if err != nil {
		return false, err
	}
	return approved, nil
}

func describeRequest(req ports.ConsentRequest) string {
	var b strings.Builder
	for _, name := range req.Permissions {
		if name == permissions.Network && req.NetworkHost != "" {
			fmt.Fprintf(&b, "  - network access to %s\n", req.NetworkHost)
			continue
		}
		fmt.Fprintf(&b, "  - %s\n", permissions.Describe(name))
	}
	if req.Reason != "" {
		fmt.Fprintf(&b, "\nRequested while calling %s", req.Reason)
	}
	return b.String()
}

func (p *TerminalPrompter) formatNonInteractiveError(req ports.ConsentRequest) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "extension %s requires additional permissions (running in non-interactive mode)\n\n", req.ExtensionID)
	msg.WriteString("Required permissions:\n")
	msg.WriteString(describeRequest(req))
	msg.WriteString("\nRun interactively and approve when prompted, or grant them with 'gridlet permissions grant'\n")
	return fmt.Errorf("%s", msg.String())
}
