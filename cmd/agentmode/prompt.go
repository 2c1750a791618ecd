package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/Strob0t/agentmode/internal/port/workspace"
)

// terminalPrompter asks the user on the terminal to approve steps and to
// carry out work the agent hands back. Without a terminal it only answers
// from autoApprove.
type terminalPrompter struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	autoApprove bool
}

func newTerminalPrompter(autoApprove bool) *terminalPrompter {
	return &terminalPrompter{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stderr,
		interactive: term.IsTerminal(int(os.Stdin.Fd())), //nolint:gosec // G115: fd fits in int
		autoApprove: autoApprove,
	}
}

// Approve implements workspace.Approver.
func (p *terminalPrompter) Approve(ctx context.Context, req workspace.ApprovalRequest) (bool, error) {
	if p.autoApprove {
		return true, nil
	}
	if !p.interactive {
		return false, nil
	}
	answer, err := p.ask(ctx, fmt.Sprintf("Step %q wants to %s. Allow? [y/N] ", req.Title, req.Action))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// RequestAssistance implements workspace.Assistant.
func (p *terminalPrompter) RequestAssistance(ctx context.Context, req workspace.AssistanceRequest) (string, error) {
	if !p.interactive {
		return "", fmt.Errorf("%s: %w", req.Instruction, workspace.ErrUserActionRequired)
	}
	answer, err := p.ask(ctx, fmt.Sprintf("The agent needs your help:\n  %s\nDescribe what you did (empty to give up): ", req.Instruction))
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", fmt.Errorf("%s: %w", req.Instruction, workspace.ErrUserActionRequired)
	}
	return answer, nil
}

func (p *terminalPrompter) ask(ctx context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, _ = fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}
