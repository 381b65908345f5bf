package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// LangToken is replaced in play command arguments by the request language.
const LangToken = "{lang}"

// CommandPlayer pipes a WAV into a local command such as "aplay -q".
type CommandPlayer struct {
	args []string
}

func NewCommandPlayer(template string) (*CommandPlayer, error) {
	args, err := shellwords.Parse(template)
	if err != nil {
		return nil, fmt.Errorf("parse play command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("play command empty")
	}
	return &CommandPlayer{args: args}, nil
}

// Command returns the argv used for lang.
func (p *CommandPlayer) Command(lang string) []string {
	out := make([]string, len(p.args))
	for i, a := range p.args {
		out[i] = strings.ReplaceAll(a, LangToken, lang)
	}
	return out
}

// Play blocks until the command exits.
func (p *CommandPlayer) Play(ctx context.Context, wav []byte, lang string) error {
	argv := p.Command(lang)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(wav)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v%s", ErrPlayback, argv[0], err, stderrSuffix(&stderr))
	}
	return nil
}
