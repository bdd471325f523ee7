package probe

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"pulsemon/internal/sched"
)

const maxCapturedOutput = 4096

type commandProbe struct {
	command string
	args    []string
}

// NewCommand returns a processor that runs the given command once per
// iteration. A non-zero exit is a failed iteration; combined output (tail)
// is kept in the result for the hooks.
func NewCommand(command string, args []string) sched.Processor {
	return &commandProbe{command: command, args: args}
}

func (p *commandProbe) Process(ctx context.Context, name string, ordinal int) (sched.Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	out, err := cmd.CombinedOutput()
	took := time.Since(start)
	if err != nil {
		return sched.Result{}, fmt.Errorf("run %s: %w (output: %s)", p.command, err, tail(out))
	}

	return sched.Result{
		Runner:  name,
		Ordinal: ordinal,
		Summary: fmt.Sprintf("%s exited 0 in %s", p.command, took.Round(time.Millisecond)),
		Data: map[string]any{
			"command": p.command,
			"output":  tail(out),
			"took_ms": took.Milliseconds(),
		},
	}, nil
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxCapturedOutput {
		s = "..." + s[len(s)-maxCapturedOutput:]
	}
	return s
}
