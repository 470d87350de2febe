package database

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// Command describes one client tool invocation.
type Command struct {
	Name string
	Args []string
	// Env entries are appended to the current process environment.
	Env []string
}

// CommandRunner executes client tool commands. The production runner
// shells out; tests substitute a recording fake.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (stdout string, stderr string, err error)
	LookPath(tool string) error
}

type execRunner struct{}

// NewExecRunner returns a CommandRunner backed by os/exec.
func NewExecRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, cmd Command) (string, string, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	return stdout.String(), stderr.String(), err
}

func (execRunner) LookPath(tool string) error {
	_, err := exec.LookPath(tool)
	return err
}
