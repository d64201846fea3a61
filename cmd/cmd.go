package cmd

import (
	"os/exec"
	"strings"
)

// Executor runs prepared commands.
type Executor interface {
	Run(cmd *exec.Cmd) error
	Output(cmd *exec.Cmd) ([]byte, error)
	CombinedOutput(cmd *exec.Cmd) ([]byte, error)
}

// Exec is the Executor backed by os/exec.
type Exec struct{}

func (e Exec) Run(cmd *exec.Cmd) error {
	return cmd.Run()
}

func (e Exec) Output(cmd *exec.Cmd) ([]byte, error) {
	return cmd.Output()
}

func (e Exec) CombinedOutput(cmd *exec.Cmd) ([]byte, error) {
	return cmd.CombinedOutput()
}

// MakeExecutor returns the default Executor.
func MakeExecutor() Executor {
	return Exec{}
}

// ToString renders a command for logs and error messages.
func ToString(cmd *exec.Cmd) string {
	if cmd == nil {
		return "<nil>"
	}
	return strings.Join(cmd.Args, " ")
}

// MockExecutor records commands and replies through the configured funcs. Nil funcs succeed with no output.
type MockExecutor struct {
	RunFunc    func(cmd *exec.Cmd) error
	OutputFunc func(cmd *exec.Cmd) ([]byte, error)

	Commands []*exec.Cmd
}

func (m *MockExecutor) Run(cmd *exec.Cmd) error {
	m.Commands = append(m.Commands, cmd)
	if m.RunFunc != nil {
		return m.RunFunc(cmd)
	}
	return nil
}

func (m *MockExecutor) Output(cmd *exec.Cmd) ([]byte, error) {
	m.Commands = append(m.Commands, cmd)
	if m.OutputFunc != nil {
		return m.OutputFunc(cmd)
	}
	return nil, nil
}

func (m *MockExecutor) CombinedOutput(cmd *exec.Cmd) ([]byte, error) {
	return m.Output(cmd)
}
