package work

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/ByteMirror/convoy/log"
)

// CleanupGrace is how long a cancelled work procedure gets between SIGTERM and SIGKILL.
const CleanupGrace = 5 * time.Second

// Procedure does the actual work for an item inside workspace. It returns nil once the work is
// committed (or left uncommitted for the session to commit) and an error when the item was not
// completed.
type Procedure interface {
	Run(ctx context.Context, item WorkItem, workspace string) error
}

// ProcedureFunc adapts a function to Procedure.
type ProcedureFunc func(ctx context.Context, item WorkItem, workspace string) error

func (f ProcedureFunc) Run(ctx context.Context, item WorkItem, workspace string) error {
	return f(ctx, item, workspace)
}

// PtyFactory starts commands attached to a pseudo-terminal.
type PtyFactory interface {
	Start(cmd *exec.Cmd) (*os.File, error)
}

type creackPty struct{}

func (creackPty) Start(cmd *exec.Cmd) (*os.File, error) {
	return pty.Start(cmd)
}

// MakePtyFactory returns the PtyFactory backed by creack/pty.
func MakePtyFactory() PtyFactory {
	return creackPty{}
}

// CommandProcedure runs an external program with the item id appended to Argv. The program
// runs in the workspace and sees CONVOY_ITEM_ID, CONVOY_ITEM_PRIORITY and CONVOY_WORKSPACE.
type CommandProcedure struct {
	Argv []string
	// LogDir receives one <item>.log per item. Empty discards the output.
	LogDir string
	// Pty, when set, attaches the program to a pseudo-terminal. Agents that only behave
	// when they detect a terminal need this.
	Pty PtyFactory
}

func (p *CommandProcedure) Run(ctx context.Context, item WorkItem, workspace string) error {
	if len(p.Argv) == 0 {
		return errors.New("work command is empty")
	}

	args := append(append([]string{}, p.Argv[1:]...), item.ID)
	c := exec.CommandContext(ctx, p.Argv[0], args...)
	c.Dir = workspace
	c.Env = append(os.Environ(),
		"CONVOY_ITEM_ID="+item.ID,
		"CONVOY_ITEM_PRIORITY="+strconv.Itoa(item.Priority),
		"CONVOY_WORKSPACE="+workspace,
	)
	c.Cancel = func() error {
		return c.Process.Signal(syscall.SIGTERM)
	}
	c.WaitDelay = CleanupGrace

	out, closeOut, err := p.openLog(item, c)
	if err != nil {
		return err
	}
	defer closeOut()

	log.InfoLog.Printf("running %s for %s in %s", log.FormatCommand(p.Argv[0], args...), item.ID, workspace)
	if p.Pty != nil {
		err = p.runWithPty(c, out)
	} else {
		c.Stdout = out
		c.Stderr = out
		err = c.Run()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", item.ID, ctxErr)
	}
	if err != nil {
		return fmt.Errorf("work command for %s failed: %w", item.ID, err)
	}
	return nil
}

func (p *CommandProcedure) runWithPty(c *exec.Cmd, out io.Writer) error {
	ptmx, err := p.Pty.Start(c)
	if err != nil {
		return fmt.Errorf("failed to start work command on a pty: %w", err)
	}

	copied := make(chan struct{})
	go func() {
		// Reading the master fails with EIO once the child side is closed.
		_, _ = io.Copy(out, ptmx)
		close(copied)
	}()

	err = c.Wait()
	select {
	case <-copied:
	case <-time.After(CleanupGrace):
		log.WarningLog.Printf("output of %s still open after exit, closing it", c.Path)
	}
	_ = ptmx.Close()
	<-copied
	return err
}

// LogName is the file name of an item's work log.
func LogName(id string) string {
	return Slug(id) + ".log"
}

func (p *CommandProcedure) openLog(item WorkItem, c *exec.Cmd) (io.Writer, func(), error) {
	if p.LogDir == "" {
		return io.Discard, func() {}, nil
	}
	if err := os.MkdirAll(p.LogDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(p.LogDir, LogName(item.ID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open work log: %w", err)
	}
	fmt.Fprintf(f, "=== %s %s in %s\n", time.Now().Format(time.RFC3339), item.ID, c.Dir)
	return f, func() { _ = f.Close() }, nil
}
