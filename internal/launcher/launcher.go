// Package launcher defines the Launcher and Injector contracts the
// Session Lifecycle Manager depends on, plus a default implementation
// that spawns a worker in its own pseudo-tty. A headless test harness
// can satisfy the same two interfaces without a real pty.
package launcher

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Launcher starts a new worker process for a session and returns an
// opaque terminal handle identifying it (e.g. a pty device path or a
// tmux pane target).
type Launcher interface {
	Launch(sessionID, workingDir string, argv []string, env []string) (terminalHandle string, err error)
	Kill(terminalHandle string) error
}

// Injector delivers a prompt string to an already-launched worker, as if
// typed at its terminal.
type Injector interface {
	Inject(terminalHandle, text string) error
}

// PTYLauncher launches workers directly under a pseudo-tty, one process
// per session, and injects by writing to the pty's master side.
type PTYLauncher struct {
	mu    sync.Mutex
	procs map[string]*ptyProc
}

type ptyProc struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// NewPTYLauncher returns a ready-to-use PTYLauncher.
func NewPTYLauncher() *PTYLauncher {
	return &PTYLauncher{procs: make(map[string]*ptyProc)}
}

// Launch starts argv[0] with argv[1:] as arguments under workingDir,
// attached to a fresh pty. The terminal handle returned is the session id
// itself; PTYLauncher keeps the os.File and *exec.Cmd in its own table.
func (l *PTYLauncher) Launch(sessionID, workingDir string, argv []string, env []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("launcher: empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), env...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return "", fmt.Errorf("launcher: start pty: %w", err)
	}

	l.mu.Lock()
	l.procs[sessionID] = &ptyProc{cmd: cmd, ptmx: ptmx}
	l.mu.Unlock()

	go io.Copy(io.Discard, ptmx) // drain output; nothing currently consumes it

	return sessionID, nil
}

// Kill terminates the pty-attached process for terminalHandle.
func (l *PTYLauncher) Kill(terminalHandle string) error {
	l.mu.Lock()
	proc, ok := l.procs[terminalHandle]
	if ok {
		delete(l.procs, terminalHandle)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("launcher: no process for handle %q", terminalHandle)
	}
	proc.ptmx.Close()
	if proc.cmd.Process != nil {
		if err := proc.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("launcher: kill: %w", err)
		}
	}
	return nil
}

// Inject writes text followed by Enter to the pty for terminalHandle.
func (l *PTYLauncher) Inject(terminalHandle, text string) error {
	l.mu.Lock()
	proc, ok := l.procs[terminalHandle]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("launcher: no process for handle %q", terminalHandle)
	}
	if _, err := proc.ptmx.WriteString(text + "\r"); err != nil {
		return fmt.Errorf("launcher: write: %w", err)
	}
	return nil
}
