// Package lifecycle implements the Session Lifecycle Manager: create,
// kill, interrupt, and self_terminate over the Session Registry,
// Status Store, and Launcher. pid resolution for kill/interrupt uses a
// best-effort (session_id, created_at) match against a process listing,
// since the Launcher's terminal handle does not carry the OS pid
// directly once a worker has re-execed itself.
package lifecycle

import (
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	gops "github.com/mitchellh/go-ps"

	"github.com/bazelment/ccmaster/internal/ccerr"
	"github.com/bazelment/ccmaster/internal/hookconfig"
	"github.com/bazelment/ccmaster/internal/launcher"
	"github.com/bazelment/ccmaster/internal/registry"
	"github.com/bazelment/ccmaster/internal/status"
)

// DirectMessageNotifier lets the lifecycle manager tell the Scheduler a
// direct message is about to bypass an in-flight auto-continue.
type DirectMessageNotifier interface {
	NotifyDirectMessage(sessionID string)
}

// Manager implements the public lifecycle contract.
type Manager struct {
	reg       *registry.Registry
	status    *status.Store
	launcher  launcher.Launcher
	injector  launcher.Injector
	scheduler DirectMessageNotifier
	log       *slog.Logger

	interruptGrace time.Duration

	// ccmasterBinary and rpcEndpoint parameterize the per-worker hook and
	// MCP configuration files Create writes before launching; empty
	// values skip the write (used by tests that exercise Create without
	// a real worker directory).
	ccmasterBinary string
	rpcEndpoint    string
}

// New builds a Manager. ccmasterBinary is the executable name hook/bridge
// invocations should use (typically "ccmaster"); rpcEndpoint is the
// supervisor's loopback RPC URL. Either may be left empty to skip writing
// per-worker configuration files, e.g. in tests.
func New(reg *registry.Registry, st *status.Store, l launcher.Launcher, inj launcher.Injector, sched DirectMessageNotifier, log *slog.Logger, ccmasterBinary, rpcEndpoint string) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		reg:            reg,
		status:         st,
		launcher:       l,
		injector:       inj,
		scheduler:      sched,
		log:            log.With("component", "lifecycle"),
		interruptGrace: 2 * time.Second,
		ccmasterBinary: ccmasterBinary,
		rpcEndpoint:    rpcEndpoint,
	}
}

// CreateParams bundles the create() inputs.
type CreateParams struct {
	WorkingDir string
	WatchMode  bool
	MaxTurns   *int
	Identity   string
	Argv       []string
	Env        []string
	CreatedBy  registry.CreatedBy
}

// Create registers the caller-supplied sessionID with a Starting record,
// and asks the Launcher to open a terminal running the worker command.
func (m *Manager) Create(sessionID string, p CreateParams) (*registry.Session, error) {
	sess := &registry.Session{
		ID:           sessionID,
		WorkingDir:   p.WorkingDir,
		Status:       registry.Starting,
		CurrentState: registry.StateStarting,
		WatchMode:    p.WatchMode,
		MaxTurns:     p.MaxTurns,
		CreatedBy:    p.CreatedBy,
		CreatedAt:    time.Now(),
	}
	m.reg.Create(sess)

	if p.Identity != "" {
		if err := m.reg.SetIdentity(sessionID, p.Identity); err != nil {
			_ = m.reg.Mutate(sessionID, func(s *registry.Session) error {
				s.Status = registry.Error
				return nil
			})
			return nil, err
		}
	}

	if m.ccmasterBinary != "" && m.rpcEndpoint != "" {
		if err := hookconfig.Write(p.WorkingDir, m.ccmasterBinary, sessionID, m.rpcEndpoint); err != nil {
			m.log.Warn("failed to write per-worker hook/MCP config, continuing anyway", "session", sessionID, "err", err)
		}
	}

	handle, err := m.launcher.Launch(sessionID, p.WorkingDir, p.Argv, p.Env)
	if err != nil {
		_ = m.reg.Mutate(sessionID, func(s *registry.Session) error {
			s.Status = registry.Error
			return nil
		})
		return nil, ccerr.New(ccerr.LauncherFailure, err, "failed to start worker terminal")
	}

	_ = m.reg.Mutate(sessionID, func(s *registry.Session) error {
		s.TerminalHandle = handle
		return nil
	})

	return m.reg.Get(sessionID)
}

// PromoteToActive transitions a Starting session to Active. In the running
// supervisor the Scheduler makes the same promotion itself when it handles
// a session's first hook event; nothing else calls this method.
func (m *Manager) PromoteToActive(sessionID string) error {
	return m.reg.Mutate(sessionID, func(s *registry.Session) error {
		if s.Status != registry.Starting {
			return nil
		}
		s.Status = registry.Active
		return nil
	})
}

// Kill resolves the worker's OS process best-effort, sends a termination
// signal, transitions the session to Killed, and removes its status
// record. The session record itself is preserved.
func (m *Manager) Kill(sessionID string) error {
	sess, err := m.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return ccerr.InvalidStatef("session already terminal", "session %s is %s", sessionID, sess.Status)
	}

	if pid, ok := m.resolvePID(sessionID, sess.CreatedAt); ok {
		if proc, err := os.FindProcess(pid); err == nil {
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				m.log.Warn("sigterm failed, process may already be gone", "session", sessionID, "pid", pid, "err", err)
			}
		}
	} else {
		m.log.Warn("no pid resolved for session, terminal may be orphaned", "session", sessionID)
	}

	if err := m.launcher.Kill(sess.TerminalHandle); err != nil {
		m.log.Warn("launcher kill failed", "session", sessionID, "err", err)
	}

	now := time.Now()
	if err := m.reg.Mutate(sessionID, func(s *registry.Session) error {
		s.Status = registry.Killed
		s.EndedAt = &now
		s.PendingContinue = false
		return nil
	}); err != nil {
		return err
	}

	return m.status.Remove(sessionID)
}

// Interrupt requires current_state in {Processing, Working}; it signals
// the worker and forces current_state = Idle after a short grace.
func (m *Manager) Interrupt(sessionID, reason string) error {
	sess, err := m.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.CurrentState != registry.StateProcessing && sess.CurrentState != registry.StateWorking {
		return ccerr.InvalidStatef("nothing to interrupt", "session %s is %s, not Processing/Working", sessionID, sess.CurrentState)
	}

	if pid, ok := m.resolvePID(sessionID, sess.CreatedAt); ok {
		if proc, err := os.FindProcess(pid); err == nil {
			_ = proc.Signal(syscall.SIGINT)
		}
	}

	time.AfterFunc(m.interruptGrace, func() {
		_ = m.reg.Mutate(sessionID, func(s *registry.Session) error {
			s.CurrentState = registry.StateIdle
			return nil
		})
	})
	return nil
}

// SelfTerminate is equivalent to Kill but initiated by the session
// itself; the terminal status is SelfTerminated rather than Killed.
func (m *Manager) SelfTerminate(sessionID, reason, finalMessage string) error {
	sess, err := m.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return ccerr.InvalidStatef("session already terminal", "session %s is %s", sessionID, sess.Status)
	}

	if finalMessage != "" {
		m.log.Info("session self-terminating with final message", "session", sessionID, "message", finalMessage)
	}

	if err := m.launcher.Kill(sess.TerminalHandle); err != nil {
		m.log.Warn("launcher kill failed during self-terminate", "session", sessionID, "err", err)
	}

	now := time.Now()
	if err := m.reg.Mutate(sessionID, func(s *registry.Session) error {
		s.Status = registry.SelfTerminated
		s.EndedAt = &now
		s.PendingContinue = false
		return nil
	}); err != nil {
		return err
	}

	return m.status.Remove(sessionID)
}

// SendDirectMessage injects text to sessionID's terminal, first notifying
// the Scheduler so a direct message wins over an in-flight auto-continue.
func (m *Manager) SendDirectMessage(sessionID, text string) error {
	sess, err := m.reg.Get(sessionID)
	if err != nil {
		return err
	}
	if m.scheduler != nil {
		m.scheduler.NotifyDirectMessage(sessionID)
	}
	if err := m.injector.Inject(sess.TerminalHandle, text); err != nil {
		return ccerr.New(ccerr.InjectorFailure, err, "failed to deliver message")
	}
	return nil
}

// resolvePID performs a best-effort match against the current process
// listing: it returns the first process whose executable name contains
// the session id. createdAt is not used, so when several processes match,
// the first one listed wins.
func (m *Manager) resolvePID(sessionID string, createdAt time.Time) (int, bool) {
	procs, err := gops.Processes()
	if err != nil {
		m.log.Warn("process listing failed", "err", err)
		return 0, false
	}
	for _, p := range procs {
		if strings.Contains(p.Executable(), sessionID) {
			return p.Pid(), true
		}
	}
	_ = createdAt // reserved for disambiguating multiple matches once Launcher records start time per pid
	return 0, false
}
