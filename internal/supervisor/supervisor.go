// Package supervisor owns the lifecycle of the local coding-agent server:
// spawning it with the credential environment, health polling, restart and
// degrade paths, and diagnostics for startup failures.
package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gitwarden/gitwarden/internal/common/config"
	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
	"github.com/gitwarden/gitwarden/internal/common/logger"
	"github.com/gitwarden/gitwarden/internal/common/portutil"
	"github.com/gitwarden/gitwarden/internal/common/tracing"
	"github.com/gitwarden/gitwarden/internal/events/bus"
	"github.com/gitwarden/gitwarden/internal/gitenv"
	"github.com/gitwarden/gitwarden/internal/settings"
)

// State is the supervisor's view of the agent server.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateHealthy    State = "healthy"
	StateUnhealthy  State = "unhealthy"
	StateRestarting State = "restarting"
	StateFailed     State = "failed"
)

// checkHealthTimeout bounds a single on-demand health probe.
const checkHealthTimeout = 3 * time.Second

// SettingsSource provides the credentials and identity read at start/reload
// time. The supervisor never persists its own copy.
type SettingsSource interface {
	ListCredentials(ctx context.Context) ([]*settings.GitCredential, error)
	GetIdentity(ctx context.Context) (*settings.GitIdentity, error)
}

// Supervisor manages the singleton agent server process. All lifecycle
// operations are serialized by an internal mutex so concurrent start/restart
// calls can never race spawns on the same port.
type Supervisor struct {
	cfg        *config.Config
	settings   SettingsSource
	resolver   *gitenv.IdentityResolver
	keys       *gitenv.KeyManager
	eventBus   bus.EventBus
	logger     *logger.Logger
	httpClient *http.Client

	mu       sync.Mutex // serializes lifecycle operations
	cmd      *exec.Cmd
	procDone chan struct{}
	adopted  bool // reusing a healthy foreign process, no handle

	state    atomic.Value // State
	stopping atomic.Bool

	output *outputTail

	errMu      sync.Mutex
	startupErr string
}

// New creates the supervisor.
func New(cfg *config.Config, src SettingsSource, resolver *gitenv.IdentityResolver, keys *gitenv.KeyManager, eventBus bus.EventBus, log *logger.Logger) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		settings:   src,
		resolver:   resolver,
		keys:       keys,
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "supervisor")),
		httpClient: &http.Client{},
		output:     newOutputTail(defaultTailSize),
	}
	s.state.Store(StateStopped)
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	return s.state.Load().(State)
}

// Start brings the agent server up. No-op when already healthy.
func (s *Supervisor) Start(ctx context.Context) error {
	ctx, span := tracing.Tracer("supervisor").Start(ctx, "supervisor.Start")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

// Stop takes the agent server down: SIGTERM, a grace period, then SIGKILL.
// A process that is already gone counts as success.
func (s *Supervisor) Stop(ctx context.Context) error {
	ctx, span := tracing.Tracer("supervisor").Start(ctx, "supervisor.Stop")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

// Restart stops, settles, and starts.
func (s *Supervisor) Restart(ctx context.Context) error {
	ctx, span := tracing.Tracer("supervisor").Start(ctx, "supervisor.Restart")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartLocked(ctx)
}

// ReloadConfig triggers an in-place hot reload: the live configuration is
// fetched from the server and PATCHed straight back. Errors if the server is
// unhealthy afterwards.
func (s *Supervisor) ReloadConfig(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

// ReloadOrRestart runs the degrade chain: reload, then restart, then hard
// reset (delete the on-disk config and start with defaults). Each fallback
// is attempted only after the previous tier failed, and every failure leaves
// a recorded diagnostic.
func (s *Supervisor) ReloadOrRestart(ctx context.Context) error {
	ctx, span := tracing.Tracer("supervisor").Start(ctx, "supervisor.ReloadOrRestart")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.reloadLocked(ctx)
	if err == nil {
		return nil
	}
	s.logger.Warn("config reload failed, falling back to restart", zap.Error(err))

	err = s.restartLocked(ctx)
	if err == nil {
		return nil
	}
	s.logger.Warn("restart failed, falling back to hard reset", zap.Error(err))

	return s.hardResetLocked(ctx)
}

// ApplySettings reacts to a credentials/identity change. The environment is
// rebuilt on process start, so a running agent is restarted; failures
// degrade to a hard reset. A failed agent is restarted too, since the new
// settings may be the fix. A stopped agent picks the change up on its next
// start.
func (s *Supervisor) ApplySettings(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateHealthy, StateUnhealthy, StateFailed:
	default:
		return nil
	}

	err := s.restartLocked(ctx)
	if err == nil {
		return nil
	}
	s.logger.Warn("restart after settings change failed, falling back to hard reset", zap.Error(err))
	return s.hardResetLocked(ctx)
}

// CheckHealth performs a single bounded liveness probe.
func (s *Supervisor) CheckHealth(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, checkHealthTimeout)
	defer cancel()
	return s.probeHealth(probeCtx)
}

// Version fetches the agent server's version string.
func (s *Supervisor) Version(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, checkHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.baseURL()+"/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Process("failed to fetch agent version", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", apperrors.Process("failed to read agent version", err)
	}

	var payload struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Version != "" {
		return payload.Version, nil
	}
	return strings.TrimSpace(string(body)), nil
}

// IsVersionSupported compares the live version against the configured
// minimum. No configured minimum means everything is supported.
func (s *Supervisor) IsVersionSupported(ctx context.Context) (bool, string, error) {
	version, err := s.Version(ctx)
	if err != nil {
		return false, "", err
	}
	if s.cfg.Agent.MinVersion == "" {
		return true, version, nil
	}
	return CompareVersions(version, s.cfg.Agent.MinVersion) >= 0, version, nil
}

// LastStartupError returns the most recent startup diagnostic.
func (s *Supervisor) LastStartupError() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.startupErr
}

// ClearStartupError discards the recorded diagnostic.
func (s *Supervisor) ClearStartupError() {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.startupErr = ""
}

// OutputTail returns the retained recent process output.
func (s *Supervisor) OutputTail() string {
	return s.output.String()
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	if s.State() == StateHealthy {
		return nil
	}
	s.setState(StateStarting)

	agent := &s.cfg.Agent
	if portutil.IsInUse(agent.Host, agent.Port) {
		if s.probeWithTimeout(ctx) {
			if !agent.DevMode {
				// A healthy server already owns the port; adopt it rather
				// than racing it.
				s.logger.Info("reusing healthy agent server already bound to port",
					zap.Int("port", agent.Port))
				s.adopted = true
				s.cmd = nil
				s.setState(StateHealthy)
				s.warnIfUnsupported(ctx)
				return nil
			}
			s.logger.Info("dev mode: replacing healthy process on port", zap.Int("port", agent.Port))
		} else {
			s.logger.Warn("unhealthy foreign process holds agent port, killing it", zap.Int("port", agent.Port))
		}
		if err := s.evictPortHolder(agent.Host, agent.Port); err != nil {
			return s.failStart(fmt.Sprintf("port %d is held by another process that could not be killed: %v", agent.Port, err), err)
		}
	}

	if agent.Command == "" {
		return s.failStart("no agent server command configured", nil)
	}

	if err := s.ensureAgentConfig(); err != nil {
		return s.failStart(fmt.Sprintf("failed to write default agent config: %v", err), err)
	}

	env, err := s.buildEnv(ctx)
	if err != nil {
		return s.failStart(fmt.Sprintf("failed to build agent environment: %v", err), err)
	}

	s.output.Reset()
	cmd := exec.Command(agent.Command, agent.Args...)
	cmd.Dir = agent.WorkDir
	cmd.Env = env
	cmd.Stdout = s.output
	cmd.Stderr = s.output
	setProcGroup(cmd)

	s.logger.Info("starting agent server",
		zap.String("command", agent.Command),
		zap.Strings("args", agent.Args),
		zap.String("workdir", agent.WorkDir))

	if err := cmd.Start(); err != nil {
		return s.failStart(fmt.Sprintf("failed to spawn agent server: %v", err), err)
	}

	s.cmd = cmd
	s.adopted = false
	done := make(chan struct{})
	s.procDone = done
	go s.waitForExit(cmd, done)

	if err := s.awaitHealthy(ctx, done); err != nil {
		return err
	}

	s.setState(StateHealthy)
	s.ClearStartupError()
	s.logger.Info("agent server healthy", zap.Int("pid", cmd.Process.Pid))
	s.warnIfUnsupported(ctx)
	return nil
}

// awaitHealthy polls the liveness endpoint until it answers, the process
// exits, or the configured deadline passes.
func (s *Supervisor) awaitHealthy(ctx context.Context, done chan struct{}) error {
	deadline := time.Now().Add(s.cfg.Agent.HealthTimeoutDuration())
	ticker := time.NewTicker(s.cfg.Agent.HealthIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-done:
			msg := fmt.Sprintf("agent server exited during startup; recent output:\n%s", s.output.String())
			return s.failStart(msg, nil)
		case <-ctx.Done():
			return s.failStart("start cancelled", ctx.Err())
		case <-ticker.C:
			if s.probeWithTimeout(ctx) {
				return nil
			}
			if time.Now().After(deadline) {
				msg := fmt.Sprintf("agent server did not become healthy within %s; recent output:\n%s",
					s.cfg.Agent.HealthTimeoutDuration(), s.output.String())
				return s.failStart(msg, nil)
			}
		}
	}
}

func (s *Supervisor) stopLocked(ctx context.Context) error {
	defer func() {
		if err := s.keys.CleanupPersistent(); err != nil {
			s.logger.Warn("failed to clean up persistent key material", zap.Error(err))
		}
	}()

	if s.adopted {
		// We never owned the process; just stop tracking it.
		s.adopted = false
		s.setState(StateStopped)
		return nil
	}

	cmd := s.cmd
	if cmd == nil || cmd.Process == nil {
		s.setState(StateStopped)
		return nil
	}

	s.stopping.Store(true)
	defer s.stopping.Store(false)

	pid := cmd.Process.Pid
	s.logger.Info("stopping agent server", zap.Int("pid", pid))

	if err := terminateProcessGroup(pid); err != nil {
		// Process already gone counts as a clean stop.
		s.logger.Debug("SIGTERM delivery failed, process likely exited", zap.Error(err))
	}

	select {
	case <-s.procDone:
	case <-time.After(s.cfg.Agent.StopGraceDuration()):
		s.logger.Warn("agent server ignored SIGTERM, killing", zap.Int("pid", pid))
		if err := killProcessGroup(pid); err != nil {
			s.logger.Debug("SIGKILL delivery failed, process likely exited", zap.Error(err))
		}
		select {
		case <-s.procDone:
		case <-time.After(2 * time.Second):
			s.logger.Warn("agent server did not reap after SIGKILL")
		}
	}

	s.cmd = nil
	s.setState(StateStopped)
	return nil
}

func (s *Supervisor) restartLocked(ctx context.Context) error {
	s.setState(StateRestarting)
	if err := s.stopLocked(ctx); err != nil {
		return err
	}
	time.Sleep(s.cfg.Agent.RestartSettleDuration())
	return s.startLocked(ctx)
}

func (s *Supervisor) reloadLocked(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	current, err := s.fetchLiveConfig(reqCtx)
	if err != nil {
		return err
	}
	if err := s.patchLiveConfig(reqCtx, current); err != nil {
		return err
	}

	if !s.probeWithTimeout(ctx) {
		s.setState(StateUnhealthy)
		return apperrors.Process("agent server unhealthy after config reload", nil)
	}
	s.setState(StateHealthy)
	return nil
}

// hardResetLocked deletes the on-disk agent configuration so the server
// starts from its built-in defaults, then starts it.
func (s *Supervisor) hardResetLocked(ctx context.Context) error {
	configPath := s.cfg.AgentConfigPath()
	if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove agent config for hard reset",
			zap.String("path", configPath), zap.Error(err))
	} else {
		s.logger.Info("removed agent config for hard reset", zap.String("path", configPath))
	}

	if err := s.stopLocked(ctx); err != nil {
		return err
	}
	return s.startLocked(ctx)
}

func (s *Supervisor) fetchLiveConfig(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL()+"/config", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Process("failed to fetch live agent config", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, apperrors.Process(fmt.Sprintf("agent config endpoint returned %d", resp.StatusCode), nil)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func (s *Supervisor) patchLiveConfig(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, s.baseURL()+"/config", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.Process("failed to patch agent config", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return apperrors.Process(fmt.Sprintf("agent config patch returned %d", resp.StatusCode), nil)
	}
	return nil
}

// buildEnv composes the agent process environment: inherited env, git auth
// overrides, commit identity, the SSH command override, and the config path.
// Decrypted secrets live only in the returned slice.
func (s *Supervisor) buildEnv(ctx context.Context) ([]string, error) {
	creds, err := s.settings.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	env := os.Environ()
	env = append(env, gitenv.BuildGitEnv(creds)...)

	identity, err := s.settings.GetIdentity(ctx)
	if err != nil {
		s.logger.Warn("failed to load git identity, continuing without", zap.Error(err))
		identity = nil
	}
	env = append(env, s.resolver.BuildIdentityEnv(ctx, identity, creds)...)

	entries, err := s.keys.MaterializeSSH(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("materialize ssh keys: %w", err)
	}
	sshConfigPath, err := s.keys.GenerateSSHConfig(entries)
	if err != nil {
		return nil, fmt.Errorf("generate ssh config: %w", err)
	}
	env = append(env, "GIT_SSH_COMMAND="+gitenv.GitSSHCommand(sshConfigPath, s.cfg.KnownHostsPath()))

	if s.cfg.Agent.ConfigEnv != "" {
		env = append(env, s.cfg.Agent.ConfigEnv+"="+s.cfg.AgentConfigPath())
	}
	return env, nil
}

// waitForExit reaps the process and records unexpected exits as the last
// startup error.
func (s *Supervisor) waitForExit(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	if s.stopping.Load() {
		return
	}

	exitDesc := "exited"
	if err != nil {
		exitDesc = err.Error()
	}
	msg := fmt.Sprintf("agent server %s; recent output:\n%s", exitDesc, s.output.String())
	s.recordStartupError(msg)

	if state := s.State(); state == StateHealthy || state == StateUnhealthy {
		s.logger.Error("agent server exited unexpectedly", zap.String("exit", exitDesc))
		s.setState(StateFailed)
	}
}

func (s *Supervisor) warnIfUnsupported(ctx context.Context) {
	version, err := s.Version(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch agent server version", zap.Error(err))
		return
	}
	min := s.cfg.Agent.MinVersion
	if min != "" && CompareVersions(version, min) < 0 {
		s.logger.Warn("agent server version below minimum supported",
			zap.String("version", version),
			zap.String("min_version", min))
	} else {
		s.logger.Info("agent server version", zap.String("version", version))
	}
}

// evictPortHolder kills whatever process listens on the target port and
// waits for the port to be released.
func (s *Supervisor) evictPortHolder(host string, port int) error {
	if err := killPortListener(port); err != nil {
		return err
	}
	for i := 0; i < 20; i++ {
		if !portutil.IsInUse(host, port) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("port %d still in use after kill", port)
}

func (s *Supervisor) probeWithTimeout(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, checkHealthTimeout)
	defer cancel()
	return s.probeHealth(probeCtx)
}

func (s *Supervisor) probeHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL()+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode == http.StatusOK
}

func (s *Supervisor) baseURL() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Agent.Host, s.cfg.Agent.Port)
}

func (s *Supervisor) failStart(msg string, cause error) error {
	s.recordStartupError(msg)
	s.setState(StateFailed)
	return apperrors.Process(msg, cause)
}

func (s *Supervisor) recordStartupError(msg string) {
	s.errMu.Lock()
	s.startupErr = msg
	s.errMu.Unlock()
}

func (s *Supervisor) setState(state State) {
	prev := s.state.Swap(state)
	if prev == state {
		return
	}
	event := bus.NewEvent("supervisor.state", "supervisor", map[string]interface{}{
		"state":    string(state),
		"previous": string(prev.(State)),
	})
	if err := s.eventBus.Publish(context.Background(), bus.SubjectSupervisorState, event); err != nil {
		s.logger.Warn("failed to publish state event", zap.Error(err))
	}
}
