package supervisor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitwarden/gitwarden/internal/common/config"
	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
	"github.com/gitwarden/gitwarden/internal/common/logger"
	"github.com/gitwarden/gitwarden/internal/events/bus"
	"github.com/gitwarden/gitwarden/internal/gitenv"
	"github.com/gitwarden/gitwarden/internal/settings"
)

type fakeSettings struct {
	creds    []*settings.GitCredential
	identity *settings.GitIdentity
}

func (f *fakeSettings) ListCredentials(ctx context.Context) ([]*settings.GitCredential, error) {
	return f.creds, nil
}

func (f *fakeSettings) GetIdentity(ctx context.Context) (*settings.GitIdentity, error) {
	if f.identity == nil {
		return &settings.GitIdentity{}, nil
	}
	return f.identity, nil
}

func newTestSupervisor(t *testing.T, cfg *config.Config) *Supervisor {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	resolver := gitenv.NewIdentityResolver(nil, log)
	keys := gitenv.NewKeyManager(filepath.Join(t.TempDir(), "keys"), nil, log)
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	return New(cfg, &fakeSettings{}, resolver, keys, eventBus, log)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Agent: config.AgentConfig{
			Host:           "127.0.0.1",
			Port:           1, // nothing listens here unless a test overrides
			HealthTimeout:  2,
			HealthInterval: 50,
			StopGrace:      1,
			RestartSettle:  0,
		},
	}
}

// agentEndpoint points cfg.Agent at an httptest server.
func agentEndpoint(t *testing.T, cfg *config.Config, srv *httptest.Server) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	cfg.Agent.Host = u.Hostname()
	cfg.Agent.Port = port
}

func TestStartAdoptsHealthyForeignProcess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/version":
			_, _ = w.Write([]byte(`{"version":"2.1.0"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t)
	agentEndpoint(t, cfg, srv)
	// A command that would fail if the supervisor tried to spawn it.
	cfg.Agent.Command = "/nonexistent-agent-binary"
	cfg.Agent.MinVersion = "2.0.0"

	s := newTestSupervisor(t, cfg)
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateHealthy, s.State())

	version, err := s.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", version)

	// Stopping an adopted process just stops tracking it.
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
}

func TestStartNoCommandFails(t *testing.T) {
	cfg := testConfig(t)
	s := newTestSupervisor(t, cfg)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProcess))
	assert.Equal(t, StateFailed, s.State())
	assert.NotEmpty(t, s.LastStartupError())

	s.ClearStartupError()
	assert.Empty(t, s.LastStartupError())
}

func TestStartSpawnFailureRecordsDiagnostic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Command = "/nonexistent-agent-binary"

	s := newTestSupervisor(t, cfg)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
	assert.Contains(t, s.LastStartupError(), "spawn")
}

func TestStartIsNoopWhenHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	agentEndpoint(t, cfg, srv)
	cfg.Agent.Command = "/nonexistent-agent-binary"

	s := newTestSupervisor(t, cfg)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, StateHealthy, s.State())

	// Second start must not touch the process.
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateHealthy, s.State())
}

func TestStopWhenNothingRunning(t *testing.T) {
	cfg := testConfig(t)
	s := newTestSupervisor(t, cfg)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
}

func TestApplySettingsNoopWhenStopped(t *testing.T) {
	cfg := testConfig(t)
	s := newTestSupervisor(t, cfg)

	require.NoError(t, s.ApplySettings(context.Background()))
	assert.Equal(t, StateStopped, s.State())
}

func TestEnsureAgentConfigWritesDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.ConfigEnv = "AGENT_SERVER_CONFIG"
	cfg.Agent.Port = 4242

	s := newTestSupervisor(t, cfg)
	require.NoError(t, s.ensureAgentConfig())

	data, err := os.ReadFile(cfg.AgentConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 4242")

	// An existing file is left alone.
	require.NoError(t, os.WriteFile(cfg.AgentConfigPath(), []byte("custom: true\n"), 0o600))
	require.NoError(t, s.ensureAgentConfig())
	data, err = os.ReadFile(cfg.AgentConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "custom: true\n", string(data))
}

func TestCheckHealthAgainstLiveServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	agentEndpoint(t, cfg, srv)

	s := newTestSupervisor(t, cfg)
	assert.True(t, s.CheckHealth(context.Background()))

	srv.Close()
	assert.False(t, s.CheckHealth(context.Background()))
}

func TestReloadConfigRoundTrips(t *testing.T) {
	var patched []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/config" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"mode":"live"}`))
		case r.URL.Path == "/config" && r.Method == http.MethodPatch:
			patched, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t)
	agentEndpoint(t, cfg, srv)

	s := newTestSupervisor(t, cfg)
	require.NoError(t, s.ReloadConfig(context.Background()))
	assert.JSONEq(t, `{"mode":"live"}`, string(patched))
	assert.Equal(t, StateHealthy, s.State())
}

func TestReloadConfigFailsWhenServerDown(t *testing.T) {
	cfg := testConfig(t)
	s := newTestSupervisor(t, cfg)

	err := s.ReloadConfig(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProcess))
}

func TestReloadOrRestartFallsBackToRestart(t *testing.T) {
	// The server is alive but refuses hot reloads, so the chain must fall
	// through to the restart tier and come back Healthy.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/config":
			w.WriteHeader(http.StatusInternalServerError)
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := testConfig(t)
	agentEndpoint(t, cfg, srv)
	cfg.Agent.Command = "/nonexistent-agent-binary"

	s := newTestSupervisor(t, cfg)
	require.NoError(t, s.ReloadOrRestart(context.Background()))
	assert.Equal(t, StateHealthy, s.State())
}

func TestReloadOrRestartHardResetRemovesConfig(t *testing.T) {
	// Nothing listens on the agent port and no command is configured, so
	// every tier fails. The hard-reset tier must still delete the on-disk
	// config and leave a diagnostic behind.
	cfg := testConfig(t)
	configPath := cfg.AgentConfigPath()
	require.NoError(t, os.WriteFile(configPath, []byte("stale: true\n"), 0o600))

	s := newTestSupervisor(t, cfg)
	err := s.ReloadOrRestart(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(configPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, StateFailed, s.State())
	assert.NotEmpty(t, s.LastStartupError())
}

func TestApplySettingsRetriesAfterFailedStart(t *testing.T) {
	cfg := testConfig(t)
	s := newTestSupervisor(t, cfg)
	require.Error(t, s.Start(context.Background()))
	require.Equal(t, StateFailed, s.State())

	// The corrected settings point at a now-reachable server.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	agentEndpoint(t, cfg, srv)
	cfg.Agent.Command = "/nonexistent-agent-binary"

	require.NoError(t, s.ApplySettings(context.Background()))
	assert.Equal(t, StateHealthy, s.State())
}
