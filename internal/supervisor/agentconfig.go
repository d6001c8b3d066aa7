package supervisor

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// agentFileConfig is the minimal on-disk configuration handed to the agent
// server. It pins the bind address to the port the supervisor monitors.
type agentFileConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ensureAgentConfig writes a default configuration file when none exists.
// After a hard reset this is what the server comes back up with.
func (s *Supervisor) ensureAgentConfig() error {
	if s.cfg.Agent.ConfigEnv == "" {
		return nil
	}

	path := s.cfg.AgentConfigPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat agent config: %w", err)
	}

	data, err := yaml.Marshal(agentFileConfig{
		Host: s.cfg.Agent.Host,
		Port: s.cfg.Agent.Port,
	})
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create agent config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write agent config: %w", err)
	}
	return nil
}
