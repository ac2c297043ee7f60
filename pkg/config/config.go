package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

// NodeConfig is fleetd's on-disk TOML configuration. It is loaded once at
// startup and the effective values (falling back to generated/detected
// defaults where the file leaves a field unset) drive the whole daemon.
type NodeConfig struct {
	NodeID    string   `toml:"node_id,omitempty"`
	ClusterID string   `toml:"cluster_id,omitempty"`
	Hostname  string   `toml:"hostname,omitempty"`
	Tags      []string `toml:"tags"`

	BindAddr string `toml:"bind_addr"`
	BindPort uint16 `toml:"bind_port"`

	DataDir string `toml:"data_dir"`

	Peers []PeerConfig `toml:"peers"`

	LLM    LLMSettings    `toml:"llm"`
	Policy PolicySettings `toml:"policy"`

	HeartbeatIntervalSecs uint64 `toml:"heartbeat_interval_secs"`
	PlanningIntervalSecs  uint64 `toml:"planning_interval_secs"`
}

// PeerConfig describes a cluster peer to seed membership with at bootstrap.
type PeerConfig struct {
	NodeID  string `toml:"node_id"`
	Addr    string `toml:"addr"`
	IsVoter bool   `toml:"is_voter"`
}

// LLMSettings configures the Oracle deliberator's backing HTTP model
// endpoint. Disabled by default; fleetd runs with the NoOp deliberator
// until this is turned on.
type LLMSettings struct {
	Enabled     bool    `toml:"enabled"`
	APIBase     string  `toml:"api_base,omitempty"`
	APIKeyEnv   string  `toml:"api_key_env"`
	Model       string  `toml:"model"`
	MaxTokens   uint16  `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
}

// PolicySettings is the TOML-facing mirror of pkg/policy.ExecutionPolicy.
type PolicySettings struct {
	AllowRestartServices          bool     `toml:"allow_restart_services"`
	AllowDocker                   bool     `toml:"allow_docker"`
	AllowedSyncPaths              []string `toml:"allowed_sync_paths"`
	BlockedSyncPaths              []string `toml:"blocked_sync_paths"`
	RequireApprovalForDestructive bool     `toml:"require_approval_for_destructive"`
	MaxConcurrentTasksPerNode     int      `toml:"max_concurrent_tasks_per_node"`
}

// Default returns the configuration fleetd runs with when no config file
// is supplied: an unbound node ID/hostname (resolved lazily), loopback-free
// bind address, conservative policy defaults.
func Default() NodeConfig {
	return NodeConfig{
		Tags:     []string{},
		BindAddr: "0.0.0.0",
		BindPort: 9000,
		DataDir:  "/var/lib/fleetd",
		Peers:    []PeerConfig{},
		LLM: LLMSettings{
			Enabled:     false,
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "gpt-4o-mini",
			MaxTokens:   2048,
			Temperature: 0.1,
		},
		Policy: PolicySettings{
			AllowRestartServices:          false,
			AllowDocker:                   false,
			AllowedSyncPaths:              []string{"/home", "/data"},
			BlockedSyncPaths:              []string{"/etc", "/var", "/usr", "/bin", "/sbin", "/root"},
			RequireApprovalForDestructive: true,
			MaxConcurrentTasksPerNode:     5,
		},
		HeartbeatIntervalSecs: 10,
		PlanningIntervalSecs:  30,
	}
}

// Load reads and parses a TOML config file.
func Load(path string) (NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the config back out as TOML.
func (c NodeConfig) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// EffectiveNodeID returns the configured node ID, or a freshly generated
// one if the config left it unset.
func (c NodeConfig) EffectiveNodeID() string {
	if c.NodeID != "" {
		return c.NodeID
	}
	return uuid.NewString()
}

// EffectiveClusterID returns the configured cluster ID, or a freshly
// generated one if the config left it unset (the case on the first node
// of a new cluster; joining nodes receive the real one via enrollment).
func (c NodeConfig) EffectiveClusterID() string {
	if c.ClusterID != "" {
		return c.ClusterID
	}
	return uuid.NewString()
}

// EffectiveHostname returns the configured hostname, or the OS-reported
// one if the config left it unset.
func (c NodeConfig) EffectiveHostname() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// ListenAddr returns the bind_addr:bind_port pair used for both the Raft
// transport and the HTTP control API, multiplexed over the same socket.
func (c NodeConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.BindPort)
}
