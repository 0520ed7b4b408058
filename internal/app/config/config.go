package config

import (
	"sort"
	"time"
)

// Config provides read-only access to application configuration.
// This interface abstracts the configuration source (setting.json, setting.local.json, defaults)
// and ensures the app layer doesn't depend on infrastructure details.
type Config interface {
	// Core settings
	Home() string           // Settings directory (DEERUN_HOME)
	Root() string           // Artifact root holding .specs/.reports/.plans/.state
	AgentBin() string       // Agent binary path
	TimeoutSec() int        // Per-worker timeout in seconds
	Timeout() time.Duration // Per-worker timeout as Duration
	WorkerBackend() string  // "claude" or "echo"
	DocumentLanguage() string

	// Storage
	StorageBackend() string // "fs" or "s3"
	StorageBucket() string
	StoragePrefix() string
	StorageRegion() string

	// Concurrency
	MaxInstances(kind string) int // 0 means unlimited
	MaxInstancesMap() map[string]int
	LockTTL() time.Duration

	// Logging
	StderrLevel() string

	// Metadata
	ConfigSource() string   // Source of configuration: "json", "json+local" or "default"
	SettingPaths() []string // Files that contributed to the configuration
}

// AppConfig is the concrete implementation of Config interface.
type AppConfig struct {
	home          string
	root          string
	agentBin      string
	timeoutSec    int
	workerBackend string
	documentLang  string

	storageBackend string
	storageBucket  string
	storagePrefix  string
	storageRegion  string

	maxInstances map[string]int
	lockTTLSec   int

	stderrLevel string

	configSource string
	settingPaths []string
}

// Options carries the values of an AppConfig
type Options struct {
	Home             string
	Root             string
	AgentBin         string
	TimeoutSec       int
	WorkerBackend    string
	DocumentLanguage string
	StorageBackend   string
	StorageBucket    string
	StoragePrefix    string
	StorageRegion    string
	MaxInstances     map[string]int
	LockTTLSec       int
	StderrLevel      string
	ConfigSource     string
	SettingPaths     []string
}

// NewAppConfig creates a new AppConfig with the given values
func NewAppConfig(o Options) *AppConfig {
	maxInstances := make(map[string]int, len(o.MaxInstances))
	for k, v := range o.MaxInstances {
		maxInstances[k] = v
	}
	return &AppConfig{
		home:           o.Home,
		root:           o.Root,
		agentBin:       o.AgentBin,
		timeoutSec:     o.TimeoutSec,
		workerBackend:  o.WorkerBackend,
		documentLang:   o.DocumentLanguage,
		storageBackend: o.StorageBackend,
		storageBucket:  o.StorageBucket,
		storagePrefix:  o.StoragePrefix,
		storageRegion:  o.StorageRegion,
		maxInstances:   maxInstances,
		lockTTLSec:     o.LockTTLSec,
		stderrLevel:    o.StderrLevel,
		configSource:   o.ConfigSource,
		settingPaths:   append([]string(nil), o.SettingPaths...),
	}
}

// Default returns the configuration used when no setting file exists
func Default() *AppConfig {
	return NewAppConfig(Options{
		Home:           ".deerun",
		Root:           ".",
		AgentBin:       "claude",
		TimeoutSec:     900,
		WorkerBackend:  "claude",
		StorageBackend: "fs",
		LockTTLSec:     600,
		StderrLevel:    "warn",
		ConfigSource:   "default",
	})
}

func (c *AppConfig) Home() string             { return c.home }
func (c *AppConfig) Root() string             { return c.root }
func (c *AppConfig) AgentBin() string         { return c.agentBin }
func (c *AppConfig) TimeoutSec() int          { return c.timeoutSec }
func (c *AppConfig) WorkerBackend() string    { return c.workerBackend }
func (c *AppConfig) DocumentLanguage() string { return c.documentLang }
func (c *AppConfig) StorageBackend() string   { return c.storageBackend }
func (c *AppConfig) StorageBucket() string    { return c.storageBucket }
func (c *AppConfig) StoragePrefix() string    { return c.storagePrefix }
func (c *AppConfig) StorageRegion() string    { return c.storageRegion }
func (c *AppConfig) StderrLevel() string      { return c.stderrLevel }
func (c *AppConfig) ConfigSource() string     { return c.configSource }

// Timeout returns the per-worker timeout
func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.timeoutSec) * time.Second
}

// LockTTL returns the stale lock threshold
func (c *AppConfig) LockTTL() time.Duration {
	return time.Duration(c.lockTTLSec) * time.Second
}

// MaxInstances returns the concurrency limit for a worker kind
func (c *AppConfig) MaxInstances(kind string) int {
	return c.maxInstances[kind]
}

// MaxInstancesMap returns a copy of all configured limits
func (c *AppConfig) MaxInstancesMap() map[string]int {
	out := make(map[string]int, len(c.maxInstances))
	for k, v := range c.maxInstances {
		out[k] = v
	}
	return out
}

// SettingPaths returns the files that contributed, in merge order
func (c *AppConfig) SettingPaths() []string {
	return append([]string(nil), c.settingPaths...)
}

// LimitedKinds returns kinds with an explicit limit, sorted
func (c *AppConfig) LimitedKinds() []string {
	kinds := make([]string, 0, len(c.maxInstances))
	for k := range c.maxInstances {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// WithWorkerBackend returns a copy using another worker backend
func (c *AppConfig) WithWorkerBackend(backend string) *AppConfig {
	cp := *c
	cp.maxInstances = c.MaxInstancesMap()
	cp.settingPaths = c.SettingPaths()
	cp.workerBackend = backend
	return &cp
}
