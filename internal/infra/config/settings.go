package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deerun/internal/app"
	"github.com/YoshitsuguKoike/deerun/internal/app/config"
)

const (
	settingFile      = "setting.json"
	localSettingFile = "setting.local.json"
)

// RawSettings represents the structure of setting.json file.
// JSON tags are used for marshaling/unmarshaling.
type RawSettings struct {
	// Core settings
	Root          *string `json:"root"`
	AgentBin      *string `json:"agent_bin"`
	TimeoutSec    *int    `json:"timeout_sec"`
	WorkerBackend *string `json:"worker_backend"`
	LockTTLSec    *int    `json:"lock_ttl_sec"`

	Storage  *RawStorage  `json:"storage"`
	Workflow *RawWorkflow `json:"workflow"`
	Language *RawLanguage `json:"language"`

	// Logging
	StderrLevel *string `json:"stderr_level"`
}

// RawStorage selects the artifact store backend
type RawStorage struct {
	Backend *string `json:"backend"`
	Bucket  *string `json:"bucket"`
	Prefix  *string `json:"prefix"`
	Region  *string `json:"region"`
}

// RawWorkflow holds per-kind concurrency limits
type RawWorkflow struct {
	MaxInstances map[string]int `json:"max_instances"`
}

// RawLanguage sets the language of written documents
type RawLanguage struct {
	Document *string `json:"document"`
}

var knownKeys = map[string]bool{
	"root": true, "agent_bin": true, "timeout_sec": true, "worker_backend": true,
	"lock_ttl_sec": true, "storage": true, "workflow": true, "language": true, "stderr_level": true,
}

// LoadSettings loads setting.json overlaid by setting.local.json from baseDir.
// Priority: setting.local.json > setting.json > defaults
func LoadSettings(fs afero.Fs, baseDir string) (*config.AppConfig, error) {
	merged := map[string]interface{}{}
	var paths []string

	for _, name := range []string{settingFile, localSettingFile} {
		p := filepath.Join(baseDir, name)
		layer, err := readLayer(fs, p)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		merged = deepMerge(merged, layer)
		paths = append(paths, p)
	}

	settings := &RawSettings{}
	if len(merged) > 0 {
		data, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("failed to merge settings: %w", err)
		}
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings: %w", err)
		}
	}

	configSource := "default"
	switch len(paths) {
	case 1:
		configSource = "json"
	case 2:
		configSource = "json+local"
	}

	applyDefaults(settings)
	checkUnknown(merged)
	if err := validate(settings); err != nil {
		return nil, err
	}

	return buildAppConfig(baseDir, settings, configSource, paths), nil
}

// readLayer returns nil when the file does not exist
func readLayer(fs afero.Fs, path string) (map[string]interface{}, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	layer := map[string]interface{}{}
	if err := json.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return layer, nil
}

// deepMerge merges override into base; nested objects merge, everything else is replaced
func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if baseMap, ok := result[k].(map[string]interface{}); ok {
			if overrideMap, ok := v.(map[string]interface{}); ok {
				result[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyDefaults fills in default values for any nil fields
func applyDefaults(settings *RawSettings) {
	def := config.Default()

	if settings.Root == nil {
		v := def.Root()
		settings.Root = &v
	}
	if settings.AgentBin == nil {
		v := def.AgentBin()
		settings.AgentBin = &v
	}
	if settings.TimeoutSec == nil {
		v := def.TimeoutSec() // 15 minutes for complex phases
		settings.TimeoutSec = &v
	}
	if settings.WorkerBackend == nil {
		v := def.WorkerBackend()
		settings.WorkerBackend = &v
	}
	if settings.LockTTLSec == nil {
		v := int(def.LockTTL().Seconds())
		settings.LockTTLSec = &v
	}

	if settings.Storage == nil {
		settings.Storage = &RawStorage{}
	}
	if settings.Storage.Backend == nil {
		v := def.StorageBackend()
		settings.Storage.Backend = &v
	}
	for _, p := range []**string{&settings.Storage.Bucket, &settings.Storage.Prefix, &settings.Storage.Region} {
		if *p == nil {
			v := ""
			*p = &v
		}
	}

	if settings.Workflow == nil {
		settings.Workflow = &RawWorkflow{}
	}
	if settings.Workflow.MaxInstances == nil {
		settings.Workflow.MaxInstances = map[string]int{}
	}

	if settings.Language == nil {
		settings.Language = &RawLanguage{}
	}
	if settings.Language.Document == nil {
		v := ""
		settings.Language.Document = &v
	}

	if settings.StderrLevel == nil {
		v := def.StderrLevel()
		settings.StderrLevel = &v
	}
}

// checkUnknown warns about keys this version does not read
func checkUnknown(merged map[string]interface{}) {
	var unknown []string
	for k := range merged {
		if !knownKeys[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		app.GetLogger().Warn("ignoring unknown setting %q", k)
	}
}

func validate(settings *RawSettings) error {
	switch strings.ToLower(*settings.WorkerBackend) {
	case "claude", "echo":
	default:
		return fmt.Errorf("worker_backend must be claude or echo, got %q", *settings.WorkerBackend)
	}
	switch strings.ToLower(*settings.Storage.Backend) {
	case "fs":
	case "s3":
		if *settings.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required when storage.backend is s3")
		}
	default:
		return fmt.Errorf("storage.backend must be fs or s3, got %q", *settings.Storage.Backend)
	}
	if *settings.TimeoutSec <= 0 {
		return fmt.Errorf("timeout_sec must be positive, got %d", *settings.TimeoutSec)
	}
	for kind, n := range settings.Workflow.MaxInstances {
		if n < 0 {
			return fmt.Errorf("workflow.max_instances.%s must not be negative", kind)
		}
	}
	return nil
}

// buildAppConfig converts RawSettings to AppConfig
func buildAppConfig(home string, settings *RawSettings, configSource string, paths []string) *config.AppConfig {
	return config.NewAppConfig(config.Options{
		Home:             home,
		Root:             *settings.Root,
		AgentBin:         *settings.AgentBin,
		TimeoutSec:       *settings.TimeoutSec,
		WorkerBackend:    strings.ToLower(*settings.WorkerBackend),
		DocumentLanguage: *settings.Language.Document,
		StorageBackend:   strings.ToLower(*settings.Storage.Backend),
		StorageBucket:    *settings.Storage.Bucket,
		StoragePrefix:    *settings.Storage.Prefix,
		StorageRegion:    *settings.Storage.Region,
		MaxInstances:     settings.Workflow.MaxInstances,
		LockTTLSec:       *settings.LockTTLSec,
		StderrLevel:      *settings.StderrLevel,
		ConfigSource:     configSource,
		SettingPaths:     paths,
	})
}

// CreateDefaultSettings creates a default setting.json content
func CreateDefaultSettings() []byte {
	settings := &RawSettings{}
	applyDefaults(settings)

	data, _ := json.MarshalIndent(settings, "", "  ")
	return append(data, '\n')
}
