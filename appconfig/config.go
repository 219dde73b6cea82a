package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kirbu123/olimp/dataset"
	"github.com/kirbu123/olimp/platform"
)

// Config holds application configuration: dataset cache location, weight
// cache, ONNX Runtime and remote storage settings.
type Config struct {
	// DataDir is the root directory for downloaded dataset records.
	DataDir string `json:"dataDir"`

	// DBPath is the SQLite index of cached datasets.
	DBPath string `json:"dbPath"`

	// CacheDir holds downloaded model weights.
	CacheDir string `json:"cacheDir"`

	// ResultsPath is the SQLite database of evaluation scores.
	ResultsPath string `json:"resultsPath"`

	// Zenodo API root for dataset records.
	ZenodoAPIBase string `json:"zenodoApiBase"`

	// DownloadParallelism bounds concurrent archive downloads.
	DownloadParallelism int `json:"downloadParallelism"`

	// ONNX Runtime shared library; empty falls back to the
	// ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable.
	ORTSharedLibraryPath string `json:"ortSharedLibraryPath"`

	// S3 settings for weight references using the s3:// scheme.
	S3 struct {
		Endpoint  string `json:"endpoint"`
		Region    string `json:"region"`
		AccessKey string `json:"accessKey"`
		SecretKey string `json:"secretKey"`
	} `json:"s3"`

	// LogLevel is the zap level name: debug, info, warn or error.
	LogLevel string `json:"logLevel"`
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultDataDir returns the default dataset directory.
// Uses the platform-specific data directory.
func DefaultDataDir() string {
	return filepath.Join(platform.GetDataDir(), "datasets")
}

// DefaultConfigDir returns the default config directory path.
// Uses the platform-specific data directory.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

// defaultConfig returns a Config populated with sensible defaults.
func defaultConfig() Config {
	dataDir := DefaultDataDir()
	return Config{
		DataDir:             dataDir,
		DBPath:              filepath.Join(dataDir, "datasets.db"),
		CacheDir:            platform.GetCacheDir(),
		ResultsPath:         filepath.Join(platform.GetDataDir(), "results.db"),
		ZenodoAPIBase:       dataset.DefaultAPIBase,
		DownloadParallelism: 2,
		LogLevel:            "info",
	}
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// getConfigPath returns the full path to the config.json file.
func getConfigPath() (string, error) {
	configDir := DefaultConfigDir()
	return filepath.Join(configDir, "config.json"), nil
}

// Load reads the config from disk and updates the in-memory config. It returns the config and path.
// If the config file doesn't exist, it creates one with default values.
// This function safely handles missing directories and creates them as needed.
func Load() (Config, string, error) {
	path, err := getConfigPath()
	if err != nil {
		return Config{}, "", err
	}

	// Ensure config directory exists
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return Config{}, "", fmt.Errorf("failed to create config directory %s: %v", configDir, err)
	}

	// Check if config file exists
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file doesn't exist - create it with defaults
			def := defaultConfig()

			if err := os.MkdirAll(def.DataDir, 0755); err != nil {
				return Config{}, "", fmt.Errorf("failed to create data directory %s: %v", def.DataDir, err)
			}

			// Save the default config
			savedPath, saveErr := Save(def)
			if saveErr != nil {
				return Config{}, path, fmt.Errorf("failed to create default config file: %v", saveErr)
			}
			Set(def)
			return def, savedPath, nil
		}
		return Config{}, path, fmt.Errorf("failed to read config file at %s: %v", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, path, fmt.Errorf("failed to parse config JSON: %v", err)
	}

	// Merge defaults for any missing fields
	def := defaultConfig()
	needsSave := false

	if c.DataDir == "" {
		c.DataDir = def.DataDir
		needsSave = true
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "datasets.db")
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.ResultsPath == "" {
		c.ResultsPath = def.ResultsPath
	}
	if c.ZenodoAPIBase == "" {
		c.ZenodoAPIBase = def.ZenodoAPIBase
	}
	if c.DownloadParallelism < 1 {
		c.DownloadParallelism = def.DownloadParallelism
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return Config{}, path, fmt.Errorf("failed to create data directory %s: %v", c.DataDir, err)
	}

	// Save config if we had to fill in critical missing fields
	if needsSave {
		if _, saveErr := Save(c); saveErr != nil {
			// Log but don't fail - we can continue with the in-memory config
			fmt.Printf("Warning: failed to save updated config: %v\n", saveErr)
		}
	}

	Set(c)
	return c, path, nil
}

// Save writes the config to disk, creating the directory as needed. Returns the path.
func Save(c Config) (string, error) {
	path, err := getConfigPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %v", err)
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return path, fmt.Errorf("failed to marshal config: %v", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return path, fmt.Errorf("failed to map config JSON: %v", err)
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return path, fmt.Errorf("failed to marshal merged config: %v", err)
	}
	if err := os.WriteFile(path, mergedData, 0644); err != nil {
		return path, fmt.Errorf("failed to write config file: %v", err)
	}
	Set(c)
	return path, nil
}
