/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Unknown fields are ignored on unmarshal.

type CropConfig struct {
	MinSize         float64 `yaml:"min_size"`         // smallest edge a crop window may shrink to, px
	HandleTolerance float64 `yaml:"handle_tolerance"` // pointer slop around handles, px
	DefaultRatio    string  `yaml:"default_ratio"`    // "free" | "w:h"
}

type ExportConfig struct {
	DebounceMs   int    `yaml:"debounce_ms"`
	TimeoutMs    int    `yaml:"timeout_ms"`
	Format       string `yaml:"format"` // "png" | "pdf" (pdf only for sketch nodes)
	ThumbMaxSide int    `yaml:"thumb_max_side"`
}

type StorageConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" | "postgres"
	DataDir  string `yaml:"data_dir"`
	DSN      string `yaml:"dsn"`       // postgres only
	MaxBytes int64  `yaml:"max_bytes"` // artifact cache cap for sqlite
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	Crop          CropConfig    `yaml:"crop"`
	Export        ExportConfig  `yaml:"export"`
	Storage       StorageConfig `yaml:"storage"`
	Metrics       MetricsConfig `yaml:"metrics"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Crop:          CropConfig{MinSize: 50, HandleTolerance: 12, DefaultRatio: "free"},
		Export:        ExportConfig{DebounceMs: 1200, TimeoutMs: 30000, Format: "png", ThumbMaxSide: 256},
		Storage:       StorageConfig{Driver: "sqlite", DataDir: "", MaxBytes: 256 * 1024 * 1024},
		Metrics:       MetricsConfig{Enabled: false, Addr: "127.0.0.1:9464"},
		Logging:       LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile      = "CVE_CONFIG"
	EnvCropMinSize     = "CVE_CROP_MIN_SIZE"
	EnvCropRatio       = "CVE_CROP_RATIO"
	EnvExportDebounce  = "CVE_EXPORT_DEBOUNCE_MS"
	EnvExportTimeout   = "CVE_EXPORT_TIMEOUT_MS"
	EnvExportFormat    = "CVE_EXPORT_FORMAT"
	EnvStorageDriver   = "CVE_STORAGE_DRIVER"
	EnvStorageDir      = "CVE_DATA_DIR"
	EnvStorageDSN      = "CVE_PG_DSN"
	EnvStorageMaxBytes = "CVE_STORAGE_MAX_BYTES"
	EnvMetricsEnabled  = "CVE_METRICS"
	EnvMetricsAddr     = "CVE_METRICS_ADDR"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "CVE_LOG_LEVEL"
	EnvLogFormat = "CVE_LOG_FORMAT"
	EnvLogSource = "CVE_LOG_SOURCE"
	EnvLogFile   = "CVE_LOG_FILE"
)

// ConfigPath returns the per-user config file path. CVE_CONFIG wins when set.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "CanvasEdit")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "CanvasEdit")
	default: // linux and others
		base = filepath.Join(os.Getenv("HOME"), ".config", "canvasedit")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults, and merges environment overrides.
// A missing or unreadable file is not an error; defaults apply.
func Load() (AppConfig, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err == nil {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	return cfg, nil
}

// Save writes the user config YAML.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// crop
	if src.Crop.MinSize > 0 {
		dst.Crop.MinSize = src.Crop.MinSize
	}
	if src.Crop.HandleTolerance > 0 {
		dst.Crop.HandleTolerance = src.Crop.HandleTolerance
	}
	if s := strings.TrimSpace(src.Crop.DefaultRatio); s != "" {
		dst.Crop.DefaultRatio = strings.ToLower(s)
	}
	// export
	if src.Export.DebounceMs > 0 {
		dst.Export.DebounceMs = src.Export.DebounceMs
	}
	if src.Export.TimeoutMs > 0 {
		dst.Export.TimeoutMs = src.Export.TimeoutMs
	}
	if s := strings.TrimSpace(src.Export.Format); s != "" {
		dst.Export.Format = strings.ToLower(s)
	}
	if src.Export.ThumbMaxSide > 0 {
		dst.Export.ThumbMaxSide = src.Export.ThumbMaxSide
	}
	// storage
	if s := strings.TrimSpace(src.Storage.Driver); s != "" {
		dst.Storage.Driver = strings.ToLower(s)
	}
	if s := strings.TrimSpace(src.Storage.DataDir); s != "" {
		dst.Storage.DataDir = s
	}
	if s := strings.TrimSpace(src.Storage.DSN); s != "" {
		dst.Storage.DSN = s
	}
	if src.Storage.MaxBytes > 0 {
		dst.Storage.MaxBytes = src.Storage.MaxBytes
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.Metrics.Enabled = src.Metrics.Enabled
	if s := strings.TrimSpace(src.Metrics.Addr); s != "" {
		dst.Metrics.Addr = s
	}
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvCropMinSize)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.Crop.MinSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvCropRatio)); v != "" {
		cfg.Crop.DefaultRatio = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvExportDebounce)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Export.DebounceMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvExportTimeout)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Export.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvExportFormat)); v != "" {
		cfg.Export.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageDriver)); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageDir)); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageDSN)); v != "" {
		cfg.Storage.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageMaxBytes)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Storage.MaxBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvMetricsEnabled)); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvMetricsAddr)); v != "" {
		cfg.Metrics.Addr = v
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	envs := map[string]string{
		"crop.min_size":      EnvCropMinSize,
		"crop.default_ratio": EnvCropRatio,
		"export.debounce_ms": EnvExportDebounce,
		"export.timeout_ms":  EnvExportTimeout,
		"export.format":      EnvExportFormat,
		"storage.driver":     EnvStorageDriver,
		"storage.data_dir":   EnvStorageDir,
		"storage.dsn":        EnvStorageDSN,
		"storage.max_bytes":  EnvStorageMaxBytes,
		"metrics.enabled":    EnvMetricsEnabled,
		"metrics.addr":       EnvMetricsAddr,
		"logging.level":      EnvLogLevel,
		"logging.format":     EnvLogFormat,
		"logging.source":     EnvLogSource,
		"logging.file":       EnvLogFile,
	}
	env, ok := envs[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// Debounce returns the export quiet period.
func (e ExportConfig) Debounce() time.Duration {
	if e.DebounceMs <= 0 {
		return time.Duration(Defaults().Export.DebounceMs) * time.Millisecond
	}
	return time.Duration(e.DebounceMs) * time.Millisecond
}

// Timeout returns the bound on a single export.
func (e ExportConfig) Timeout() time.Duration {
	if e.TimeoutMs <= 0 {
		return time.Duration(Defaults().Export.TimeoutMs) * time.Millisecond
	}
	return time.Duration(e.TimeoutMs) * time.Millisecond
}
