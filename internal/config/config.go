// Package config loads the IronGraph YAML config file and resolves
// per-model settings through the extend: inheritance chain.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelConfig holds the per-model overrides a user can set in config.yaml.
// Pointer fields distinguish "unset" from "set to the zero value" so that
// extend: inheritance and CLI-flag precedence both work correctly.
type ModelConfig struct {
	Model              *string                `yaml:"model,omitempty"`
	APIBase            *string                `yaml:"api_base,omitempty"`
	APIKey             *string                `yaml:"api_key,omitempty"`
	Temperature        *float64               `yaml:"temperature,omitempty"`
	Timeout            *int                   `yaml:"timeout,omitempty"` // seconds
	Seed               *int                   `yaml:"seed,omitempty"`
	MaxTokens          *int                   `yaml:"max_tokens,omitempty"`
	SiteURL            *string                `yaml:"site_url,omitempty"`
	AppName            *string                `yaml:"app_name,omitempty"`
	ExtraBody          map[string]interface{} `yaml:"extra_body,omitempty"`
	Extend             *string                `yaml:"extend,omitempty"`
	Aliases            []string               `yaml:"aliases,omitempty"`
}

// WorkspaceConfig configures the workspace effector's defaults.
type WorkspaceConfig struct {
	MaxRepoFiles *int     `yaml:"max_repo_files,omitempty"`
	IgnoredDirs  []string `yaml:"ignored_dirs,omitempty"`
}

// File is the top-level shape of ~/.irongraph/config.yaml.
type File struct {
	Default   string                 `yaml:"default,omitempty"`
	Timeout   *int                   `yaml:"timeout,omitempty"` // global default, seconds
	Models    map[string]ModelConfig `yaml:"models,omitempty"`
	Workspace *WorkspaceConfig       `yaml:"workspace,omitempty"`
}

// Load reads config.yaml from ~/.irongraph, falling back to an empty
// config (never failing the caller) if the directory or file is missing.
func Load() (*File, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return &File{}, nil
	}

	configDir := filepath.Join(home, ".irongraph")
	configPath := filepath.Join(configDir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			_ = os.MkdirAll(configDir, 0o755)
			return &File{}, nil
		}
		return &File{}, nil
	}

	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	expandAliases(&cfg)
	return &cfg, nil
}

// expandAliases turns each model's `aliases:` list into additional model
// entries that extend the original, skipping names that would clash.
func expandAliases(cfg *File) {
	if cfg.Models == nil {
		return
	}
	aliasMap := make(map[string]ModelConfig)
	for name, mc := range cfg.Models {
		for _, alias := range mc.Aliases {
			if _, exists := cfg.Models[alias]; exists {
				fmt.Fprintf(os.Stderr, "Warning: alias %q on model %q clashes with an existing model. Ignoring.\n", alias, name)
				continue
			}
			if _, exists := aliasMap[alias]; exists {
				fmt.Fprintf(os.Stderr, "Warning: duplicate alias %q on model %q. Ignoring.\n", alias, name)
				continue
			}
			parent := name
			aliasMap[alias] = ModelConfig{Extend: &parent}
		}
	}
	for k, v := range aliasMap {
		cfg.Models[k] = v
	}
}

// mergeMaps deep-merges override into base, recursing into nested maps and
// overwriting leaf values and non-map collisions (e.g. []string) outright.
func mergeMaps(base, override map[string]interface{}) map[string]interface{} {
	if base == nil {
		base = map[string]interface{}{}
	}
	if override == nil {
		return base
	}
	result := make(map[string]interface{}, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if baseVal, ok := result[k]; ok {
			baseMap, baseOk := baseVal.(map[string]interface{})
			overrideMap, overrideOk := v.(map[string]interface{})
			if baseOk && overrideOk {
				result[k] = mergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// ResolveModel walks the extend: chain for modelName, returning the fully
// merged ModelConfig (child fields override parent fields; ExtraBody deep-merges).
func ResolveModel(cfg *File, modelName string) (ModelConfig, error) {
	if cfg == nil || len(cfg.Models) == 0 || modelName == "" {
		return ModelConfig{}, nil
	}
	return resolveModelRec(cfg, modelName, map[string]bool{})
}

func resolveModelRec(cfg *File, modelName string, visited map[string]bool) (ModelConfig, error) {
	if modelName == "" {
		return ModelConfig{}, nil
	}
	if visited[modelName] {
		return ModelConfig{}, fmt.Errorf("circular dependency detected for model: %s", modelName)
	}
	visited[modelName] = true

	mc, ok := cfg.Models[modelName]
	if !ok {
		return ModelConfig{}, nil
	}
	if mc.Extend == nil {
		return mc, nil
	}

	parent, err := resolveModelRec(cfg, *mc.Extend, visited)
	if err != nil {
		return ModelConfig{}, err
	}

	merged := parent
	if mc.Model != nil {
		merged.Model = mc.Model
	}
	if mc.APIBase != nil {
		merged.APIBase = mc.APIBase
	}
	if mc.APIKey != nil {
		merged.APIKey = mc.APIKey
	}
	if mc.Temperature != nil {
		merged.Temperature = mc.Temperature
	}
	if mc.Timeout != nil {
		merged.Timeout = mc.Timeout
	}
	if mc.Seed != nil {
		merged.Seed = mc.Seed
	}
	if mc.MaxTokens != nil {
		merged.MaxTokens = mc.MaxTokens
	}
	if mc.SiteURL != nil {
		merged.SiteURL = mc.SiteURL
	}
	if mc.AppName != nil {
		merged.AppName = mc.AppName
	}
	merged.ExtraBody = mergeMaps(merged.ExtraBody, mc.ExtraBody)
	merged.Extend = mc.Extend

	return merged, nil
}

// Resolved is the fully-settled configuration for one agent run, after
// merging flag/env overrides with the resolved ModelConfig.
type Resolved struct {
	ModelName string
	APIKey    string
	APIBase   string
	Temperature *float64
	Timeout   time.Duration
	Seed      int
	MaxTokens int
	SiteURL   string
	AppName   string
	ExtraBody map[string]interface{}
}

// DefaultTimeout is used when neither the config file nor the caller specifies one.
const DefaultTimeout = 3000 * time.Second

// ResolveRun merges a resolved ModelConfig with explicit overrides (normally
// sourced from CLI flags) to build the final run-time configuration.
// Overrides of the fields keyed in `set` take precedence only when `set`
// reports true for that field; a non-empty ModelName, SiteURL or AppName
// override always takes precedence.
func ResolveRun(cfg *File, modelName string, overrides Resolved, set map[string]bool) (Resolved, error) {
	resolved, err := ResolveModel(cfg, modelName)
	if err != nil {
		return Resolved{}, err
	}

	out := overrides
	if out.ModelName == "" && resolved.Model != nil {
		out.ModelName = *resolved.Model
	}
	if !set["api_key"] && resolved.APIKey != nil {
		out.APIKey = *resolved.APIKey
	}
	if !set["api_base"] && resolved.APIBase != nil {
		out.APIBase = *resolved.APIBase
	}
	if !set["temperature"] && resolved.Temperature != nil {
		out.Temperature = resolved.Temperature
	}
	if !set["seed"] && resolved.Seed != nil {
		out.Seed = *resolved.Seed
	}
	if !set["max_tokens"] && resolved.MaxTokens != nil {
		out.MaxTokens = *resolved.MaxTokens
	}
	if out.SiteURL == "" && resolved.SiteURL != nil {
		out.SiteURL = *resolved.SiteURL
	}
	if out.AppName == "" && resolved.AppName != nil {
		out.AppName = *resolved.AppName
	}

	finalTimeout := DefaultTimeout
	if cfg != nil && cfg.Timeout != nil {
		finalTimeout = time.Duration(*cfg.Timeout) * time.Second
	}
	if resolved.Timeout != nil {
		finalTimeout = time.Duration(*resolved.Timeout) * time.Second
	}
	if set["timeout"] && out.Timeout > 0 {
		finalTimeout = out.Timeout
	}
	out.Timeout = finalTimeout

	out.ExtraBody = mergeMaps(out.ExtraBody, resolved.ExtraBody)

	return out, nil
}
