// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package settings loads the user configuration of the integration.
//
// Settings are immutable snapshots: the daemon never edits one in place, it
// loads a fresh snapshot on every activation.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/stanwatch/services/stanwatch/diagnostic"
)

// Default values.
const (
	DefaultPath        = "vendor/phpstan/phpstan/phpstan"
	DefaultPhpPath     = "php"
	DefaultDelayMs     = 200
	DefaultMemoryLimit = "1G"
)

// ErrInvalid indicates a settings file that parsed but failed validation,
// or could not be parsed at all.
var ErrInvalid = errors.New("invalid settings")

var validate = validator.New()

// Settings is one snapshot of the configuration surface.
type Settings struct {
	// Enabled turns the integration on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the analyser entry script, relative to the workspace root or
	// absolute.
	Path string `yaml:"path" json:"path" validate:"required"`

	// PhpPath is the interpreter used to run Path.
	PhpPath string `yaml:"phpPath" json:"phpPath" validate:"required"`

	// ConfigPath is an explicit analyser config file. Empty means discover.
	ConfigPath string `yaml:"configPath" json:"configPath,omitempty"`

	FileWatcher       bool `yaml:"fileWatcher" json:"fileWatcher"`
	ConfigFileWatcher bool `yaml:"configFileWatcher" json:"configFileWatcher"`

	// AnalysedDelay is the debounce before an analysis, in milliseconds.
	AnalysedDelay int `yaml:"analysedDelay" json:"analysedDelay" validate:"gte=0"`

	// MemoryLimit is passed as --memory-limit when non-empty.
	MemoryLimit string `yaml:"memoryLimit" json:"memoryLimit,omitempty"`

	InitialAnalysis bool `yaml:"initialAnalysis" json:"initialAnalysis"`

	// PathMappings is a comma separated list of src:dest pairs.
	PathMappings string `yaml:"pathMappings" json:"pathMappings,omitempty"`
}

// Loader produces a fresh snapshot.
type Loader func() (Settings, error)

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Enabled:           true,
		Path:              DefaultPath,
		PhpPath:           DefaultPhpPath,
		FileWatcher:       true,
		ConfigFileWatcher: true,
		AnalysedDelay:     DefaultDelayMs,
		MemoryLimit:       DefaultMemoryLimit,
		InitialAnalysis:   true,
	}
}

// Validate checks field constraints.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}
	return nil
}

// Delay returns AnalysedDelay as a duration.
func (s Settings) Delay() time.Duration {
	return time.Duration(s.AnalysedDelay) * time.Millisecond
}

// Mappings parses PathMappings.
func (s Settings) Mappings() []diagnostic.PathMapping {
	return diagnostic.ParsePathMappings(s.PathMappings)
}

// Parse overlays YAML data on the defaults and validates the result.
func Parse(data []byte) (Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Load reads path and overlays it on the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (Settings, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// FileLoader returns a Loader reading path on every call.
func FileLoader(path string) Loader {
	return func() (Settings, error) {
		return Load(path)
	}
}

// Static returns a Loader that always yields s.
func Static(s Settings) Loader {
	return func() (Settings, error) {
		return s, nil
	}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
