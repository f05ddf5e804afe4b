// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package neon locates and parses PHPStan configuration files.
//
// PHPStan configs are written in NEON. The subset used by real projects for
// analysis parameters is YAML-compatible once tabs are expanded, so parsing
// goes through gopkg.in/yaml.v3 after placeholder substitution:
//
//	parameters:
//	    paths:
//	        - %currentWorkingDirectory%/src
//
// becomes an absolute path under the workspace root.
package neon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultBasenames are probed under the workspace root, in order.
var DefaultBasenames = []string{"phpstan.neon", "phpstan.neon.dist", "phpstan.dist.neon"}

var placeholderPattern = regexp.MustCompile(`%(\w+)%`)

// =============================================================================
// Types
// =============================================================================

// Env holds placeholder values available to a config file.
type Env map[string]string

// NewEnv builds the placeholder environment for a workspace.
//
// # Inputs
//
//   - root: Workspace root, used as currentWorkingDirectory.
//   - binPath: PHPStan entry script. Its directory becomes rootDir. Relative
//     paths are resolved against root.
func NewEnv(root, binPath string) Env {
	return Env{
		"rootDir":                 filepath.Dir(Resolve(binPath, root)),
		"currentWorkingDirectory": root,
	}
}

// Config is a parsed PHPStan config file.
type Config struct {
	Parameters Parameters `json:"parameters" yaml:"parameters"`
	Includes   []string   `json:"includes,omitempty" yaml:"includes"`
}

// Parameters holds the analysis parameters the integration consumes.
// Unknown keys are ignored.
type Parameters struct {
	Paths           []string     `json:"paths,omitempty" yaml:"paths"`
	ExcludesAnalyse []string     `json:"excludes_analyse,omitempty" yaml:"excludes_analyse"`
	ExcludePaths    ExcludePaths `json:"excludePaths,omitempty" yaml:"excludePaths"`
	FileExtensions  []string     `json:"fileExtensions,omitempty" yaml:"fileExtensions"`
	BootstrapFiles  []string     `json:"bootstrapFiles,omitempty" yaml:"bootstrapFiles"`
}

// ExcludePaths accepts both the list form and the
// {analyse, analyseAndScan} map form. The list form fills AnalyseAndScan.
type ExcludePaths struct {
	Analyse        []string `json:"analyse,omitempty" yaml:"analyse"`
	AnalyseAndScan []string `json:"analyseAndScan,omitempty" yaml:"analyseAndScan"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *ExcludePaths) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		e.AnalyseAndScan = list
		return nil
	case yaml.MappingNode:
		type plain ExcludePaths
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*e = ExcludePaths(p)
		return nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
	}
	return fmt.Errorf("line %d: excludePaths must be a list or a map", node.Line)
}

// All returns every exclude pattern of both kinds.
func (e ExcludePaths) All() []string {
	out := make([]string, 0, len(e.Analyse)+len(e.AnalyseAndScan))
	out = append(out, e.Analyse...)
	return append(out, e.AnalyseAndScan...)
}

// =============================================================================
// Find
// =============================================================================

// Find returns the config file path for a workspace.
//
// # Description
//
// An explicit path wins and is joined to root when relative; it is not
// checked for existence. Otherwise DefaultBasenames are probed under root.
//
// # Outputs
//
//   - string: Absolute config path.
//   - error: ErrConfigNotFound when nothing was found, or the stat error.
func Find(explicit, root string) (string, error) {
	if explicit != "" {
		return Resolve(explicit, root), nil
	}

	for _, base := range DefaultBasenames {
		candidate := filepath.Join(root, base)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("%w in %s", ErrConfigNotFound, root)
}

// =============================================================================
// Parse
// =============================================================================

// Parse reads and parses the config file at path.
func Parse(path string, env Env, root string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	cfg, err := ParseBytes(data, env, root)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// ParseBytes parses config contents.
//
// # Description
//
// Tabs are expanded to two spaces, %name% placeholders are replaced from env
// (unknown names become empty), and every path list is made absolute against
// root. An empty document yields an empty config.
func ParseBytes(data []byte, env Env, root string) (*Config, error) {
	text := strings.ReplaceAll(string(data), "\t", "  ")
	text = Substitute(text, env)

	var cfg Config
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, &ParseError{Err: err}
	}
	cfg.normalize(root)
	return &cfg, nil
}

// Substitute replaces %name% placeholders with values from env.
func Substitute(text string, env Env) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		return env[m[1:len(m)-1]]
	})
}

// Resolve makes p absolute against root and cleans it.
func Resolve(p, root string) string {
	if p == "" {
		return root
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func (c *Config) normalize(root string) {
	p := &c.Parameters
	p.Paths = resolveAll(p.Paths, root)
	p.ExcludesAnalyse = resolveAll(p.ExcludesAnalyse, root)
	p.ExcludePaths.Analyse = resolveAll(p.ExcludePaths.Analyse, root)
	p.ExcludePaths.AnalyseAndScan = resolveAll(p.ExcludePaths.AnalyseAndScan, root)
	p.BootstrapFiles = resolveAll(p.BootstrapFiles, root)
	if len(p.FileExtensions) == 0 {
		p.FileExtensions = []string{"php"}
	}
}

func resolveAll(paths []string, root string) []string {
	if paths == nil {
		return nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = Resolve(p, root)
	}
	return out
}

// =============================================================================
// Coverage
// =============================================================================

// Covers reports whether a change to path should trigger an analysis.
//
// path must be absolute. It is covered when its extension is analysed, it lies
// under one of the configured paths (or anywhere when none are configured),
// and no exclude matches it by prefix or glob.
func (c *Config) Covers(path string) bool {
	p := c.Parameters
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if !contains(p.FileExtensions, ext) {
		return false
	}

	if len(p.Paths) > 0 {
		under := false
		for _, dir := range p.Paths {
			if within(path, dir) {
				under = true
				break
			}
		}
		if !under {
			return false
		}
	}

	excludes := append(p.ExcludePaths.All(), p.ExcludesAnalyse...)
	for _, ex := range excludes {
		if within(path, ex) || globMatch(ex, path) {
			return false
		}
	}
	return true
}

// Roots returns the directories to watch for source changes.
func (c *Config) Roots(root string) []string {
	if len(c.Parameters.Paths) == 0 {
		return []string{root}
	}
	return c.Parameters.Paths
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func within(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
}

// globMatch matches like fnmatch without FNM_PATHNAME: '*' crosses separators.
func globMatch(pattern, path string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return false
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(path)
}
