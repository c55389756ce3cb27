// Package model parses PERM model definitions: INI-style text declaring the
// request and policy shapes, role-inheritance keys, the policy effect, and
// the matcher expression.
package model

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-logr/logr"
)

// section headers recognized in a model file
const (
	requestSection = "request_definition"
	policySection  = "policy_definition"
	roleSection    = "role_definition"
	effectSection  = "policy_effect"
	matcherSection = "matchers"
)

// Model is a parsed PERM configuration. Each map holds the raw definition
// strings of one section, keyed by the short key used in the file, like "r",
// "p", "g", "g2", "e", "m". A Model is immutable once parsed.
type Model struct {
	Request  map[string]string
	Policy   map[string]string
	Role     map[string]string
	Effect   map[string]string
	Matchers map[string]string
}

type parseConfig struct {
	log logr.Logger
}

// Option controls model parsing
type Option func(*parseConfig)

// WithLogger sets the logger receiving parse warnings
func WithLogger(l logr.Logger) Option {
	return func(cfg *parseConfig) {
		cfg.log = l
	}
}

// NewModelFromFile reads and parses a model file
func NewModelFromFile(path string, opts ...Option) (*Model, error) {
	text, e := os.ReadFile(path)
	if e != nil {
		return nil, fmt.Errorf("load model file %s: %w", path, e)
	}
	return NewModelFromString(string(text), opts...)
}

// NewModelFromString parses a model from text. Lines are trimmed; empty
// lines and lines starting with # are skipped. Unknown sections are accepted
// and ignored. A line without = inside a recognized section is reported to
// the logger and skipped.
func NewModelFromString(text string, opts ...Option) (*Model, error) {
	cfg := &parseConfig{log: logr.Discard()}
	for _, opt := range opts {
		opt(cfg)
	}

	m := &Model{
		Request:  make(map[string]string),
		Policy:   make(map[string]string),
		Role:     make(map[string]string),
		Effect:   make(map[string]string),
		Matchers: make(map[string]string),
	}

	sections := map[string]map[string]string{
		requestSection: m.Request,
		policySection:  m.Policy,
		roleSection:    m.Role,
		effectSection:  m.Effect,
		matcherSection: m.Matchers,
	}

	var current map[string]string
	inUnknown := false

	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if sec, ok := sections[name]; ok {
				current = sec
				inUnknown = false
			} else {
				current = nil
				inUnknown = true
			}
			continue
		}

		if inUnknown {
			continue
		}
		if current == nil {
			cfg.log.Info("ignore line outside any section", "line", n+1, "text", line)
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			cfg.log.Info("ignore malformed line, expect key = value", "line", n+1, "text", line)
			continue
		}
		current[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return m, nil
}

// Tokens splits a request or policy definition like "sub, obj, act" into its
// trimmed field names
func Tokens(def string) []string {
	if def == "" {
		return nil
	}
	parts := strings.Split(def, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		tokens = append(tokens, strings.TrimSpace(p))
	}
	return tokens
}

// RoleKeys returns the role_definition keys in lexical order, like
// ["g", "g2"]
func (m *Model) RoleKeys() []string {
	keys := make([]string, 0, len(m.Role))
	for k := range m.Role {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
