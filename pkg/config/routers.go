package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// RuleRefPrefix marks a target that names another rule instead of a model.
const RuleRefPrefix = "deimos/rules/"

// RoutersFile is the declarative form of a set of rules and routers.
type RoutersFile struct {
	Rules   []RuleSpec   `yaml:"rules" toml:"rules"`
	Routers []RouterSpec `yaml:"routers" toml:"routers"`
}

// RouterSpec declares one router over named top-level rules.
type RouterSpec struct {
	Name     string   `yaml:"name" toml:"name"`
	Rules    []string `yaml:"rules" toml:"rules"`
	Default  string   `yaml:"default" toml:"default"`
	MaxDepth int      `yaml:"max_depth,omitempty" toml:"max_depth,omitempty"`
}

// RuleSpec declares one rule. Which fields apply depends on Type. Every
// target is a model name or a "deimos/rules/<name>" reference.
type RuleSpec struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`

	// task, code_language, natural_language, auto_task
	Triggers map[string]string `yaml:"triggers,omitempty" toml:"triggers,omitempty"`
	Fallback string            `yaml:"fallback,omitempty" toml:"fallback,omitempty"`

	// code
	Code    string `yaml:"code,omitempty" toml:"code,omitempty"`
	NotCode string `yaml:"not_code,omitempty" toml:"not_code,omitempty"`

	// message_length
	ShortThreshold int    `yaml:"short_threshold,omitempty" toml:"short_threshold,omitempty"`
	LongThreshold  int    `yaml:"long_threshold,omitempty" toml:"long_threshold,omitempty"`
	Short          string `yaml:"short,omitempty" toml:"short,omitempty"`
	Medium         string `yaml:"medium,omitempty" toml:"medium,omitempty"`
	Long           string `yaml:"long,omitempty" toml:"long,omitempty"`

	// conversation_context
	NewThreshold  int    `yaml:"new_threshold,omitempty" toml:"new_threshold,omitempty"`
	DeepThreshold int    `yaml:"deep_threshold,omitempty" toml:"deep_threshold,omitempty"`
	New           string `yaml:"new,omitempty" toml:"new,omitempty"`
	Developing    string `yaml:"developing,omitempty" toml:"developing,omitempty"`
	Deep          string `yaml:"deep,omitempty" toml:"deep,omitempty"`

	// expression
	Cases []CaseSpec `yaml:"cases,omitempty" toml:"cases,omitempty"`

	// LLM-backed variants
	Classifier bool   `yaml:"classifier,omitempty" toml:"classifier,omitempty"`
	Model      string `yaml:"model,omitempty" toml:"model,omitempty"`
}

// CaseSpec is one condition of an expression rule.
type CaseSpec struct {
	When   string `yaml:"when" toml:"when"`
	Target string `yaml:"target" toml:"target"`
}

// IsRuleRef reports whether a target names another rule.
func IsRuleRef(target string) bool {
	return strings.HasPrefix(target, RuleRefPrefix)
}

// RuleRefName returns the rule name of a "deimos/rules/<name>" target.
func RuleRefName(target string) string {
	return strings.TrimPrefix(target, RuleRefPrefix)
}

// Targets returns every non-empty target a rule can produce.
func (s RuleSpec) Targets() []string {
	var out []string
	add := func(t string) {
		if t != "" {
			out = append(out, t)
		}
	}
	for _, k := range sortedKeys(s.Triggers) {
		add(s.Triggers[k])
	}
	add(s.Fallback)
	add(s.Code)
	add(s.NotCode)
	add(s.Short)
	add(s.Medium)
	add(s.Long)
	add(s.New)
	add(s.Developing)
	add(s.Deep)
	for _, c := range s.Cases {
		add(c.Target)
	}
	return out
}

// LoadRouters reads a routers file. The format follows the extension:
// .toml is TOML, anything else is YAML.
func LoadRouters(path string) (*RoutersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	rf, err := ParseRouters(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return rf, nil
}

// ParseRouters decodes routers data in the given format ("yaml" or "toml").
func ParseRouters(data []byte, format string) (*RoutersFile, error) {
	var rf RoutersFile
	switch format {
	case "toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&rf); err != nil {
			return nil, err
		}
	case "yaml", "yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&rf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported routers format %q", format)
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return &rf, nil
}

// Validate checks names and references without building rules.
func (rf *RoutersFile) Validate() error {
	rules := make(map[string]bool, len(rf.Rules))
	for i, r := range rf.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if r.Type == "" {
			return fmt.Errorf("rule %q: type is required", r.Name)
		}
		if rules[r.Name] {
			return fmt.Errorf("duplicate rule %q", r.Name)
		}
		rules[r.Name] = true
	}
	for _, r := range rf.Rules {
		for _, t := range r.Targets() {
			if IsRuleRef(t) && !rules[RuleRefName(t)] {
				return fmt.Errorf("rule %q: unknown rule reference %q", r.Name, t)
			}
		}
	}

	routers := make(map[string]bool, len(rf.Routers))
	for i, r := range rf.Routers {
		if r.Name == "" {
			return fmt.Errorf("router %d: name is required", i)
		}
		if routers[r.Name] {
			return fmt.Errorf("duplicate router %q", r.Name)
		}
		routers[r.Name] = true
		if r.Default == "" {
			return fmt.Errorf("router %q: default model is required", r.Name)
		}
		for _, name := range r.Rules {
			if !rules[strings.TrimPrefix(name, RuleRefPrefix)] {
				return fmt.Errorf("router %q: unknown rule %q", r.Name, name)
			}
		}
	}
	return nil
}

// Models returns every model name referenced by the file, in first-seen order.
func (rf *RoutersFile) Models() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(m string) {
		if m != "" && !IsRuleRef(m) && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, r := range rf.Rules {
		for _, t := range r.Targets() {
			add(t)
		}
	}
	for _, r := range rf.Routers {
		add(r.Default)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
