package gate

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/pkg/models"
)

// Policy checks tool calls against deny rules.
// Uses 2 detection strategies:
// 1. Deny patterns matched against the rendered call text (e.g. "rm -rf /")
// 2. Keywords matched against individual argument values (e.g. "/etc/shadow")
// Allow patterns override both, so a policy file can carve out safe cases.
type Policy struct {
	deny     []string
	keywords []string
	allow    []string
	mu       sync.RWMutex
}

// banyanPolicy represents the danger_gate section of a .banyan.yaml file.
type banyanPolicy struct {
	DangerGate struct {
		DenyPatterns  []string `yaml:"deny_patterns"`
		DenyKeywords  []string `yaml:"deny_keywords"`
		AllowPatterns []string `yaml:"allow_patterns"`
	} `yaml:"danger_gate"`
}

// NewPolicy creates a policy preloaded with the default deny rules.
func NewPolicy() *Policy {
	return &Policy{
		deny:     append([]string{}, DefaultDenyPatterns...),
		keywords: append([]string{}, DefaultDenyKeywords...),
	}
}

// Load builds a policy from the defaults plus the configured policy file.
// When cfg.PolicyFile is empty the project .banyan.yaml is used if one
// exists. A missing file is not an error; the defaults still apply.
func Load(cfg config.GateConfig) (*Policy, error) {
	p := NewPolicy()

	path := cfg.PolicyFile
	if path == "" {
		path = config.GetProjectConfigPath()
	}
	if path == "" {
		return p, nil
	}

	if err := p.LoadFile(path); err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}
	return p, nil
}

// Match checks whether a call must be held for approval and returns the
// rule that matched. Allow patterns win over deny rules.
func (p *Policy) Match(call models.ToolCall) (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	text := renderCall(call)

	for _, pattern := range p.allow {
		if strings.Contains(text, normalize(pattern)) {
			return false, ""
		}
	}

	for _, pattern := range p.deny {
		if strings.Contains(text, normalize(pattern)) {
			return true, "call matches deny pattern: " + pattern
		}
	}

	for _, keyword := range p.keywords {
		needle := strings.ToLower(keyword)
		for _, value := range argStrings(call.Args) {
			if strings.Contains(strings.ToLower(value), needle) {
				return true, "argument touches protected target: " + keyword
			}
		}
	}

	return false, ""
}

// AddDenyPattern adds a pattern to the deny list.
func (p *Policy) AddDenyPattern(pattern string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deny = append(p.deny, pattern)
}

// AddDenyKeyword adds a keyword to the argument deny list.
func (p *Policy) AddDenyKeyword(keyword string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keywords = append(p.keywords, keyword)
}

// AddAllowPattern adds an override pattern. Calls matching it are never held.
func (p *Policy) AddAllowPattern(pattern string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allow = append(p.allow, pattern)
}

// LoadFile merges the danger_gate section of a policy file into the policy.
func (p *Policy) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg banyanPolicy
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.deny = append(p.deny, cfg.DangerGate.DenyPatterns...)
	p.keywords = append(p.keywords, cfg.DangerGate.DenyKeywords...)
	p.allow = append(p.allow, cfg.DangerGate.AllowPatterns...)

	return nil
}

// renderCall flattens a call into one lowercase line. Argument keys are
// sorted so pattern matching does not depend on map iteration order.
func renderCall(call models.ToolCall) string {
	parts := []string{call.Tool}

	keys := make([]string, 0, len(call.Args))
	for k := range call.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		parts = append(parts, k+"="+fmt.Sprintf("%v", call.Args[k]))
	}

	return normalize(strings.Join(parts, " "))
}

// normalize lowercases and collapses whitespace runs to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// argStrings collects every string value reachable in the argument map.
func argStrings(args map[string]any) []string {
	var out []string
	for _, v := range args {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		case map[string]any:
			out = append(out, argStrings(val)...)
		}
	}
	return out
}
