package router

import (
	"sort"
	"strings"
)

// DefaultTaskTag is used when no trigger matches and no default is configured.
const DefaultTaskTag = "general"

// Rules maps task tags to the trigger phrases that imply them.
type Rules struct {
	Default  string              `koanf:"default" yaml:"default"`
	Triggers map[string][]string `koanf:"triggers" yaml:"triggers"`
}

// RuleSet contains the compiled trigger rules.
type RuleSet struct {
	defaultTag string
	// Longer triggers first for specificity.
	rules []compiledRule
}

type compiledRule struct {
	taskTag string
	trigger string
}

// NewRuleSet compiles trigger rules.
func NewRuleSet(r Rules) *RuleSet {
	rs := &RuleSet{defaultTag: r.Default}
	if rs.defaultTag == "" {
		rs.defaultTag = DefaultTaskTag
	}

	for tag, triggers := range r.Triggers {
		for _, trigger := range triggers {
			trigger = strings.ToLower(strings.TrimSpace(trigger))
			if trigger == "" {
				continue
			}
			rs.rules = append(rs.rules, compiledRule{taskTag: tag, trigger: trigger})
		}
	}

	sort.SliceStable(rs.rules, func(i, j int) bool {
		a, b := rs.rules[i], rs.rules[j]
		if len(a.trigger) != len(b.trigger) {
			return len(a.trigger) > len(b.trigger)
		}
		if a.trigger != b.trigger {
			return a.trigger < b.trigger
		}
		return a.taskTag < b.taskTag
	})
	return rs
}

// Infer returns the task tag implied by the prompt and the trigger that matched.
// The trigger is empty when the default tag was used.
func (rs *RuleSet) Infer(prompt string) (taskTag, trigger string) {
	promptLower := strings.ToLower(prompt)
	for _, rule := range rs.rules {
		if containsTrigger(promptLower, rule.trigger) {
			return rule.taskTag, rule.trigger
		}
	}
	return rs.defaultTag, ""
}

// Default returns the fallback task tag.
func (rs *RuleSet) Default() string {
	return rs.defaultTag
}

// containsTrigger reports whether the trigger phrase occurs in the prompt on
// word boundaries. Both arguments must already be lowercase.
func containsTrigger(prompt, trigger string) bool {
	offset := 0
	for {
		idx := strings.Index(prompt[offset:], trigger)
		if idx == -1 {
			return false
		}
		start := offset + idx
		end := start + len(trigger)

		before := start == 0 || !isWordChar(prompt[start-1])
		after := end >= len(prompt) || !isWordChar(prompt[end])
		if before && after {
			return true
		}
		offset = start + 1
	}
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
