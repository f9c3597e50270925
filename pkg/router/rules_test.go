package router

import (
	"strings"
	"testing"
)

func medicalRules() Rules {
	return Rules{
		Default: "general",
		Triggers: map[string][]string{
			"research_analysis":  {"research", "analyze", "statistical"},
			"evidence_synthesis": {"evidence", "meta-analysis", "systematic review"},
			"text_refinement":    {"refine", "polish", "rewrite"},
			"summarize":          {"summarize", "tldr", "key points"},
			"enhance":            {"enhance", "expand section"},
		},
	}
}

func TestRuleSet_Infer(t *testing.T) {
	rs := NewRuleSet(medicalRules())

	tests := []struct {
		name        string
		prompt      string
		expectedTag string
	}{
		{
			name:        "research trigger",
			prompt:      "Research outcomes of awake craniotomy",
			expectedTag: "research_analysis",
		},
		{
			name:        "multi-word trigger",
			prompt:      "Run a systematic review of glioma resection studies",
			expectedTag: "evidence_synthesis",
		},
		{
			name:        "summarize trigger",
			prompt:      "Summarize this chapter on hydrocephalus",
			expectedTag: "summarize",
		},
		{
			name:        "tldr trigger",
			prompt:      "TLDR the shunt failure literature",
			expectedTag: "summarize",
		},
		{
			name:        "refinement trigger",
			prompt:      "Polish the surgical technique section",
			expectedTag: "text_refinement",
		},
		{
			name:        "default - no trigger match",
			prompt:      "Hello, how are you today?",
			expectedTag: "general",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, _ := rs.Infer(tt.prompt)
			if tag != tt.expectedTag {
				t.Errorf("Infer() tag = %v, want %v", tag, tt.expectedTag)
			}
		})
	}
}

func TestRuleSet_EmptyDefault(t *testing.T) {
	rs := NewRuleSet(Rules{})
	tag, trigger := rs.Infer("anything")
	if tag != DefaultTaskTag || trigger != "" {
		t.Errorf("Infer() = (%q, %q), want (%q, \"\")", tag, trigger, DefaultTaskTag)
	}
}

func TestContainsTrigger(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		trigger  string
		expected bool
	}{
		{
			name:     "exact match at start",
			prompt:   "research this topic",
			trigger:  "research",
			expected: true,
		},
		{
			name:     "exact match in middle",
			prompt:   "please research this topic",
			trigger:  "research",
			expected: true,
		},
		{
			name:     "exact match at end",
			prompt:   "do some research",
			trigger:  "research",
			expected: true,
		},
		{
			name:     "case insensitive match",
			prompt:   "RESEARCH this topic",
			trigger:  "research",
			expected: true,
		},
		{
			name:     "partial word - should not match",
			prompt:   "preresearch the topic",
			trigger:  "research",
			expected: false,
		},
		{
			name:     "partial word suffix - should not match",
			prompt:   "researching the topic",
			trigger:  "research",
			expected: false,
		},
		{
			name:     "later occurrence on a boundary",
			prompt:   "researching is hard, research anyway",
			trigger:  "research",
			expected: true,
		},
		{
			name:     "trigger with punctuation after",
			prompt:   "refine, then publish",
			trigger:  "refine",
			expected: true,
		},
		{
			name:     "no match",
			prompt:   "hello world",
			trigger:  "research",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := containsTrigger(strings.ToLower(tt.prompt), tt.trigger)
			if result != tt.expected {
				t.Errorf("containsTrigger(%q, %q) = %v, want %v",
					tt.prompt, tt.trigger, result, tt.expected)
			}
		})
	}
}

func TestRuleSet_LongerTriggerPrecedence(t *testing.T) {
	rs := NewRuleSet(Rules{
		Triggers: map[string][]string{
			"research_analysis":  {"analysis"},
			"evidence_synthesis": {"meta analysis"},
		},
	})

	tag, trigger := rs.Infer("Please run a meta analysis of these trials")
	if tag != "evidence_synthesis" || trigger != "meta analysis" {
		t.Errorf("expected evidence_synthesis via longer trigger, got %s (%s)", tag, trigger)
	}

	tag, _ = rs.Infer("Statistical analysis of the cohort")
	if tag != "research_analysis" {
		t.Errorf("expected research_analysis, got %s", tag)
	}
}
