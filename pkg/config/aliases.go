package config

// Aliases maps short model names to canonical provider model IDs.
type Aliases map[string]string

// Resolve returns the canonical model name for an alias.
// If the input is not an alias, it returns the input unchanged.
func (a Aliases) Resolve(modelOrAlias string) string {
	if canonical, ok := a[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// IsAlias returns true if the given string is a known alias.
func (a Aliases) IsAlias(name string) bool {
	_, ok := a[name]
	return ok
}

// DefaultAliases returns the default model aliases.
func DefaultAliases() Aliases {
	return Aliases{
		"quality":  "claude-sonnet-4-20250514",
		"deep":     "claude-opus-4-20250514",
		"general":  "gpt-4o",
		"fast":     "gpt-4o-mini",
		"research": "gemini-2.5-pro",
		"online":   "sonar-pro",
		"cheap":    "deepseek-chat",
		"reason":   "deepseek-reasoner",
	}
}
