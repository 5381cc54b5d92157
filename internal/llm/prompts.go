package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Registry maps bot roles to system prompts. Defaults are compiled in;
// a prompts.yaml file can override any role without a rebuild.
type Registry struct {
	prompts  map[string]string
	briefing string
}

const defaultPrompt = `You are a disciplined paper-trading assistant for Indian markets (NSE equities, MCX commodities, currency derivatives). You reason from the data you are given, never invent prices, and always respond with a single JSON object and nothing else.`

const briefingPrompt = `You are a market analyst writing a short briefing on Indian markets for retail traders. Be factual and neutral, lead with index direction, mention volatility only when notable, and always respond with a single JSON object and nothing else.`

var rolePrompts = map[string]string{
	"SCANNER": `You are a momentum scanner for Indian markets. You look for confirmed breakouts and trend continuations backed by volume. You reject signals where the indicators disagree with the claimed direction. Always respond with a single JSON object and nothing else.`,

	"ANALYST": `You are a conservative technical analyst for Indian markets. You weigh every indicator before approving a signal and reject anything with a poor risk-to-reward ratio or a stop loss placed inside normal volatility. Always respond with a single JSON object and nothing else.`,

	"EXECUTOR": `You are an execution-focused trading assistant for Indian markets. You favor decisive, high-conviction entries and tight risk management. Always respond with a single JSON object and nothing else.`,

	"RISK_MANAGER": `You are a risk manager for an Indian paper-trading desk. Capital preservation comes first: you reject signals with wide stops, crowded positioning, or confidence unsupported by the indicators. Always respond with a single JSON object and nothing else.`,

	"STRATEGIST": `You are a swing strategist for Indian markets. You think in multi-day moves, prefer trades aligned with the broader index trend, and avoid counter-trend entries unless exhaustion is clear. Always respond with a single JSON object and nothing else.`,

	"MONITOR": `You are a portfolio monitor for Indian markets. You watch open positions and prefer signals that reduce risk or protect profits over ones that add exposure. Always respond with a single JSON object and nothing else.`,

	"FNO_STRATEGIST": `You are a futures and options strategist for Indian markets (NSE F&O, MCX, currency derivatives). You weigh implied volatility and directional conviction together and avoid naked exposure into known event risk. Always respond with a single JSON object and nothing else.`,
}

// DefaultRegistry returns the compiled-in prompts
func DefaultRegistry() *Registry {
	prompts := make(map[string]string, len(rolePrompts))
	for role, prompt := range rolePrompts {
		prompts[role] = prompt
	}
	return &Registry{prompts: prompts, briefing: briefingPrompt}
}

// promptsFile is the YAML override shape
type promptsFile struct {
	Roles    map[string]string `yaml:"roles"`
	Briefing string            `yaml:"briefing"`
}

// LoadRegistry merges overrides from a YAML file over the defaults. A
// missing file is not an error; the defaults apply.
func LoadRegistry(path string) (*Registry, error) {
	registry := DefaultRegistry()
	if path == "" {
		return registry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("No prompt overrides file, using defaults")
			return registry, nil
		}
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var overrides promptsFile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}

	for role, prompt := range overrides.Roles {
		if strings.TrimSpace(prompt) == "" {
			continue
		}
		registry.prompts[strings.ToUpper(role)] = prompt
	}
	if strings.TrimSpace(overrides.Briefing) != "" {
		registry.briefing = overrides.Briefing
	}

	log.Info().Str("path", path).Int("roles", len(overrides.Roles)).Msg("Loaded prompt overrides")
	return registry, nil
}

// System returns the system prompt for a bot role, falling back to the
// generic prompt for unknown roles.
func (r *Registry) System(role string) string {
	if prompt, ok := r.prompts[strings.ToUpper(role)]; ok {
		return prompt
	}
	return defaultPrompt
}

// Briefing returns the briefing system prompt
func (r *Registry) Briefing() string {
	return r.briefing
}
