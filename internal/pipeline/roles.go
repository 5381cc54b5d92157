// Package pipeline runs the signal pipeline: candle fetch, native scan,
// LLM validation and fallback, gate scoring, execution with half-Kelly
// sizing, outcome tracking, and auto-pause.
package pipeline

import (
	"github.com/tradeveda/tradeveda/internal/store"
)

// Role wraps a bot role with its pipeline behavior
type Role string

// AutoExecuteThreshold is the minimum confidence for auto-execution
func (r Role) AutoExecuteThreshold() float64 {
	return 0.65
}

// SkipLLMValidation reports whether the role trusts the native engine
// without a second opinion. EXECUTOR auto-approves.
func (r Role) SkipLLMValidation() bool {
	return store.BotRole(r) == store.BotRoleExecutor
}

// AutoExecutes reports whether a bot-cycle signal for this role may
// execute without user approval.
func (r Role) AutoExecutes() bool {
	switch store.BotRole(r) {
	case store.BotRoleExecutor, store.BotRoleScanner:
		return true
	}
	return false
}

// Aggressiveness maps the role and agent mode to the scan engine's
// aggressiveness tag. EXECUTOR bots and AUTONOMOUS agents scan hot.
func (r Role) Aggressiveness(mode store.AgentMode) string {
	if store.BotRole(r) == store.BotRoleExecutor || mode == store.AgentModeAutonomous {
		return "high"
	}
	return "medium"
}

// UsesOptionsContext reports whether fallback prompts for the role
// include options-chain data.
func (r Role) UsesOptionsContext() bool {
	return store.BotRole(r) == store.BotRoleFnoStrategist
}
