package runner

import (
	"time"

	"github.com/jwebster45206/boothill-gm/pkg/decision"
)

// Step actions
const (
	ActionPlayer      = "player"       // player speaks or acts
	ActionNarrate     = "narrate"      // game master narration
	ActionDecide      = "decide"       // ask for a decision synchronously
	ActionDecideAsync = "decide_async" // queue a decision and wait for a worker to present it
	ActionSelect      = "select"       // choose an option of the pending decision
	ActionEvolve      = "evolve"       // fade expired impacts
	ActionContext     = "context"      // fetch the LLM narrative context
)

// TestSuite defines a complete integration test scenario
type TestSuite struct {
	Name         string             `json:"name"`
	CharacterID  string             `json:"character_id,omitempty"`
	Location     *decision.Location `json:"location,omitempty"`
	WorldContext string             `json:"world_context,omitempty"`
	Steps        []TestStep         `json:"steps"`
}

// TestStep defines a single interaction and its expected outcomes
type TestStep struct {
	Name         string       `json:"name,omitempty"`
	Action       string       `json:"action"`
	Text         string       `json:"text,omitempty"`
	Option       int          `json:"option,omitempty"`      // 1-based, for select
	Compression  string       `json:"compression,omitempty"` // for context
	Expectations Expectations `json:"expect"`
}

// Expectations defines what to check after a step executes
type Expectations struct {
	DecisionPending *bool `json:"decision_pending,omitempty"`
	MinOptions      *int  `json:"min_options,omitempty"`
	Discarded       *bool `json:"discarded,omitempty"`
	DecisionsMade   *int  `json:"decisions_made,omitempty"`

	Inventory    []string `json:"inventory,omitempty"`     // must be present
	NotInventory []string `json:"not_inventory,omitempty"` // must be absent

	// Reputation keys that must have a non-zero value
	ReputationChanged []string `json:"reputation_changed,omitempty"`
	ImpactsRecorded   *bool    `json:"impacts_recorded,omitempty"`

	ContextContains  []string `json:"context_contains,omitempty"`
	MaxContextTokens *int     `json:"max_context_tokens,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	StepName string
	Success  bool
	Error    error
	Duration time.Duration
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Name      string
	Results   []TestResult
	Error     error
	Duration  time.Duration
	SessionID string
}
