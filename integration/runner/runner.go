package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jwebster45206/boothill-gm/internal/handlers"
	"github.com/jwebster45206/boothill-gm/pkg/chat"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
	"github.com/jwebster45206/boothill-gm/pkg/session"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running boothill-gm API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...any)
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 90 * time.Second},
		Timeout:           90 * time.Second,
		Logger:            func(string, ...any) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}
	return suite, nil
}

// stepOutcome is what a step's API call returned, for expectations that
// look at the response rather than the stored session.
type stepOutcome struct {
	discarded bool
	context   *narrative.Result
}

// RunSuite executes a complete test suite against a fresh session
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Name:    suite.Name,
		Results: make([]TestResult, 0, len(suite.Steps)),
	}

	var created session.Session
	err := doJSON(ctx, r.Client, http.MethodPost, r.BaseURL+"/v1/sessions", handlers.CreateSessionRequest{
		CharacterID:  suite.CharacterID,
		Location:     suite.Location,
		WorldContext: suite.WorldContext,
	}, &created, http.StatusCreated)
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}
	result.SessionID = created.ID
	defer r.deleteSession(created.ID)

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.executeStep(ctx, created.ID, step)
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}
		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

func (r *Runner) deleteSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = doJSON(ctx, r.Client, http.MethodDelete, r.sessionURL(sessionID, ""), nil, nil, http.StatusNoContent, http.StatusNotFound)
}

func (r *Runner) sessionURL(sessionID, suffix string) string {
	return r.BaseURL + "/v1/sessions/" + url.PathEscape(sessionID) + suffix
}

// executeStep performs one action and checks its expectations
func (r *Runner) executeStep(ctx context.Context, sessionID string, step TestStep) TestResult {
	start := time.Now()
	result := TestResult{StepName: step.Name}

	stepCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	outcome, err := r.perform(stepCtx, sessionID, step)
	if err != nil {
		result.Error = fmt.Errorf("%s failed: %w", step.Action, err)
		result.Duration = time.Since(start)
		return result
	}

	s, err := GetSession(stepCtx, r.Client, r.BaseURL, sessionID)
	if err != nil {
		result.Error = fmt.Errorf("failed to get session after step: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	if err := checkExpectations(step.Expectations, s, outcome); err != nil {
		result.Error = fmt.Errorf("expectation failed: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) perform(ctx context.Context, sessionID string, step TestStep) (stepOutcome, error) {
	var out stepOutcome

	switch step.Action {
	case ActionPlayer, ActionNarrate:
		speaker := ""
		if step.Action == ActionPlayer {
			speaker = chat.SpeakerPlayer
		}
		var resp handlers.NarrativeResponse
		err := doJSON(ctx, r.Client, http.MethodPost, r.sessionURL(sessionID, "/narrative"),
			chat.NarrativeRequest{Text: step.Text, Speaker: speaker}, &resp, http.StatusOK, http.StatusAccepted)
		out.discarded = resp.Discarded != ""
		return out, err

	case ActionDecide:
		var resp handlers.DecisionResponse
		err := doJSON(ctx, r.Client, http.MethodPost, r.sessionURL(sessionID, "/decisions"),
			handlers.GenerateRequest{}, &resp, http.StatusOK)
		out.discarded = resp.Discarded != ""
		return out, err

	case ActionDecideAsync:
		if _, err := PostDecisionAsync(ctx, r.Client, r.BaseURL, sessionID); err != nil {
			return out, err
		}
		_, err := PollForDecision(ctx, r.Client, r.BaseURL, sessionID)
		return out, err

	case ActionSelect:
		var resp handlers.DecisionResponse
		if err := doJSON(ctx, r.Client, http.MethodGet, r.sessionURL(sessionID, "/decision"), nil, &resp, http.StatusOK); err != nil {
			return out, err
		}
		if resp.Decision == nil {
			return out, fmt.Errorf("no decision pending")
		}
		if step.Option < 1 || step.Option > len(resp.Decision.Options) {
			return out, fmt.Errorf("option %d out of range (decision has %d)", step.Option, len(resp.Decision.Options))
		}
		opt := resp.Decision.Options[step.Option-1]
		path := "/decisions/" + url.PathEscape(resp.Decision.ID) + "/select"
		return out, doJSON(ctx, r.Client, http.MethodPost, r.sessionURL(sessionID, path),
			handlers.SelectRequest{OptionID: opt.ID, Outcome: step.Text}, nil, http.StatusOK)

	case ActionEvolve:
		return out, doJSON(ctx, r.Client, http.MethodPost, r.sessionURL(sessionID, "/evolve"),
			handlers.GenerateRequest{}, nil, http.StatusOK)

	case ActionContext:
		path := "/context"
		if step.Compression != "" {
			path += "?compression=" + url.QueryEscape(step.Compression)
		}
		var res narrative.Result
		if err := doJSON(ctx, r.Client, http.MethodGet, r.sessionURL(sessionID, path), nil, &res, http.StatusOK); err != nil {
			return out, err
		}
		out.context = &res
		return out, nil
	}

	return out, fmt.Errorf("unknown action %q", step.Action)
}

// checkExpectations validates the step's expectations against the session
func checkExpectations(exp Expectations, s *session.Session, out stepOutcome) error {
	pending := s.Pending()

	if exp.DecisionPending != nil && (pending != nil) != *exp.DecisionPending {
		return fmt.Errorf("expected decision pending %t, got %t", *exp.DecisionPending, pending != nil)
	}
	if exp.MinOptions != nil {
		if pending == nil {
			return fmt.Errorf("expected at least %d options, but no decision is pending", *exp.MinOptions)
		}
		if len(pending.Options) < *exp.MinOptions {
			return fmt.Errorf("expected at least %d options, got %d", *exp.MinOptions, len(pending.Options))
		}
	}
	if exp.Discarded != nil && out.discarded != *exp.Discarded {
		return fmt.Errorf("expected discarded %t, got %t", *exp.Discarded, out.discarded)
	}
	if exp.DecisionsMade != nil && len(s.Narrative.DecisionHistory) != *exp.DecisionsMade {
		return fmt.Errorf("expected %d decisions made, got %d", *exp.DecisionsMade, len(s.Narrative.DecisionHistory))
	}

	for _, item := range exp.Inventory {
		if !hasItem(s.Character.Inventory, item) {
			return fmt.Errorf("expected inventory to contain '%s'. Actual inventory: %v", item, s.Character.Inventory)
		}
	}
	for _, item := range exp.NotInventory {
		if hasItem(s.Character.Inventory, item) {
			return fmt.Errorf("expected inventory not to contain '%s'. Actual inventory: %v", item, s.Character.Inventory)
		}
	}

	for _, key := range exp.ReputationChanged {
		if s.Narrative.ImpactState.ReputationImpacts[key] == 0 {
			return fmt.Errorf("expected reputation %q to change, state: %v", key, s.Narrative.ImpactState.ReputationImpacts)
		}
	}
	if exp.ImpactsRecorded != nil {
		recorded := len(s.ReconciledImpacts()) > 0
		if recorded != *exp.ImpactsRecorded {
			return fmt.Errorf("expected impacts recorded %t, got %t", *exp.ImpactsRecorded, recorded)
		}
	}

	if len(exp.ContextContains) > 0 || exp.MaxContextTokens != nil {
		if out.context == nil {
			return fmt.Errorf("context expectations need a context step")
		}
		lower := strings.ToLower(out.context.Text)
		for _, want := range exp.ContextContains {
			if !strings.Contains(lower, strings.ToLower(want)) {
				return fmt.Errorf("expected context to contain '%s', but it didn't", want)
			}
		}
		if exp.MaxContextTokens != nil && out.context.TokenEstimate > *exp.MaxContextTokens {
			return fmt.Errorf("expected context <= %d tokens, got %d", *exp.MaxContextTokens, out.context.TokenEstimate)
		}
	}

	return nil
}

func hasItem(inventory []string, item string) bool {
	for _, it := range inventory {
		if strings.EqualFold(it, item) {
			return true
		}
	}
	return false
}
