// Package confirm implements the confirmation gateway: write-class
// tool calls stage a pending action here instead of executing, and the
// staged effect runs only after an explicit, time-bounded confirmation.
// Every state transition is a single check-and-set under the store
// lock, so concurrent confirm attempts on one action produce exactly
// one execution.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a staged action stays confirmable.
const DefaultTTL = 5 * time.Minute

// ErrActionNotFound is returned when confirming or cancelling an
// action that is unknown, expired, owned by someone else, or already
// in a terminal state. Callers cannot distinguish these cases, which
// keeps the gateway from leaking other users' action ids.
var ErrActionNotFound = errors.New("action not found")

// State is the lifecycle state of a pending action.
type State int

const (
	StatePending State = iota
	StateExecuted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending_confirmation"
	case StateExecuted:
		return "executed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExecFunc performs the staged side effect. It runs at most once per
// action, and only after a successful pending→executed transition.
type ExecFunc func(ctx context.Context) (string, error)

// Action is a provisional write operation awaiting confirmation.
type Action struct {
	ID          string          `json:"id"`
	User        string          `json:"user"`
	Tool        string          `json:"tool"`
	Params      json.RawMessage `json:"params"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	State       State           `json:"-"`

	execute ExecFunc
}

// Outcome is the result of resolving one action.
type Outcome struct {
	Action Action
	// Confirmed is false when the action was cancelled.
	Confirmed bool
	// Result is the execute function's output on success.
	Result string
	// Err is the execute function's failure. The action is consumed
	// either way — a failed execution is never re-offered.
	Err error
}

// Store owns the active pending-action set. It is handed to the tool
// layer and the loop driver explicitly; nothing else may touch the
// set. All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	actions map[string]*Action
	ttl     time.Duration
	logger  *slog.Logger

	// now is replaceable in tests to exercise TTL behavior.
	now func() time.Time
}

// NewStore creates a pending-action store. A non-positive ttl falls
// back to DefaultTTL.
func NewStore(logger *slog.Logger, ttl time.Duration) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		actions: make(map[string]*Action),
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Stage creates a pending action for a resolved write-tool call and
// returns a copy of it. The effect itself does not run here.
func (s *Store) Stage(user, tool string, params json.RawMessage, description string, exec ExecFunc) Action {
	now := s.now()
	a := &Action{
		ID:          uuid.NewString(),
		User:        user,
		Tool:        tool,
		Params:      params,
		Description: description,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		State:       StatePending,
		execute:     exec,
	}

	s.mu.Lock()
	s.actions[a.ID] = a
	s.mu.Unlock()

	s.logger.Info("action staged",
		"action", a.ID,
		"user", user,
		"tool", tool,
		"expires_at", a.ExpiresAt,
	)
	return *a
}

// take performs the atomic check-and-set: if the action exists, belongs
// to user, is pending, and is unexpired, it transitions to the terminal
// state and leaves the active set. Exactly one caller can win.
func (s *Store) take(user, id string, terminal State) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[id]
	if !ok || a.User != user || a.State != StatePending {
		return nil, ErrActionNotFound
	}
	if s.now().After(a.ExpiresAt) {
		delete(s.actions, id)
		s.logger.Debug("action expired at resolution time", "action", id)
		return nil, ErrActionNotFound
	}

	a.State = terminal
	delete(s.actions, id)
	return a, nil
}

// Confirm executes a pending action. On success the action is
// EXECUTED and removed from the active set; if the underlying handler
// fails the action is still consumed and the error is the outcome.
// Anything else — unknown id, expired, already terminal, wrong owner —
// fails with ErrActionNotFound and no side effect.
func (s *Store) Confirm(ctx context.Context, user, id string) (Outcome, error) {
	a, err := s.take(user, id, StateExecuted)
	if err != nil {
		return Outcome{}, err
	}

	// The transition is decided; run the effect outside the lock so a
	// slow platform call never blocks unrelated confirmations.
	result, execErr := runExec(ctx, a.execute)
	if execErr != nil {
		s.logger.Warn("confirmed action failed during execution",
			"action", a.ID, "tool", a.Tool, "error", execErr)
	} else {
		s.logger.Info("action executed", "action", a.ID, "tool", a.Tool, "user", user)
	}

	return Outcome{Action: *a, Confirmed: true, Result: result, Err: execErr}, nil
}

// Cancel transitions a pending action to CANCELLED without ever
// invoking the handler.
func (s *Store) Cancel(user, id string) (Outcome, error) {
	a, err := s.take(user, id, StateCancelled)
	if err != nil {
		return Outcome{}, err
	}
	s.logger.Info("action cancelled", "action", a.ID, "tool", a.Tool, "user", user)
	return Outcome{Action: *a}, nil
}

// Pending returns copies of the user's unexpired pending actions,
// oldest first. Expired entries found along the way are pruned.
func (s *Store) Pending(user string) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Action
	for id, a := range s.actions {
		if now.After(a.ExpiresAt) {
			delete(s.actions, id)
			continue
		}
		if a.User == user {
			out = append(out, *a)
		}
	}
	sortActionsByAge(out)
	return out
}

// ResolveAll confirms or cancels every outstanding pending action for
// a user. This backs the shortcut path for bare "yes"/"no" replies; it
// goes through the same per-action transition as the oracle-driven
// path, so racing confirms still execute each action at most once.
func (s *Store) ResolveAll(ctx context.Context, user string, approve bool) []Outcome {
	pending := s.Pending(user)

	var outcomes []Outcome
	for _, a := range pending {
		var (
			o   Outcome
			err error
		)
		if approve {
			o, err = s.Confirm(ctx, user, a.ID)
		} else {
			o, err = s.Cancel(user, a.ID)
		}
		if err != nil {
			// Lost a race or expired between snapshot and resolution.
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// Sweep prunes expired pending actions and returns how many were
// removed. Expiry is already enforced lazily at confirm/cancel time;
// sweeping just keeps the set small.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, a := range s.actions {
		if now.After(a.ExpiresAt) {
			delete(s.actions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept expired actions", "removed", removed)
	}
	return removed
}

// StartSweeper runs Sweep on an interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// runExec invokes the staged effect, converting a panic into an error
// so a misbehaving handler cannot take the process down.
func runExec(ctx context.Context, exec ExecFunc) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if exec == nil {
		return "", nil
	}
	return exec(ctx)
}

func sortActionsByAge(actions []Action) {
	for i := 1; i < len(actions); i++ {
		for j := i; j > 0 && actions[j].CreatedAt.Before(actions[j-1].CreatedAt); j-- {
			actions[j], actions[j-1] = actions[j-1], actions[j]
		}
	}
}
