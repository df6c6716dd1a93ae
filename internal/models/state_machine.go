package models

import (
	"fmt"
	"time"
)

// RequestState represents the current state of one expected-move request
type RequestState string

const (
	// Working states
	StateAwaitingReferencePrice RequestState = "awaiting_reference_price" // Resolving the strike target
	StateAwaitingChain          RequestState = "awaiting_chain"           // Fetching expirations and the chain
	StateSelecting              RequestState = "selecting"                // Joining and picking the strike

	// Terminal states
	StateComputed          RequestState = "computed"            // Expected move available
	StateNoOptions         RequestState = "no_options"          // Nothing to join or no matching row
	StateNoExpirationDates RequestState = "no_expiration_dates" // Symbol lists no options
	StateNoReferencePrice  RequestState = "no_reference_price"  // Resolver could not establish a price
	StateComputeError      RequestState = "compute_error"       // Formula undefined or a fetch failed
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        RequestState
	To          RequestState
	Condition   string
	Description string
}

// ValidTransitions lists every allowed request transition
var ValidTransitions = []StateTransition{
	{StateAwaitingReferencePrice, StateAwaitingChain, "price_resolved", "Reference price established"},
	{StateAwaitingReferencePrice, StateNoReferencePrice, "price_unavailable", "History fetch failed or returned no rows"},

	{StateAwaitingChain, StateSelecting, "chain_loaded", "Options chain fetched for the expiration"},
	{StateAwaitingChain, StateNoExpirationDates, "no_expirations", "Symbol has no listed expirations"},
	{StateAwaitingChain, StateComputeError, "fetch_failed", "Expirations or chain fetch failed"},

	{StateSelecting, StateComputed, "move_computed", "Expected move computed"},
	{StateSelecting, StateNoOptions, "no_straddle", "No joinable strike or no matching row"},
	{StateSelecting, StateNoReferencePrice, "price_absent", "Selector received an absent reference price"},
	{StateSelecting, StateComputeError, "compute_failed", "Division by zero or non-finite result"},
}

// StateMachine tracks one request from start to a terminal state
type StateMachine struct {
	transitionTime time.Time
	history        []RequestState
	currentState   RequestState
	previousState  RequestState
}

// NewStateMachine creates a new state machine
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:   StateAwaitingReferencePrice,
		previousState:  StateAwaitingReferencePrice,
		transitionTime: time.Now().UTC(),
		history:        []RequestState{StateAwaitingReferencePrice},
	}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() RequestState {
	return sm.currentState
}

// GetPreviousState returns the previous state
func (sm *StateMachine) GetPreviousState() RequestState {
	return sm.previousState
}

// History returns the states visited, in order
func (sm *StateMachine) History() []RequestState {
	out := make([]RequestState, len(sm.history))
	copy(out, sm.history)
	return out
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to RequestState, condition string) error {
	if sm.IsTerminal() {
		return fmt.Errorf("request already finished in state %s", sm.currentState)
	}
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState && transition.To == to && transition.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
		sm.currentState, to, condition)
}

// Transition moves to a new state
func (sm *StateMachine) Transition(to RequestState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	sm.history = append(sm.history, to)
	return nil
}

// IsTerminal returns true once the request has produced its single outcome
func (sm *StateMachine) IsTerminal() bool {
	switch sm.currentState {
	case StateComputed, StateNoOptions, StateNoExpirationDates, StateNoReferencePrice, StateComputeError:
		return true
	default:
		return false
	}
}

// GetStateDescription returns a human-readable description of the current state
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateAwaitingReferencePrice:
		return "Resolving the reference price"
	case StateAwaitingChain:
		return "Loading expirations and the options chain"
	case StateSelecting:
		return "Selecting the nearest-strike straddle"
	case StateComputed:
		return "Expected move computed"
	case StateNoOptions:
		return "No options found"
	case StateNoExpirationDates:
		return "No available expiration dates"
	case StateNoReferencePrice:
		return "No closing price available"
	case StateComputeError:
		return "Computation failed"
	default:
		return "Unknown state"
	}
}

// TerminalStateFor maps an error kind raised during selection or fetching
// to the terminal state it ends the request in.
func TerminalStateFor(kind ErrorKind) (RequestState, string) {
	switch kind {
	case KindNoOptions, KindNoMatchingStraddle:
		return StateNoOptions, "no_straddle"
	case KindNoReferencePrice:
		return StateNoReferencePrice, "price_absent"
	case KindNoExpirationDates:
		return StateNoExpirationDates, "no_expirations"
	case KindDataFetchFailure, KindNoHistoricalData:
		return StateComputeError, "fetch_failed"
	default:
		return StateComputeError, "compute_failed"
	}
}
