package orchestrator

import (
	"errors"
	"fmt"

	"github.com/AlexZinkM/pet-wallet/internal/model"
)

// Path is the route a submission took
type Path string

const (
	PathRelay  Path = "relay"
	PathDirect Path = "direct"
)

// State of a TransactionRecord
type State int

const (
	Pending State = iota
	Success
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is allowed
func (s State) Terminal() bool {
	return s != Pending
}

// ErrTerminalState is returned when a terminal record is asked to transition
var ErrTerminalState = errors.New("record already in a terminal state")

// FallbackError is returned when the direct path also failed after the
// relay path. Both causes stay reachable through errors.Is and errors.As.
type FallbackError struct {
	Relay  error
	Direct error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("relay path failed: %v; direct path: %v", e.Relay, e.Direct)
}

func (e *FallbackError) Unwrap() []error {
	return []error{e.Direct, e.Relay}
}

// TransactionRecord tracks one submission. Only the loop that created
// it mutates it; readers should wait for the submission to return.
type TransactionRecord struct {
	Path     Path
	BundleID string
	State    State
	Receipts []model.Receipt
	History  []State
}

func newRecord(path Path, bundleID string) *TransactionRecord {
	return &TransactionRecord{
		Path:     path,
		BundleID: bundleID,
		State:    Pending,
		History:  []State{Pending},
	}
}

func (r *TransactionRecord) transition(to State) error {
	if r.State.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalState, r.State, to)
	}
	if to == r.State {
		return nil
	}
	r.State = to
	r.History = append(r.History, to)
	return nil
}

// HistoryStrings renders History for transport
func (r *TransactionRecord) HistoryStrings() []string {
	out := make([]string, len(r.History))
	for i, s := range r.History {
		out[i] = s.String()
	}
	return out
}
