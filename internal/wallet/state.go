package wallet

import "fmt"

// State is the wallet lifecycle position
type State int

const (
	Uninitialized State = iota
	OwnerReady
	SessionReady
	Delegated
	SessionExpired
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case OwnerReady:
		return "owner_ready"
	case SessionReady:
		return "session_ready"
	case Delegated:
		return "delegated"
	case SessionExpired:
		return "session_expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
