package types

import "fmt"

// Action is a ledger action. It is always stored as its string value.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
	ActionNone   Action = "none"
)

// ParseAction converts a stored value into an Action.
// An empty value reads as ActionNone.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionUpsert, ActionDelete, ActionNone:
		return Action(s), nil
	case "":
		return ActionNone, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
	}
}

// String returns the canonical storage value
func (a Action) String() string {
	return string(a)
}

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	return a == ActionUpsert || a == ActionDelete || a == ActionNone
}
