package model

import (
	"encoding/json"
	"fmt"
)

// ActionType tells the client what to do with a pushed payload.
// The set is closed: unknown values are rejected at the boundary.
type ActionType string

const (
	ActionSearch  ActionType = "on_search"
	ActionSelect  ActionType = "on_select"
	ActionInit    ActionType = "on_init"
	ActionConfirm ActionType = "on_confirm"
	ActionStatus  ActionType = "on_status"
	ActionTrack   ActionType = "on_track"
	ActionCancel  ActionType = "on_cancel"
	ActionUpdate  ActionType = "on_update"
	ActionRating  ActionType = "on_rating"
	ActionSupport ActionType = "on_support"
)

var actionTypes = map[ActionType]struct{}{
	ActionSearch:  {},
	ActionSelect:  {},
	ActionInit:    {},
	ActionConfirm: {},
	ActionStatus:  {},
	ActionTrack:   {},
	ActionCancel:  {},
	ActionUpdate:  {},
	ActionRating:  {},
	ActionSupport: {},
}

// ParseActionType validates s against the closed set.
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownActionType, s)
	}
	return a, nil
}

func (a ActionType) Valid() bool {
	_, ok := actionTypes[a]
	return ok
}

func (a ActionType) String() string { return string(a) }

// UnmarshalJSON rejects values outside the closed set.
func (a *ActionType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: action_type must be a string", ErrValidation)
	}
	parsed, err := ParseActionType(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
