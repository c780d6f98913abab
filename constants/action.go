package constants

import (
	"strings"
)

// ActionType is a browser action understood by the validation tool.
type ActionType string

const (
	ActionClick  ActionType = "click"
	ActionFill   ActionType = "fill"
	ActionHover  ActionType = "hover"
	ActionCheck  ActionType = "check"
	ActionSelect ActionType = "selectOption"
)

var allActions = []ActionType{
	ActionClick,
	ActionFill,
	ActionHover,
	ActionCheck,
	ActionSelect,
}

func ActionsAsStringSlice() []string {
	result := make([]string, len(allActions))
	for i, a := range allActions {
		result[i] = string(a)
	}
	return result
}

// CanonicalizeAction maps catalog spellings onto a known action. Unknown or empty
// values fall back to click, which is what the tool does by default.
func CanonicalizeAction(input string) (ActionType, bool) {
	if input == "" {
		return ActionClick, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]ActionType{
		"input":  ActionFill,
		"type":   ActionFill,
		"enter":  ActionFill,
		"tap":    ActionClick,
		"press":  ActionClick,
		"submit": ActionClick,
		"select": ActionSelect,
		"tick":   ActionCheck,
	}

	if a, ok := synonyms[normalized]; ok {
		return a, true
	}

	for _, a := range allActions {
		if normalized == strings.ToLower(string(a)) {
			return a, true
		}
	}

	return ActionClick, false
}
