package conversation

import "github.com/learniverse/chatkit/internal/types"

// prependOlder merges an older history page (ascending send time) in
// front of the current window, dropping any messages already present.
// It returns the merged slice and the id of the message that was the
// oldest before the merge, which the view uses to restore its scroll
// position after the prepend.
func prependOlder(current, older []types.Message) ([]types.Message, string) {
	anchor := ""
	if len(current) > 0 {
		anchor = current[0].Id
	}

	seen := make(map[string]struct{}, len(current))
	for _, m := range current {
		seen[m.Id] = struct{}{}
	}

	merged := make([]types.Message, 0, len(older)+len(current))
	for _, m := range older {
		if _, ok := seen[m.Id]; ok {
			continue
		}
		merged = append(merged, m)
	}
	merged = append(merged, current...)

	return merged, anchor
}

// appendNew adds a pushed or sent message at the newest end unless its
// id is already in the window.
func appendNew(current []types.Message, msg types.Message) ([]types.Message, bool) {
	for _, m := range current {
		if m.Id == msg.Id {
			return current, false
		}
	}
	return append(current, msg), true
}
