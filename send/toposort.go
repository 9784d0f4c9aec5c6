package send

import "github.com/notewell/synccore/model"

// topoSortTags orders tags parent-before-child by parent_tag_local_id.
// A cycle is a programmer error and panics, matching the spec's
// characterization of cyclic tag graphs as a caller bug rather than a
// recoverable condition.
func topoSortTags(tags []model.Tag) []model.Tag {
	byLocalID := make(map[string]model.Tag, len(tags))
	for _, t := range tags {
		byLocalID[t.LocalID] = t
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(tags))
	out := make([]model.Tag, 0, len(tags))

	var visit func(localID string)
	visit = func(localID string) {
		switch state[localID] {
		case visited:
			return
		case visiting:
			panic("send: cyclic tag parent graph detected at " + localID)
		}
		state[localID] = visiting
		if t, ok := byLocalID[localID]; ok && t.ParentTagLocalID != nil {
			if _, exists := byLocalID[*t.ParentTagLocalID]; exists {
				visit(*t.ParentTagLocalID)
			}
		}
		state[localID] = visited
		out = append(out, byLocalID[localID])
	}

	for _, t := range tags {
		visit(t.LocalID)
	}
	return out
}
