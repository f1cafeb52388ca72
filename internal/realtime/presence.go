package realtime

import "sort"

const presenceRefKey = "phx_ref"

// PresenceMeta is one tracked payload of a presence key, e.g. one connected tab
type PresenceMeta map[string]interface{}

// Ref returns the server assigned reference of the meta
func (m PresenceMeta) Ref() string {
	ref, _ := m[presenceRefKey].(string)
	return ref
}

// PresenceState maps presence keys to their metas
type PresenceState map[string][]PresenceMeta

// Keys returns the keys in sorted order
func (s PresenceState) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone copies the state; metas are shared
func (s PresenceState) Clone() PresenceState {
	out := make(PresenceState, len(s))
	for k, metas := range s {
		out[k] = append([]PresenceMeta(nil), metas...)
	}
	return out
}

func refSet(metas []PresenceMeta) map[string]struct{} {
	refs := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		refs[m.Ref()] = struct{}{}
	}
	return refs
}

// syncState replaces state with the full server state and reports what joined and left
func syncState(state, next PresenceState) (joins, leaves PresenceState) {
	joins = PresenceState{}
	leaves = PresenceState{}

	for key, metas := range state {
		if _, ok := next[key]; !ok {
			leaves[key] = metas
		}
	}

	for key, newMetas := range next {
		curMetas, ok := state[key]
		if !ok {
			joins[key] = newMetas
			continue
		}

		curRefs := refSet(curMetas)
		newRefs := refSet(newMetas)

		var joined, left []PresenceMeta
		for _, m := range newMetas {
			if _, seen := curRefs[m.Ref()]; !seen {
				joined = append(joined, m)
			}
		}
		for _, m := range curMetas {
			if _, still := newRefs[m.Ref()]; !still {
				left = append(left, m)
			}
		}
		if len(joined) > 0 {
			joins[key] = joined
		}
		if len(left) > 0 {
			leaves[key] = left
		}
	}

	return joins, leaves
}

// syncDiff applies a diff to state in place
func syncDiff(state PresenceState, joins, leaves PresenceState) {
	for key, joined := range joins {
		joinedRefs := refSet(joined)
		merged := make([]PresenceMeta, 0, len(state[key])+len(joined))
		for _, m := range state[key] {
			if _, dup := joinedRefs[m.Ref()]; !dup {
				merged = append(merged, m)
			}
		}
		state[key] = append(merged, joined...)
	}

	for key, left := range leaves {
		cur, ok := state[key]
		if !ok {
			continue
		}
		leftRefs := refSet(left)
		kept := cur[:0:0]
		for _, m := range cur {
			if _, gone := leftRefs[m.Ref()]; !gone {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(state, key)
		} else {
			state[key] = kept
		}
	}
}

func entriesToState(entries map[string]presenceEntry) PresenceState {
	state := make(PresenceState, len(entries))
	for key, e := range entries {
		state[key] = e.Metas
	}
	return state
}
