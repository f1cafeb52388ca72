package entity

import "sort"

// SortMessages orders messages by creation time, keeping arrival order for equal timestamps
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt < msgs[j].CreatedAt
	})
}
