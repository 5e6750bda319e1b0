package service

import (
	"sort"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// rolePriority breaks timestamp ties so a user turn always precedes the
// assistant turn answering it.
var rolePriority = map[entity.Role]int{
	entity.RoleSystem:    0,
	entity.RoleUser:      1,
	entity.RoleAssistant: 2,
}

// RoleRank is the tie-break rank of a role within one timestamp. Unknown
// roles rank with system.
func RoleRank(r entity.Role) int {
	return rolePriority[r]
}

// MessageLess is the canonical message order: ascending timestamp, then
// role (system, user, assistant), then id.
func MessageLess(a, b *entity.Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	pa, pb := RoleRank(a.Role), RoleRank(b.Role)
	if pa != pb {
		return pa < pb
	}
	return a.ID < b.ID
}

// SortMessages sorts in place into the canonical order.
func SortMessages(msgs []*entity.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return MessageLess(msgs[i], msgs[j])
	})
}

// MessagesSorted reports whether msgs is already in canonical order.
func MessagesSorted(msgs []*entity.Message) bool {
	return sort.SliceIsSorted(msgs, func(i, j int) bool {
		return MessageLess(msgs[i], msgs[j])
	})
}
