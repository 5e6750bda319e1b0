package service

import (
	"sort"
	"time"

	"github.com/ngoclaw/chatsync/internal/domain/entity"
)

// DedupeByID drops entries whose id was already seen. First-seen wins and
// the relative order of survivors is preserved. Entries with an empty id
// are dropped.
func DedupeByID[T entity.Identified](items []T) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		id := it.Identity()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, it)
	}
	return out
}

// MergeByID returns remote followed by every local entry whose id remote
// lacks. Remote wins on a shared id; no field-level reconciliation.
// Nothing present on only one side is ever dropped.
func MergeByID[T entity.Identified](local, remote []T) []T {
	merged := make([]T, 0, len(remote)+len(local))
	merged = append(merged, remote...)
	merged = append(merged, local...)
	return DedupeByID(merged)
}

// MergeBuckets merges per-bucket model lists. A bucket present on one side
// only is carried over unchanged.
func MergeBuckets(local, remote map[string][]entity.Model) map[string][]entity.Model {
	out := make(map[string][]entity.Model, len(local)+len(remote))
	for k, ms := range remote {
		out[k] = MergeByID(local[k], ms)
	}
	for k, ms := range local {
		if _, ok := remote[k]; !ok {
			out[k] = DedupeByID(ms)
		}
	}
	return out
}

// UnionStrings 合并两个字符串列表，保留首次出现顺序
func UnionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// MergeSnapshots computes the id-based union of two configuration snapshots
// and stamps LastUpdated with now. Either argument may be nil.
func MergeSnapshots(local, remote *entity.ConfigSnapshot, now time.Time) *entity.ConfigSnapshot {
	if local == nil {
		local = entity.NewConfigSnapshot()
	}
	if remote == nil {
		remote = entity.NewConfigSnapshot()
	}

	merged := entity.NewConfigSnapshot()
	merged.Providers = MergeByID(local.Providers, remote.Providers)
	merged.SystemModels = MergeByID(local.SystemModels, remote.SystemModels)
	merged.ProviderModels = MergeBuckets(local.ProviderModels, remote.ProviderModels)
	merged.CustomModels = MergeBuckets(local.CustomModels, remote.CustomModels)
	merged.SelectedModels = UnionStrings(remote.SelectedModels, local.SelectedModels)
	merged.LastUpdated = now
	return merged
}

// NormalizeSnapshot dedupes every list in place. Applied before a snapshot
// is persisted so duplicate ids never reach storage.
func NormalizeSnapshot(s *entity.ConfigSnapshot) *entity.ConfigSnapshot {
	if s == nil {
		return entity.NewConfigSnapshot()
	}
	s.Providers = DedupeByID(s.Providers)
	s.SystemModels = DedupeByID(s.SystemModels)
	for k, ms := range s.ProviderModels {
		s.ProviderModels[k] = DedupeByID(ms)
	}
	for k, ms := range s.CustomModels {
		s.CustomModels[k] = DedupeByID(ms)
	}
	s.SelectedModels = UnionStrings(s.SelectedModels, nil)
	return s
}

// MergeConversations unions two copies of the same conversation. Remote
// metadata wins; messages are unioned by id (remote copy wins on a shared
// id) and re-sorted. Either argument may be nil.
func MergeConversations(local, remote *entity.Conversation) *entity.Conversation {
	if remote == nil {
		if local == nil {
			return nil
		}
		out := local.Clone()
		out.Messages = DedupeByID(out.Messages)
		SortMessages(out.Messages)
		return out
	}
	out := remote.Metadata()
	if local == nil {
		out.Messages = DedupeByID(remote.Clone().Messages)
		SortMessages(out.Messages)
		return out
	}

	out.Messages = MergeByID(local.Clone().Messages, remote.Clone().Messages)
	SortMessages(out.Messages)

	if local.CreatedAt.Before(out.CreatedAt) && !local.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	out.Touch(local.UpdatedAt)
	if n := len(out.Messages); n > 0 {
		out.Touch(out.Messages[n-1].Timestamp)
	}
	return out
}

// MergeConversationLists unions two conversation lists by id, merging
// conversations present on both sides, ordered by UpdatedAt descending.
func MergeConversationLists(local, remote []*entity.Conversation) []*entity.Conversation {
	byID := make(map[string]*entity.Conversation, len(local)+len(remote))
	order := make([]string, 0, len(local)+len(remote))
	for _, c := range remote {
		if _, ok := byID[c.ID]; !ok {
			order = append(order, c.ID)
		}
		byID[c.ID] = c
	}
	for _, c := range local {
		if r, ok := byID[c.ID]; ok {
			byID[c.ID] = MergeConversations(c, r)
			continue
		}
		byID[c.ID] = c
		order = append(order, c.ID)
	}

	out := make([]*entity.Conversation, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	SortConversations(out)
	return out
}

// SortConversations orders by UpdatedAt descending, ties broken by id.
func SortConversations(convs []*entity.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
}
