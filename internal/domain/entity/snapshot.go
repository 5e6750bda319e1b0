package entity

import (
	"sort"
	"time"
)

// ConfigSnapshot is the provider/model configuration held by one backend.
type ConfigSnapshot struct {
	Providers      []Provider         `json:"providers"`
	SystemModels   []Model            `json:"systemModels"`
	ProviderModels map[string][]Model `json:"providerModels"`
	CustomModels   map[string][]Model `json:"customModels"`
	SelectedModels []string           `json:"selectedModels"`
	LastUpdated    time.Time          `json:"lastUpdated"`
}

// NewConfigSnapshot 创建空快照
func NewConfigSnapshot() *ConfigSnapshot {
	return &ConfigSnapshot{
		Providers:      []Provider{},
		SystemModels:   []Model{},
		ProviderModels: map[string][]Model{},
		CustomModels:   map[string][]Model{},
		SelectedModels: []string{},
	}
}

// IsEmpty reports whether the snapshot holds no configuration at all.
func (s *ConfigSnapshot) IsEmpty() bool {
	if s == nil {
		return true
	}
	if len(s.Providers) > 0 || len(s.SystemModels) > 0 || len(s.SelectedModels) > 0 {
		return false
	}
	for _, ms := range s.ProviderModels {
		if len(ms) > 0 {
			return false
		}
	}
	for _, ms := range s.CustomModels {
		if len(ms) > 0 {
			return false
		}
	}
	return true
}

// Buckets flattens the model lists into bucket name -> models.
func (s *ConfigSnapshot) Buckets() map[string][]Model {
	out := make(map[string][]Model, 1+len(s.ProviderModels)+len(s.CustomModels))
	if len(s.SystemModels) > 0 {
		out[BucketSystem] = s.SystemModels
	}
	for pid, ms := range s.ProviderModels {
		out[pid] = ms
	}
	for pid, ms := range s.CustomModels {
		out[CustomBucket(pid)] = ms
	}
	return out
}

// SetBucket stores models under the list the bucket name refers to.
func (s *ConfigSnapshot) SetBucket(bucket string, models []Model) {
	if s.ProviderModels == nil {
		s.ProviderModels = map[string][]Model{}
	}
	if s.CustomModels == nil {
		s.CustomModels = map[string][]Model{}
	}
	pid, custom, system := ParseBucket(bucket)
	switch {
	case system:
		s.SystemModels = models
	case custom:
		s.CustomModels[pid] = models
	default:
		s.ProviderModels[pid] = models
	}
}

// BucketNames returns the sorted bucket names present in the snapshot.
func (s *ConfigSnapshot) BucketNames() []string {
	names := make([]string, 0)
	for b := range s.Buckets() {
		names = append(names, b)
	}
	sort.Strings(names)
	return names
}

// ModelCount 返回所有 bucket 的模型总数
func (s *ConfigSnapshot) ModelCount() int {
	n := 0
	for _, ms := range s.Buckets() {
		n += len(ms)
	}
	return n
}
