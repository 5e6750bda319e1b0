package entity

import (
	"strings"
)

// ModelCategory 模型类别
type ModelCategory string

const (
	CategoryServer ModelCategory = "server"
	CategoryCustom ModelCategory = "custom"
)

// Supported parameter tags that drive capability flags.
const (
	ParamVision          = "vision"
	ParamReasoning       = "reasoning"
	ParamIncludeReason   = "include_reasoning"
	ParamTools           = "tools"
	ParamToolChoice      = "tool_choice"
	ParamImageGeneration = "image_generation"
	ParamImageEditing    = "image_editing"
)

// Model bucket names. A bucket is the collection a model list is stored
// under: the system catalog, a provider's catalog, or a provider's custom list.
const (
	BucketSystem       = "system"
	customBucketPrefix = "custom_"
)

// CustomBucket 返回 provider 自定义模型所在的 bucket
func CustomBucket(providerID string) string {
	return customBucketPrefix + providerID
}

// ParseBucket splits a bucket name into its kind and provider id.
func ParseBucket(bucket string) (providerID string, custom bool, system bool) {
	if bucket == BucketSystem {
		return "", false, true
	}
	if strings.HasPrefix(bucket, customBucketPrefix) {
		return strings.TrimPrefix(bucket, customBucketPrefix), true, false
	}
	return bucket, false, false
}

// Model 模型目录条目（系统提供或用户自定义）
type Model struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Description         string        `json:"description,omitempty"`
	SupportedParameters []string      `json:"supportedParameters,omitempty"`
	Category            ModelCategory `json:"category"`
	ProviderID          string        `json:"providerId,omitempty"`
}

// Identity 用于按 ID 去重
func (m Model) Identity() string {
	return m.ID
}

// Validate 校验模型
func (m Model) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrInvalidModelID
	}
	return nil
}

func (m Model) hasParam(tags ...string) bool {
	for _, p := range m.SupportedParameters {
		for _, t := range tags {
			if p == t {
				return true
			}
		}
	}
	return false
}

func (m Model) SupportsVision() bool { return m.hasParam(ParamVision) }

func (m Model) SupportsReasoning() bool { return m.hasParam(ParamReasoning, ParamIncludeReason) }

func (m Model) SupportsTools() bool { return m.hasParam(ParamTools, ParamToolChoice) }

func (m Model) SupportsImageGeneration() bool { return m.hasParam(ParamImageGeneration) }

func (m Model) SupportsImageEditing() bool { return m.hasParam(ParamImageEditing) }

// Capabilities lists the capability flags for display.
func (m Model) Capabilities() []string {
	var caps []string
	if m.SupportsVision() {
		caps = append(caps, "vision")
	}
	if m.SupportsReasoning() {
		caps = append(caps, "reasoning")
	}
	if m.SupportsTools() {
		caps = append(caps, "tools")
	}
	if m.SupportsImageGeneration() {
		caps = append(caps, "image-gen")
	}
	if m.SupportsImageEditing() {
		caps = append(caps, "image-edit")
	}
	return caps
}
