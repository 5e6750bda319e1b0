package entity

import "strings"

// Identified is implemented by every entity merged or deduplicated by id.
type Identified interface {
	Identity() string
}

// Provider is a user-configured API endpoint. Identity is ID only; label or
// URL changes never create a second provider.
type Provider struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	APIKey   string `json:"apiKey"`
	BaseURL  string `json:"baseUrl"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Identity 用于按 ID 去重
func (p Provider) Identity() string {
	return p.ID
}

// Validate 校验 provider
func (p Provider) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrInvalidProviderID
	}
	return nil
}

// MaskedKey returns the credential with everything but the last four characters hidden.
func (p Provider) MaskedKey() string {
	if len(p.APIKey) <= 4 {
		return strings.Repeat("*", len(p.APIKey))
	}
	return strings.Repeat("*", 8) + p.APIKey[len(p.APIKey)-4:]
}
