package localstore

import "strings"

// Storage keys
const (
	KeyConversations  = "conversations"
	KeyProviders      = "custom_api_providers"
	KeySelectedModels = "selected_server_models"
	KeySyncMetadata   = "sync_metadata"
	KeyAuthSession    = "auth_session"

	modelsKeyPrefix = "models_"
)

// watchedPrefixes are the keys re-broadcast when another process changes them.
var watchedPrefixes = []string{KeyProviders, KeySelectedModels, modelsKeyPrefix}

// ModelsKey returns the key for a model bucket: models_system,
// models_<providerId> or models_custom_<providerId>.
func ModelsKey(bucket string) string {
	return modelsKeyPrefix + bucket
}

// BucketFromKey is the inverse of ModelsKey.
func BucketFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, modelsKeyPrefix) || len(key) == len(modelsKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, modelsKeyPrefix), true
}

// IsWatchedKey reports whether external changes to key are re-broadcast.
func IsWatchedKey(key string) bool {
	for _, p := range watchedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
