package offline

import "errors"

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrNoUser       = errors.New("no active user")
	ErrNoCachedData = errors.New("no cached data")
)

// Messages recorded as the store's last error while it keeps serving local data.
const (
	msgDegraded   = "Changes saved locally and will sync when connection is restored"
	msgCachedData = "Showing cached data"
	msgOffline    = "You are offline. Showing cached data"
	msgFetchError = "Failed to load tasks"
)
