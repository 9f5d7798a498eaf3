package core

import "github.com/google/uuid"

// generateWorkID mints a system-assigned work id when the caller does not
// supply one via WorkOptions.CustomWorkID.
func generateWorkID() string {
	return uuid.NewString()
}
