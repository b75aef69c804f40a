package users

import "time"

// DefaultDisplayName is used when the identity provider supplies no name.
const DefaultDisplayName = "Unknown"

// User is an application user keyed by the external identity token identifier.
type User struct {
	ID          string    `json:"id"`
	Identity    string    `json:"-"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}
