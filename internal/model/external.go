package model

// Profile is the part of an Identity mirrored to the external identity
// provider. Passwords and privilege flags are never part of it.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// ExternalIdentity is the provider's representation of a user, keyed by the
// provider's own identifier. The core only keeps ID (as Identity.ExternalID)
// and a cached copy of Profile.
type ExternalIdentity struct {
	ID      string  `json:"id"`
	Email   string  `json:"email"`
	Profile Profile `json:"user_metadata"`
}
