package domain

// User is the read-only projection of a platform account the ledger needs.
// Credentials never reach this package.
type User struct {
	ID    string   `json:"id" bson:"_id"`
	Phone string   `json:"phone" bson:"phone"`
	Roles []string `json:"roles" bson:"roles"`
}

// HasRole reports whether the user carries role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
