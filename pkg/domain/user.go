package domain

// User identifies the actor behind a request together with the permission
// groups resolved for the active tenant.
type User struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Groups []string `json:"groups"`
}

// InGroup reports whether the user belongs to the named group.
func (u User) InGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// SystemUser is used by background jobs writing through the engine facade.
var SystemUser = User{ID: "system", Name: "system", Groups: []string{"System"}}
