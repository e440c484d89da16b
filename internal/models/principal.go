package models

// Role is the role a principal acts under.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// AccountStatus is the server-side lifecycle of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountPending   AccountStatus = "pending"
	AccountBlocked   AccountStatus = "blocked"
	AccountSuspended AccountStatus = "suspended"
)

// Valid reports whether s is a known account status.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountPending, AccountBlocked, AccountSuspended:
		return true
	}
	return false
}

// Principal is the authenticated actor behind a request. It is re-fetched from
// the identity service on every resolution because role and status can change
// server-side between requests.
type Principal struct {
	ID            string        `json:"id"`
	Role          Role          `json:"role"`
	AccountStatus AccountStatus `json:"account_status"`
	Verified      bool          `json:"verified"`
}

// CanTransact reports whether the principal may start or settle money movement.
func (p Principal) CanTransact() bool {
	return p.AccountStatus == AccountActive
}
