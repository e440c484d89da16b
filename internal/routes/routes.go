// Package routes composes the capabilities reachable by each role from a
// single typed capability table.
package routes

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"walletflow/internal/guard"
	"walletflow/internal/models"
	"walletflow/internal/session"
)

// Capability keys used by the HTTP surface.
const (
	Profile         models.CapabilityKey = "profile"
	Dashboard       models.CapabilityKey = "dashboard"
	Wallet          models.CapabilityKey = "wallet"
	SendMoney       models.CapabilityKey = "send-money"
	RequestMoney    models.CapabilityKey = "request-money"
	MoneyRequests   models.CapabilityKey = "money-requests"
	AddMoney        models.CapabilityKey = "add-money"
	Withdraw        models.CapabilityKey = "withdraw"
	Payments        models.CapabilityKey = "payments"
	Transactions    models.CapabilityKey = "transactions"
	AgentDashboard  models.CapabilityKey = "agent-dashboard"
	CashIn          models.CapabilityKey = "cash-in"
	CashOut         models.CapabilityKey = "cash-out"
	AdminDashboard  models.CapabilityKey = "admin-dashboard"
	ManageUsers     models.CapabilityKey = "manage-users"
	ManageAgents    models.CapabilityKey = "manage-agents"
	AllTransactions models.CapabilityKey = "all-transactions"
)

// Table maps capability keys to their definition.
type Table map[models.CapabilityKey]models.Capability

// DefaultTable is the built-in capability table.
func DefaultTable() Table {
	user := models.RoleRef(models.RoleUser)
	agent := models.RoleRef(models.RoleAgent)
	admin := models.RoleRef(models.RoleAdmin)

	return NewTable(
		models.Capability{Key: Profile, Title: "Profile", Path: "/profile"},
		models.Capability{Key: Payments, Title: "Payments", Path: "/payments"},
		models.Capability{Key: Dashboard, RequiredRole: user, Title: "Overview", Path: "/user/overview"},
		models.Capability{Key: Wallet, RequiredRole: user, Title: "Wallet", Path: "/user/wallet"},
		models.Capability{Key: SendMoney, RequiredRole: user, Title: "Send Money", Path: "/user/send-money"},
		models.Capability{Key: RequestMoney, RequiredRole: user, Title: "Request Money", Path: "/user/request-money"},
		models.Capability{Key: MoneyRequests, RequiredRole: user, Title: "Money Requests", Path: "/user/money-requests"},
		models.Capability{Key: AddMoney, RequiredRole: user, Title: "Add Money", Path: "/user/add-money"},
		models.Capability{Key: Withdraw, RequiredRole: user, Title: "Withdraw", Path: "/user/withdraw"},
		models.Capability{Key: Transactions, RequiredRole: user, Title: "Transactions", Path: "/user/transactions"},
		models.Capability{Key: AgentDashboard, RequiredRole: agent, Title: "Overview", Path: "/agent/overview"},
		models.Capability{Key: CashIn, RequiredRole: agent, Title: "Cash In", Path: "/agent/cash-in"},
		models.Capability{Key: CashOut, RequiredRole: agent, Title: "Cash Out", Path: "/agent/cash-out"},
		models.Capability{Key: AdminDashboard, RequiredRole: admin, Title: "Overview", Path: "/admin/overview"},
		models.Capability{Key: ManageUsers, RequiredRole: admin, Title: "Users", Path: "/admin/users"},
		models.Capability{Key: ManageAgents, RequiredRole: admin, Title: "Agents", Path: "/admin/agents"},
		models.Capability{Key: AllTransactions, RequiredRole: admin, Title: "Transactions", Path: "/admin/transactions"},
	)
}

func NewTable(caps ...models.Capability) Table {
	t := make(Table, len(caps))
	for _, c := range caps {
		t[c.Key] = c
	}
	return t
}

type tableFile struct {
	Capabilities []models.Capability `yaml:"capabilities"`
}

// ParseTable decodes a YAML capability table.
func ParseTable(data []byte) (Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode capability table: %w", err)
	}

	t := make(Table, len(f.Capabilities))
	for _, c := range f.Capabilities {
		if c.Key == "" {
			return nil, fmt.Errorf("capability without key")
		}
		if _, dup := t[c.Key]; dup {
			return nil, fmt.Errorf("duplicate capability %q", c.Key)
		}
		if c.RequiredRole != nil && !c.RequiredRole.Valid() {
			return nil, fmt.Errorf("capability %q: unknown role %q", c.Key, *c.RequiredRole)
		}
		t[c.Key] = c
	}
	return t, nil
}

// LoadTable reads a YAML capability table from path.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability table: %w", err)
	}
	return ParseTable(data)
}

// Lookup returns the capability for key.
func (t Table) Lookup(key models.CapabilityKey) (models.Capability, bool) {
	c, ok := t[key]
	return c, ok
}

// ForRole returns the capabilities open to role, sorted by key.
func (t Table) ForRole(role models.Role) []models.Capability {
	out := make([]models.Capability, 0, len(t))
	for _, c := range t {
		if c.RequiredRole == nil || *c.RequiredRole == role {
			out = append(out, c)
		}
	}
	sortCaps(out)
	return out
}

// Composer merges the capability table with the access guard.
type Composer struct {
	table Table
	guard *guard.Guard
}

func NewComposer(table Table, g *guard.Guard) *Composer {
	return &Composer{table: table, guard: g}
}

func (c *Composer) Table() Table { return c.table }

// Reachable returns the capabilities the guard allows for st. A session that is
// loading, unauthenticated or pending approval reaches nothing.
func (c *Composer) Reachable(st session.State) []models.Capability {
	if st.Phase != session.Authenticated || st.Principal == nil {
		return []models.Capability{}
	}

	out := make([]models.Capability, 0)
	for _, capability := range c.table.ForRole(st.Principal.Role) {
		if c.guard.Evaluate(st, capability).Allowed() {
			out = append(out, capability)
		}
	}
	return out
}

func sortCaps(caps []models.Capability) {
	sort.Slice(caps, func(i, j int) bool { return caps[i].Key < caps[j].Key })
}
