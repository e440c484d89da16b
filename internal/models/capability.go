package models

// CapabilityKey identifies a protected screen or action.
type CapabilityKey string

// Capability is one entry of the application's route table.
type Capability struct {
	Key          CapabilityKey `json:"key" yaml:"key"`
	RequiredRole *Role         `json:"required_role,omitempty" yaml:"required_role,omitempty"`
	Title        string        `json:"title,omitempty" yaml:"title,omitempty"`
	Path         string        `json:"path,omitempty" yaml:"path,omitempty"`
}

// RoleRef returns a pointer to r, for building capability tables.
func RoleRef(r Role) *Role {
	return &r
}
