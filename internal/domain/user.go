package domain

type Role string

const (
	RoleBuyer      Role = "buyer"
	RoleSeller     Role = "seller"
	RoleUnverified Role = "uv-seller"
	RoleAdmin      Role = "admin"
)

type VerificationStatus string

const (
	VerificationNone       VerificationStatus = "none"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
	VerificationRejected   VerificationStatus = "rejected"
	VerificationTerminated VerificationStatus = "terminated"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	SuperAdmin bool   `json:"super_admin"`
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin || c.SuperAdmin
}

func (c Caller) IsSeller() bool {
	return c.Role == RoleSeller
}
