package identity

// Profile is the mutable connection-profile structure callers hand to the
// controller. GetTokens populates AccountID, Email, and Token; the rest of
// the profile belongs to the database-connection layer and is opaque here.
type Profile struct {
	// Resource is the short name of the resource the connection targets
	// (e.g. "sql"). Empty selects the configured default resource.
	Resource string
	// TenantID pins the token to a tenant. Empty selects the account's home
	// tenant.
	TenantID string

	// Populated by GetTokens.
	AccountID string
	Email     string
	Token     string
}
