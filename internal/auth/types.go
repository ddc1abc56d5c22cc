package auth

// Scopes for authorization
const (
	ScopeWritingSubmit = "writing:submit"
	ScopeWritingRead   = "writing:read"
	ScopeProfilesRead  = "profiles:read"
	ScopeProfilesWrite = "profiles:write"
	ScopeKeysManage    = "api_keys:manage"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UserContext is the authenticated identity attached to a request.
type UserContext struct {
	UserID     string   `json:"user_id"`
	Email      string   `json:"email,omitempty"`
	Role       string   `json:"role"`
	Scopes     []string `json:"scopes"`
	AuthMethod string   `json:"auth_method"` // jwt, api_key, or none when auth is skipped
	APIKeyID   string   `json:"api_key_id,omitempty"`
}

// HasScope reports whether the identity carries the given scope.
func (u *UserContext) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// scopesForRole returns the default scopes for a given role.
func scopesForRole(role string) []string {
	switch role {
	case RoleAdmin:
		return []string{
			ScopeWritingSubmit, ScopeWritingRead,
			ScopeProfilesRead, ScopeProfilesWrite,
			ScopeKeysManage,
		}
	default: // RoleUser
		return []string{
			ScopeWritingSubmit, ScopeWritingRead,
			ScopeProfilesRead, ScopeProfilesWrite,
		}
	}
}
