package auth

const (
	ScopeOpenID       = "openid"
	ScopeProfile      = "profile"
	ScopeEmail        = "email"
	ScopeContentRead  = "content:read"
	ScopeContentWrite = "content:write"
)

// AllScopes defines the full set of scopes used by the Swagger UI / admin frontend
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeContentRead,
	ScopeContentWrite,
}
