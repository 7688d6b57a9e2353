package domain

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest is the signup payload. New accounts always get the
// user role; privilege changes are an admin operation elsewhere.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User Profile `json:"user"`
}

// ImpersonationResponse is returned by a successful start, so the client can
// render "acting as X (really Y)".
type ImpersonationResponse struct {
	ImpersonatedUser Profile `json:"impersonatedUser"`
	OriginalAdmin    Profile `json:"originalAdmin"`
}

// ImpersonationStatus is returned by the status endpoint. Both profiles are
// null when no impersonation is active.
type ImpersonationStatus struct {
	IsImpersonating  bool     `json:"isImpersonating"`
	OriginalAdmin    *Profile `json:"originalAdmin"`
	ImpersonatedUser *Profile `json:"impersonatedUser"`
}
