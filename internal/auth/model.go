package auth

import "time"

// UserRecord is the stored form of an account. Email is the identity and is kept
// exactly as received.
type UserRecord struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Secret    string     `json:"password"`
	LastLogin *time.Time `json:"lastLogin"`
}

// Public returns the projection that is safe to hand back to clients.
func (u UserRecord) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, Name: u.Name}
}

type PublicUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type AttemptState struct {
	Count       int
	LastFailure time.Time
}

// AttemptStatus is the outcome of AttemptTracker.Check.
type AttemptStatus struct {
	Allowed     bool
	Remaining   int
	LockedUntil time.Time
}

// RefreshEntry is a registry row for an issued refresh token. Only the digest of the
// raw token is kept.
type RefreshEntry struct {
	TokenID   string    `json:"tokenId"`
	TokenHash string    `json:"tokenHash"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SweepResult struct {
	DeletedRefreshTokens int `json:"deleted_refresh_tokens"`
	DeletedLoginAttempts int `json:"deleted_login_attempts"`
}
