package auth

import (
	"errors"
)

// ErrUserMismatch is returned when a token belongs to a different user than claimed.
var ErrUserMismatch = errors.New("token does not match user")

// Service verifies tokens issued by the Themis API. A nil *Service or one
// without a secret accepts every caller.
type Service struct {
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(jwtConfig *JWTConfig) *Service {
	return &Service{jwtConfig: jwtConfig}
}

// Enabled reports whether tokens are checked at all.
func (s *Service) Enabled() bool {
	return s != nil && s.jwtConfig != nil && len(s.jwtConfig.Secret) > 0
}

// ValidateToken validates a JWT token and returns claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// CheckUser verifies that token, when required, was issued to userID.
// Tokens are optional on the WebSocket entry points; a present one must match.
func (s *Service) CheckUser(token, userID string) error {
	if !s.Enabled() || token == "" {
		return nil
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		return err
	}
	if claims.UserID != userID {
		return ErrUserMismatch
	}
	return nil
}
