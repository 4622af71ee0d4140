package jwtauth

import (
	"taxdesk/internal/platform/middleware"
)

// Validator adapts Service to the middleware.JWTValidator interface.
type Validator struct {
	svc *Service
}

func NewValidator(svc *Service) *Validator {
	return &Validator{svc: svc}
}

func (v *Validator) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := v.svc.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{
		UserID: claims.UserID,
		Role:   claims.Role,
	}, nil
}
