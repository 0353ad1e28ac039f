package domain

import "errors"

// Errors returned while authenticating platform callers.
var (
	// ErrUnauthorized indicates a missing or invalid service token
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates the service token is past its expiry
	ErrTokenExpired = errors.New("token expired")

	// ErrForbidden indicates the caller may not act for the seller
	ErrForbidden = errors.New("forbidden")
)

// ServiceClaims identify an internal platform service calling the API.
// A token without SellerID may act for any seller.
type ServiceClaims struct {
	Service   string `json:"service"`
	SellerID  string `json:"seller_id,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// AuthContext is the authenticated caller attached to a request.
type AuthContext struct {
	Service  string `json:"service"`
	SellerID string `json:"seller_id,omitempty"`
}

// CanAccess reports whether the caller may act for sellerID.
func (a *AuthContext) CanAccess(sellerID string) bool {
	if a == nil {
		return false
	}
	return a.SellerID == "" || a.SellerID == sellerID
}
