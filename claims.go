package oauth2

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the claim set carried by tokens the engine signs and verifies.
// Zero values are omitted on the wire.
type Claims struct {
	Issuer          string `json:"iss,omitempty"`
	Subject         string `json:"sub,omitempty"`
	Audience        string `json:"aud,omitempty"`
	ExpiresAt       int64  `json:"exp,omitempty"`
	IssuedAt        int64  `json:"iat,omitempty"`
	NotBefore       int64  `json:"nbf,omitempty"`
	ID              string `json:"jti,omitempty"`
	Nonce           string `json:"nonce,omitempty"`
	AuthTime        int64  `json:"auth_time,omitempty"`
	AuthorizedParty string `json:"azp,omitempty"`
	AtHash          string `json:"at_hash,omitempty"`
	Scope           string `json:"scope,omitempty"`
}

// toMapClaims converts Claims into the representation golang-jwt signs.
func (c Claims) toMapClaims() jwt.MapClaims {
	m := jwt.MapClaims{}
	if c.Issuer != "" {
		m["iss"] = c.Issuer
	}
	if c.Subject != "" {
		m["sub"] = c.Subject
	}
	if c.Audience != "" {
		m["aud"] = c.Audience
	}
	if c.ExpiresAt != 0 {
		m["exp"] = c.ExpiresAt
	}
	if c.IssuedAt != 0 {
		m["iat"] = c.IssuedAt
	}
	if c.NotBefore != 0 {
		m["nbf"] = c.NotBefore
	}
	if c.ID != "" {
		m["jti"] = c.ID
	}
	if c.Nonce != "" {
		m["nonce"] = c.Nonce
	}
	if c.AuthTime != 0 {
		m["auth_time"] = c.AuthTime
	}
	if c.AuthorizedParty != "" {
		m["azp"] = c.AuthorizedParty
	}
	if c.AtHash != "" {
		m["at_hash"] = c.AtHash
	}
	if c.Scope != "" {
		m["scope"] = c.Scope
	}
	return m
}

func claimsFromMap(m jwt.MapClaims) Claims {
	c := Claims{}
	c.Issuer, _ = m["iss"].(string)
	c.Subject, _ = m["sub"].(string)
	c.Nonce, _ = m["nonce"].(string)
	c.ID, _ = m["jti"].(string)
	c.AuthorizedParty, _ = m["azp"].(string)
	c.AtHash, _ = m["at_hash"].(string)
	c.Scope, _ = m["scope"].(string)
	switch aud := m["aud"].(type) {
	case string:
		c.Audience = aud
	case []any:
		if len(aud) > 0 {
			c.Audience, _ = aud[0].(string)
		}
	}
	c.ExpiresAt = numericClaim(m["exp"])
	c.IssuedAt = numericClaim(m["iat"])
	c.NotBefore = numericClaim(m["nbf"])
	c.AuthTime = numericClaim(m["auth_time"])
	return c
}

// numericClaim coerces the JSON representations a unix-timestamp claim may
// decode into.
func numericClaim(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
