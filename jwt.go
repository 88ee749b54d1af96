package oauth2

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"

	"github.com/golang-jwt/jwt/v5"
)

// Codec encodes and decodes compact signed token payloads. The signing
// algorithm is fixed at construction; decoding only accepts that algorithm.
type Codec struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
}

// NewHMACCodec builds a Codec for the HMAC-SHA-2 family. Supported
// algorithms are HS256, HS384 and HS512.
func NewHMACCodec(secret []byte, alg string) (*Codec, error) {
	var method jwt.SigningMethod
	switch alg {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported HMAC algorithm %q", alg)
	}
	return &Codec{method: method, signKey: secret, verifyKey: secret}, nil
}

// NewRSACodec builds an RS256 Codec from an RSA private key.
func NewRSACodec(key *rsa.PrivateKey) *Codec {
	return &Codec{
		method:    jwt.SigningMethodRS256,
		signKey:   key,
		verifyKey: &key.PublicKey,
	}
}

// Algorithm returns the JWS algorithm name the codec signs with.
func (c *Codec) Algorithm() string {
	return c.method.Alg()
}

// Encode signs the claim set into a compact header.payload.signature token.
func (c *Codec) Encode(claims Claims) (string, error) {
	token := jwt.NewWithClaims(c.method, claims.toMapClaims())
	signed, err := token.SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature with the codec's own key and returns the
// claim set. Expiry is not checked here; callers own validity decisions.
func (c *Codec) Decode(tokenString string) (Claims, error) {
	return DecodeWithKey(tokenString, c.verifyKey, c.method.Alg())
}

// DecodeWithKey verifies a compact token against the given key, accepting
// only the listed algorithms, and returns its claim set. Claim validity
// (exp, nbf, aud) is intentionally not enforced; the introspection state
// machine owns those decisions.
func DecodeWithKey(tokenString string, key any, algs ...string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(algs),
		jwt.WithoutClaimsValidation(),
	)
	m := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tokenString, m, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return Claims{}, fmt.Errorf("failed to verify token: %w", err)
	}
	return claimsFromMap(m), nil
}

// DecodeUnverified parses the token structure without checking the
// signature. Used by introspection for its structural pre-pass.
func DecodeUnverified(tokenString string) (jwt.MapClaims, error) {
	m := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, m); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	return m, nil
}

// ComputeAtHash derives the OpenID Connect at_hash claim for an access
// token: the left half of the token's hash, base64url encoded without
// padding. The hash function follows the id_token signing algorithm.
func ComputeAtHash(alg, accessToken string) (string, error) {
	var h hash.Hash
	switch alg {
	case "HS256", "RS256":
		h = sha256.New()
	case "HS384", "RS384":
		h = sha512.New384()
	case "HS512", "RS512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported algorithm %q for at_hash", alg)
	}
	h.Write([]byte(accessToken))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
