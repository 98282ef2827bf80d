package push

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// vapidTokenTTL bounds the signed-JWT lifetime RFC 8292 recommends (no
// more than 24h; push services commonly reject anything longer).
const vapidTokenTTL = 12 * time.Hour

// VAPIDIdentity holds the operator's VAPID key pair and JWT subject
// (spec §6: VAPID_PUBLIC_KEY/VAPID_PRIVATE_KEY/VAPID_SUBJECT), both
// raw-urlsafe-base64-encoded P-256 points/scalars as web-push convention
// dictates.
type VAPIDIdentity struct {
	PublicKey  string
	PrivateKey string
	Subject    string

	privateKey *ecdsa.PrivateKey
}

// NewVAPIDIdentity parses the configured VAPID key material once at
// startup so per-notification signing never has to re-derive the curve
// point.
func NewVAPIDIdentity(publicKey, privateKey, subject string) (*VAPIDIdentity, error) {
	raw, err := decodeB64(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid vapid private key: %w", err)
	}
	curve := elliptic.P256()
	key := new(ecdsa.PrivateKey)
	key.Curve = curve
	key.D = new(big.Int).SetBytes(raw)
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(raw)

	return &VAPIDIdentity{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    subject,
		privateKey: key,
	}, nil
}

// authHeader builds the VAPID Authorization and Crypto-Key header pair
// (RFC 8292) for a POST to the given push endpoint: a short-lived ES256
// JWT whose audience is the endpoint's origin, plus the raw public key.
func (v *VAPIDIdentity) authHeader(endpoint string) (authorization, cryptoKey string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("invalid push endpoint: %w", err)
	}
	audience := u.Scheme + "://" + u.Host

	now := time.Now()
	claims := jwt.MapClaims{
		"aud": audience,
		"exp": now.Add(vapidTokenTTL).Unix(),
		"sub": v.Subject,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(v.privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign vapid jwt: %w", err)
	}

	authorization = "vapid t=" + signed + ", k=" + v.PublicKey
	cryptoKey = "p256ecdsa=" + v.PublicKey
	return authorization, cryptoKey, nil
}
