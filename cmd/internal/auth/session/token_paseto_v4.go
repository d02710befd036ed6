package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

// AccessClaims is the identity carried by an access token.
type AccessClaims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies short-lived access tokens.
type AccessTokenManager interface {
	Issue(userID string, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	PublicKeyHex() string
}

// accessFooter is the unencrypted footer. KeyID lets verifiers pick a key
// without trying each one.
type accessFooter struct {
	KeyID string `json:"kid"`
}

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	footer    []byte

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds an AccessTokenManager on PASETO v4.public.
// Issuer, expiry and the key id footer are enforced; ClockSkew widens the
// not-before check only.
func NewPasetoV4PublicManager(cfg Config) (AccessTokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	public := secret.Public()
	footer, err := json.Marshal(accessFooter{KeyID: keyID(public)})
	if err != nil {
		return nil, err
	}

	return &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		footer:    footer,
		secret:    secret,
		public:    public,
	}, nil
}

// keyID is the first 8 bytes of the public key's SHA-256, hex encoded.
func keyID(pub paseto.V4AsymmetricPublicKey) string {
	sum := sha256.Sum256(pub.ExportBytes())
	return hex.EncodeToString(sum[:8])
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetJti(uuid.NewString())
	if err := tok.Set("uid", userID); err != nil {
		return "", time.Time{}, err
	}
	tok.SetFooter(m.footer)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (AccessClaims, error) {
	// Fresh parser per call so rules never accumulate.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(now.Add(m.clockSkew)))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if string(parsed.Footer()) != string(m.footer) {
		return AccessClaims{}, ErrInvalidToken
	}

	// Expiry is checked against the real clock, not the skewed one.
	exp, err := parsed.GetExpiration()
	if err != nil || !now.Before(exp) {
		return AccessClaims{}, ErrInvalidToken
	}
	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	jti, err := parsed.GetJti()
	if err != nil || jti == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()

	return AccessClaims{
		UserID:    uid,
		TokenID:   jti,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}
