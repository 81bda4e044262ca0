package approval

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const receiptIssuer = "warden/approval"

// ReceiptClaims binds the resolution facts into a verifiable token so a
// downstream system can trust an approval without calling back into the
// manager.
type ReceiptClaims struct {
	jwt.RegisteredClaims
	TenantID    string `json:"tenant_id"`
	ExtensionID string `json:"extension_id"`
	Outcome     Status `json:"outcome"`
	ReviewerID  string `json:"reviewer_id,omitempty"`
	ContentHash string `json:"content_hash"`
}

// ReceiptSigner issues and verifies signed receipt tokens.
type ReceiptSigner struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	clock   func() time.Time
}

// NewReceiptSigner signs receipts with the given key. Tokens are valid
// for ttl; non-positive ttl defaults to 30 days.
func NewReceiptSigner(private ed25519.PrivateKey, ttl time.Duration) (*ReceiptSigner, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("approval: invalid receipt signing key size %d", len(private))
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &ReceiptSigner{
		private: private,
		public:  private.Public().(ed25519.PublicKey),
		ttl:     ttl,
		clock:   time.Now,
	}, nil
}

// PublicKey returns the verification key for external validators.
func (s *ReceiptSigner) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), s.public...)
}

// Sign produces a token carrying the receipt's resolution facts.
func (s *ReceiptSigner) Sign(r *Receipt) (string, error) {
	now := s.clock().UTC()
	claims := ReceiptClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        r.ID,
			Subject:   r.IntentID,
			Issuer:    receiptIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		TenantID:    r.TenantID,
		ExtensionID: r.ExtensionID,
		Outcome:     r.Outcome,
		ReviewerID:  r.ReviewerID,
		ContentHash: r.ContentHash,
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.private)
}

// Verify parses and validates a receipt token.
func (s *ReceiptSigner) Verify(token string) (*ReceiptClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &ReceiptClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("approval: unexpected signing method %s", t.Method.Alg())
			}
			return s.public, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(receiptIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("approval: invalid receipt token: %w", err)
	}

	claims, ok := parsed.Claims.(*ReceiptClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
