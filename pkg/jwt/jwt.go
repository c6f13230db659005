package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the subset of the marketplace session token the console reads.
// The API has issued tokens with either "user_id" or "id"; "sub" is the
// last fallback.
type Claims struct {
	jwt.RegisteredClaims
	UserID string   `json:"user_id,omitempty"`
	ID     string   `json:"id,omitempty"`
	Email  string   `json:"email,omitempty"`
	Role   string   `json:"role,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// Identity is who the console is acting as.
type Identity struct {
	UserID    string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// Parser extracts identities from session tokens. With an empty secret the
// signature is not checked: the marketplace API remains the authority and
// the console only needs the claims to tell its own messages apart.
type Parser struct {
	secret []byte
	now    func() time.Time
}

// NewParser creates a parser. secret may be empty.
func NewParser(secret string) *Parser {
	p := &Parser{now: time.Now}
	if secret != "" {
		p.secret = []byte(secret)
	}
	return p
}

// Parse validates the token shape (and signature when a secret is set) and
// returns the identity it carries.
func (p *Parser) Parse(tokenString string) (*Identity, error) {
	claims := &Claims{}

	if p.secret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
			return nil, ErrInvalidToken
		}
		if claims.ExpiresAt != nil && p.now().After(claims.ExpiresAt.Time) {
			return nil, ErrExpiredToken
		}
	} else {
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return p.secret, nil
		}, jwt.WithTimeFunc(p.now))
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return nil, ErrExpiredToken
			}
			return nil, ErrInvalidToken
		}
		if !token.Valid {
			return nil, ErrInvalidToken
		}
	}

	id := &Identity{
		UserID: firstNonEmpty(claims.UserID, claims.ID, claims.Subject),
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if id.Role == "" && len(claims.Roles) > 0 {
		id.Role = claims.Roles[0]
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Sign issues an HS256 token. Used by tests and local tooling to mint
// session tokens shaped like the marketplace's.
func Sign(claims *Claims, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
