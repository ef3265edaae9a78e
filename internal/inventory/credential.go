package inventory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CredentialClaims is the payload encoded into a shelf's QR credential.
// Rendering the token into an image is an external concern; this service
// only produces and stores the signed artifact.
type CredentialClaims struct {
	ShelfID int64   `json:"shelf_id"`
	UserIDs []int64 `json:"user_ids"`
	jwt.RegisteredClaims
}

// CredentialIssuer signs shelf credentials and writes them as artifacts
type CredentialIssuer struct {
	secret []byte
	issuer string
	dir    string
}

// NewCredentialIssuer creates a credential issuer writing into dir
func NewCredentialIssuer(secret, issuer, dir string) *CredentialIssuer {
	return &CredentialIssuer{
		secret: []byte(secret),
		issuer: issuer,
		dir:    dir,
	}
}

// Issue signs a credential for the shelf and writes it to a uniquely named
// artifact file. Returns the artifact path.
func (ci *CredentialIssuer) Issue(shelfID int64, userIDs []int64) (string, error) {
	claims := CredentialClaims{
		ShelfID: shelfID,
		UserIDs: userIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  ci.issuer,
			Subject: fmt.Sprintf("shelf:%d", shelfID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ci.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}

	if err := os.MkdirAll(ci.dir, 0750); err != nil {
		return "", fmt.Errorf("create credential dir: %w", err)
	}

	path := filepath.Join(ci.dir, uuid.New().String()+".token")
	if err := os.WriteFile(path, []byte(signed), 0640); err != nil {
		return "", fmt.Errorf("write credential artifact: %w", err)
	}

	return path, nil
}

// Verify parses a signed credential and returns its claims
func (ci *CredentialIssuer) Verify(signed string) (*CredentialClaims, error) {
	token, err := jwt.ParseWithClaims(signed, &CredentialClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ci.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}

	claims, ok := token.Claims.(*CredentialClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid credential token")
	}
	return claims, nil
}
