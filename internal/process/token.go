package process

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/tgerr"
)

// claims is the JWT payload authorizing mutation of one process (spec
// §4.7 "requires the caller to present the process's auth token").
type claims struct {
	ProcessID string `json:"pid"`
	jwt.RegisteredClaims
}

// issueToken signs a token scoped to procID with secret, returning the
// token text and the sha256 hex digest persisted as token_hash so a
// stolen-but-still-valid signature can be checked against what the
// scheduler actually issued.
func issueToken(secret []byte, procID id.ID) (token string, hash string, err error) {
	c := claims{
		ProcessID: procID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := t.SignedString(secret)
	if err != nil {
		return "", "", fmt.Errorf("process: sign token: %w", err)
	}
	return signed, hashToken(signed), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// verifyToken checks that token is a validly-signed token for procID and
// matches the hash the scheduler recorded at spawn time.
func verifyToken(secret []byte, procID id.ID, storedHash, token string) error {
	if hashToken(token) != storedHash {
		return tgerr.New(tgerr.Unauthorized, "process: token does not match process %s", procID)
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return tgerr.Wrap(tgerr.Unauthorized, err, "process: invalid token for %s", procID)
	}
	if c.ProcessID != procID.String() {
		return tgerr.New(tgerr.Unauthorized, "process: token is scoped to a different process")
	}
	return nil
}

// randomSecret generates a fresh HMAC signing key for a scheduler that
// wasn't given one explicitly.
func randomSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("process: failed to read random secret: " + err.Error())
	}
	return b
}
