package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenJobMismatch is returned when a valid token names a different job.
	ErrTokenJobMismatch = errors.New("stream token not valid for this job")
)

// StreamClaims bind a stream token to a single job and its owner.
type StreamClaims struct {
	JobID  string `json:"job_id"`
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// StreamTokenIssuer mints and verifies job-scoped stream tokens. Tokens are
// signed with a secret separate from the identity secret, so a leaked stream
// token never grants API access.
type StreamTokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewStreamTokenIssuer(secret string, ttl time.Duration) (*StreamTokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("stream token secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StreamTokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token that authorizes streaming events for one job.
func (i *StreamTokenIssuer) Issue(jobID, userID string) (string, error) {
	now := time.Now()
	claims := StreamClaims{
		JobID:  jobID,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses the token and checks it was minted for jobID.
func (i *StreamTokenIssuer) Verify(tokenString, jobID string) (*StreamClaims, error) {
	claims := &StreamClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid stream token")
	}
	if claims.JobID == "" || claims.JobID != jobID {
		return nil, ErrTokenJobMismatch
	}
	return claims, nil
}
