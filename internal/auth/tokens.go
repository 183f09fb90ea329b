package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sjaiswal27/courierdrop/internal/apperr"
)

// Token types. A session token must never satisfy a transfer-file check and
// vice versa, so both share one decode path tagged by the typ claim.
const (
	TypeSession  = "session"
	TypeTransfer = "transfer"
)

const (
	SessionTTL  = 24 * time.Hour
	TransferTTL = 15 * time.Minute
)

type Claims struct {
	Type       string `json:"typ"`
	TransferID uint   `json:"tid,omitempty"`
	ReceiverID uint   `json:"rid,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and validates both session and transfer access tokens with
// one HS256 secret. Construct once at startup, share read-only thereafter.
type Service struct {
	secret []byte
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// IssueSession mints a bearer session token for a user.
func (s *Service) IssueSession(userID uint) (string, error) {
	now := time.Now()
	claims := &Claims{
		Type: TypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}
	return s.sign(claims)
}

// IssueTransfer mints a short-lived token scoped to one (transfer, receiver)
// pair. Only a successful access-code verification should call this.
func (s *Service) IssueTransfer(transferID, receiverID uint) (string, error) {
	now := time.Now()
	claims := &Claims{
		Type:       TypeTransfer,
		TransferID: transferID,
		ReceiverID: receiverID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TransferTTL)),
		},
	}
	return s.sign(claims)
}

func (s *Service) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.Unauthorized("Invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, apperr.Unauthorized("Invalid or expired token")
	}
	return claims, nil
}

// VerifySession validates a session token and returns the user id it names.
func (s *Service) VerifySession(tokenStr string) (uint, error) {
	claims, err := s.parse(tokenStr)
	if err != nil {
		return 0, err
	}
	if claims.Type != TypeSession {
		return 0, apperr.Unauthorized("Invalid or expired token")
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Unauthorized("Invalid or expired token")
	}
	return uint(id), nil
}

// RequireTransferToken enforces the receiver-side gate on a transfer: the
// token must be present, valid, of transfer type, and bound to exactly this
// transfer and caller.
func (s *Service) RequireTransferToken(transferID, userID uint, presented string) error {
	if presented == "" {
		return apperr.Forbidden("Transfer access token required")
	}
	claims, err := s.parse(presented)
	if err != nil {
		return apperr.Unauthorized("Invalid or expired transfer access token")
	}
	if claims.Type != TypeTransfer {
		return apperr.Unauthorized("Invalid or expired transfer access token")
	}
	if claims.TransferID != transferID || claims.ReceiverID != userID {
		return apperr.Forbidden("Transfer access token does not match")
	}
	return nil
}
