package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	accountdomain "github.com/smallbiznis/swimreg/internal/account/domain"
	"github.com/smallbiznis/swimreg/internal/authorization"
	"github.com/smallbiznis/swimreg/internal/config"
	obscontext "github.com/smallbiznis/swimreg/internal/observability/context"
	"go.uber.org/zap"
)

const contextAccountKey = "account"

// Claims is the session token issued by the portal's identity provider.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HMAC-signed bearer tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
	cookie string
}

func NewTokenVerifier(cfg config.Config) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(cfg.Auth.JWTSecret),
		issuer: cfg.Auth.JWTIssuer,
		cookie: cfg.Auth.CookieName,
	}
}

func (v *TokenVerifier) Configured() bool {
	return v != nil && len(v.secret) > 0
}

func (v *TokenVerifier) Parse(raw string) (*Claims, error) {
	if !v.Configured() {
		return nil, ErrUnauthorized
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.Email) == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (v *TokenVerifier) rawToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if v != nil && v.cookie != "" {
		if value, err := c.Cookie(v.cookie); err == nil {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// AccountRequired rejects requests without a valid token and loads the
// caller's account.
func (s *Server) AccountRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := s.tokens.rawToken(c)
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.loadAccount(c, raw); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// OptionalAccount loads the caller's account when a valid token is present
// and otherwise lets the request through anonymously.
func (s *Server) OptionalAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := s.tokens.rawToken(c); raw != "" {
			if err := s.loadAccount(c, raw); err != nil && !errors.Is(err, ErrUnauthorized) {
				AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}

func (s *Server) loadAccount(c *gin.Context, raw string) error {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return err
	}

	ctx := c.Request.Context()
	account, created, err := s.accountSvc.Ensure(ctx, accountdomain.Identity{
		Subject:  claims.Subject,
		Email:    claims.Email,
		FullName: claims.Name,
	})
	if err != nil {
		return err
	}

	ctx = obscontext.WithActor(ctx, "account", account.ID.String())
	c.Request = c.Request.WithContext(ctx)
	c.Set(contextAccountKey, account)

	if created {
		// registrations submitted before sign-up belong to this account now
		result, err := s.linkerSvc.Link(ctx, account.ID, account.Email)
		if err != nil {
			s.log.Warn("first-sight registration linking failed",
				zap.String("account_id", account.ID.String()),
				zap.Error(err),
			)
		} else if result != nil && (result.Invoices+result.Swimmers+result.Consents) > 0 {
			s.log.Info("linked registrations on first sight",
				zap.String("account_id", account.ID.String()),
				zap.Int64("invoices", result.Invoices),
				zap.Int64("swimmers", result.Swimmers),
			)
		}
	}
	return nil
}

func accountFromContext(c *gin.Context) (*accountdomain.Account, bool) {
	value, ok := c.Get(contextAccountKey)
	if !ok {
		return nil, false
	}
	account, ok := value.(*accountdomain.Account)
	return account, ok && account != nil
}

func actorOf(account *accountdomain.Account) authorization.Actor {
	return authorization.Actor{AccountID: account.ID, Role: string(account.Role)}
}
