package automation

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// tokenParser only decodes. The console's signing key is never known here.
var tokenParser = jwt.NewParser()

// SessionToken is what a JWT session cookie says about the console session.
type SessionToken struct {
	Cookie    string
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry at or before now.
func (t SessionToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// SessionTokens decodes every cookie whose value is a JWT. Other cookies are skipped.
func SessionTokens(cookies []schemas.Cookie) []SessionToken {
	var out []SessionToken
	for _, c := range cookies {
		value := strings.TrimSpace(strings.TrimPrefix(c.Value, "Bearer "))
		if strings.Count(value, ".") != 2 {
			continue
		}
		claims := jwt.MapClaims{}
		if _, _, err := tokenParser.ParseUnverified(value, claims); err != nil {
			continue
		}
		tok := SessionToken{Cookie: c.Name}
		tok.Subject, _ = claims.GetSubject()
		tok.Issuer, _ = claims.GetIssuer()
		if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
			tok.IssuedAt = iat.Time.UTC()
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			tok.ExpiresAt = exp.Time.UTC()
		}
		out = append(out, tok)
	}
	return out
}

// logSessionTokens logs the expiry of the page's JWT session cookies and warns about
// expired ones. Pages that cannot list cookies are skipped. It returns the tokens found.
func logSessionTokens(ctx context.Context, logger *zap.Logger, page schemas.Page, now time.Time) []SessionToken {
	reader, ok := page.(schemas.CookieReader)
	if !ok {
		return nil
	}
	cookies, err := reader.Cookies(ctx)
	if err != nil {
		logger.Debug("Could not read session cookies.", zap.Error(err))
		return nil
	}
	tokens := SessionTokens(cookies)
	for _, tok := range tokens {
		fields := []zap.Field{
			zap.String("cookie", tok.Cookie),
			zap.String("subject", tok.Subject),
		}
		if tok.ExpiresAt.IsZero() {
			logger.Debug("Session token has no expiry.", fields...)
			continue
		}
		fields = append(fields, zap.Time("expires_at", tok.ExpiresAt))
		if tok.Expired(now) {
			logger.Warn("Session token already expired.", fields...)
			continue
		}
		logger.Info("Session token valid.", append(fields, zap.Duration("remaining", tok.ExpiresAt.Sub(now)))...)
	}
	return tokens
}
