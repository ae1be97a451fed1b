package auth

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/escrowhouse/auction-engine/configs"
	"github.com/escrowhouse/auction-engine/pkg/errors"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/hkdf"
)

// Validator checks session cookies and yields the authenticated
// principal. The engine never reads identity from ambient state; the
// transport resolves it here and passes it down explicitly.
type Validator struct {
	secret     []byte
	cookieName string
}

func NewValidator(cfg *configs.Config) (*Validator, error) {
	if cfg.Auth.SecretKey == "" {
		return nil, errors.New(errors.ErrInternalServer, "auth secret not configured")
	}
	cookieName := cfg.Auth.CookieName
	if cookieName == "" {
		cookieName = "authjs.session-token"
	}
	return &Validator{
		secret:     []byte(cfg.Auth.SecretKey),
		cookieName: cookieName,
	}, nil
}

func (v *Validator) encryptionKey() ([]byte, error) {
	info := fmt.Sprintf("Auth.js Generated Encryption Key (%s)", v.cookieName)

	// HKDF with SHA-256
	hash := sha256.New
	kdf := hkdf.New(hash, v.secret, []byte(v.cookieName), []byte(info))

	key := make([]byte, 64)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	return key, nil
}

// JweToJwt decrypts the session JWE and re-signs its claims as an HS256
// JWT so the rest of the pipeline only deals with signed tokens.
func (v *Validator) JweToJwt(encryptedToken string) (string, error) {
	key, err := v.encryptionKey()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate encryption key")
	}

	// Decrypt JWE using DIRECT key encryption; the content encryption
	// algorithm comes from the token header.
	decrypted, err := jwe.Decrypt([]byte(encryptedToken),
		jwe.WithKey(jwa.DIRECT(), key))
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt JWE")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(decrypted, &payload); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal decrypted payload")
	}

	token := jwt.New()
	for k, val := range payload {
		token.Set(k, val)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), v.secret))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign JWT")
	}

	return string(signed), nil
}

// ValidateTokenFromCookie verifies the session cookie and returns the
// parsed token.
func (v *Validator) ValidateTokenFromCookie(r *http.Request) (jwt.Token, error) {
	cookie, err := r.Cookie(v.cookieName)
	if err != nil {
		return nil, errors.New(errors.ErrInvalidToken, "missing session token cookie")
	}

	// Convert JWE to JWT
	jwtString, err := v.JweToJwt(cookie.Value)
	if err != nil {
		log.Error("Failed to convert JWE to JWT", "error", err)
		return nil, errors.Wrap(err, "failed to convert JWE to JWT")
	}

	// Verify JWT
	token, err := jwt.Parse([]byte(jwtString),
		jwt.WithKey(jwa.HS256(), v.secret),
		jwt.WithValidate(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate token")
	}

	// Check expiration
	if exp, ok := token.Expiration(); ok && exp.Before(time.Now()) {
		return nil, errors.New(errors.ErrInvalidToken, "session token expired")
	}

	return token, nil
}

// Principal is the authenticated identity passed into engine operations.
type Principal struct {
	ID    string
	Email string
}

// PrincipalFromRequest resolves the caller behind a request.
func (v *Validator) PrincipalFromRequest(r *http.Request) (Principal, error) {
	token, err := v.ValidateTokenFromCookie(r)
	if err != nil || token == nil {
		return Principal{}, errors.WrapCode(errors.ErrInvalidToken, err, "invalid session token")
	}

	id, ok := token.Subject()
	if !ok || id == "" {
		return Principal{}, errors.New(errors.ErrInvalidToken, "token has no subject")
	}

	var email string
	if err := token.Get("email", &email); err != nil {
		return Principal{}, errors.New(errors.ErrInvalidToken, "token has no email claim")
	}

	return Principal{ID: id, Email: email}, nil
}
