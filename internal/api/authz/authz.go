// Package authz carries the caller identity asserted by the upstream gateway.
package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"

	RoleMember = "member"
	RoleStaff  = "staff"
	RoleAdmin  = "admin"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type AuthUser struct {
	ID   int64
	Role string
}

// Actor identifies the user in audit fields such as cancelledBy.
func (u *AuthUser) Actor() string {
	if u == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", u.Role, u.ID)
}

type userContextKey struct{}

func ContextWithUser(ctx context.Context, user *AuthUser) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves the AuthUser stored in ctx.
// It returns nil if ctx is nil, if no user is stored, or if the stored value has a different type.
func UserFromContext(ctx context.Context) *AuthUser {
	if ctx == nil {
		return nil
	}

	user, ok := ctx.Value(userContextKey{}).(*AuthUser)
	if !ok {
		return nil
	}

	return user
}

// IsStaff reports whether user acts for the facility rather than as a player.
func IsStaff(user *AuthUser) bool {
	return user != nil && (user.Role == RoleStaff || user.Role == RoleAdmin)
}

// RequireStaff returns ErrUnauthenticated without an identity and
// ErrForbidden for members.
func RequireStaff(ctx context.Context) error {
	user := UserFromContext(ctx)
	if user == nil {
		return ErrUnauthenticated
	}
	if !IsStaff(user) {
		return ErrForbidden
	}
	return nil
}

// IdentityFromHeaders parses the identity headers. It returns nil, nil when
// no identity was sent.
func IdentityFromHeaders(h http.Header) (*AuthUser, error) {
	rawID := strings.TrimSpace(h.Get(UserIDHeader))
	if rawID == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%s must be a positive integer", UserIDHeader)
	}

	role := strings.ToLower(strings.TrimSpace(h.Get(UserRoleHeader)))
	switch role {
	case "":
		role = RoleMember
	case RoleMember, RoleStaff, RoleAdmin:
	default:
		return nil, fmt.Errorf("%s %q is not recognized", UserRoleHeader, role)
	}
	return &AuthUser{ID: id, Role: role}, nil
}

// WithIdentity places the upstream-asserted identity in the request context.
// Malformed identity headers are rejected; a request without them proceeds
// anonymously.
func WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := IdentityFromHeaders(r.Header)
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("Rejected malformed identity headers")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if user != nil {
			r = r.WithContext(ContextWithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}
