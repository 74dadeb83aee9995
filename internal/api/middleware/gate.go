package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/hugh/salesdesk/internal/database/models"
)

type Decision int

const (
	DecisionAllow Decision = iota
	DecisionUnauthenticated
	DecisionForbidden
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionUnauthenticated:
		return "unauthenticated"
	default:
		return "forbidden"
	}
}

// Rule grants access to every path under Prefix.
type Rule struct {
	Prefix string
	Roles  []models.Role
	// SalesStaff also admits staff in the sales department.
	SalesStaff bool
	// AnyRole admits every active user.
	AnyRole bool
}

func (r Rule) matches(path string) bool {
	return path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/")
}

func (r Rule) permits(s *Session) bool {
	if r.AnyRole {
		return true
	}
	for _, role := range r.Roles {
		if s.Role == role {
			return true
		}
	}
	return r.SalesStaff && s.Role == models.RoleStaff && s.Department == models.DepartmentSales
}

// Policy maps route prefixes to the roles allowed there. Paths no rule
// matches are public.
type Policy []Rule

var (
	adminOnly   = []models.Role{models.RoleAdmin}
	staffRoles  = []models.Role{models.RoleStaff, models.RoleAdmin}
	sellerRoles = []models.Role{models.RoleAffiliate, models.RoleAdmin}
)

var DefaultPolicy = Policy{
	{Prefix: "/admin", Roles: adminOnly},
	{Prefix: "/api/v1/admin", Roles: adminOnly},
	{Prefix: "/staff", Roles: staffRoles},
	{Prefix: "/api/v1/staff", Roles: staffRoles},
	{Prefix: "/api/v1/training", Roles: staffRoles},
	{Prefix: "/affiliate", Roles: sellerRoles, SalesStaff: true},
	{Prefix: "/sales", Roles: sellerRoles, SalesStaff: true},
	{Prefix: "/api/v1/sales", Roles: sellerRoles, SalesStaff: true},
	{Prefix: "/api/v1/me", AnyRole: true},
	{Prefix: "/api/v1/qr", AnyRole: true},
}

// Rule returns the most specific rule covering path.
func (p Policy) Rule(path string) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range p {
		if r.matches(path) && len(r.Prefix) > len(best.Prefix) {
			best, found = r, true
		}
	}
	return best, found
}

// Allowed decides access to path for s, which is nil for anonymous callers.
// Only active users get past a protected route.
func (p Policy) Allowed(path string, s *Session) Decision {
	rule, ok := p.Rule(path)
	if !ok {
		return DecisionAllow
	}
	if s == nil {
		return DecisionUnauthenticated
	}
	if !s.Active() || !rule.permits(s) {
		return DecisionForbidden
	}
	return DecisionAllow
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// Gate enforces p using the session Authenticate put in the context. Page
// requests are redirected to the login or unauthorized page; API requests
// get 401 or 403.
func Gate(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch p.Allowed(r.URL.Path, SessionFrom(r.Context())) {
			case DecisionUnauthenticated:
				if isAPI(r) {
					writeError(w, http.StatusUnauthorized, "Unauthorized")
					return
				}
				http.Redirect(w, r, "/login?callbackUrl="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			case DecisionForbidden:
				if isAPI(r) {
					writeError(w, http.StatusForbidden, "Forbidden")
					return
				}
				http.Redirect(w, r, "/unauthorized", http.StatusFound)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
