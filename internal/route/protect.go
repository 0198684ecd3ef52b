// Package route decides what an admin view may show for a given
// authorization state.
package route

import (
	"net/url"
	"strings"

	"conclave/internal/domain"
)

// Decision is the outcome of checking a protected view.
type Decision int

const (
	// Loading: the guard has not decided yet. Show neither content nor login.
	Loading Decision = iota
	Render
	Redirect
)

func (d Decision) String() string {
	switch d {
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return "loading"
	}
}

// LoginPath is the login view. It is never protected.
const LoginPath = "/admin/login"

// View is a path of the admin area.
type View string

// AdminViews are the protected views of the site.
var AdminViews = []View{
	"/admin",
	"/admin/speakers",
	"/admin/events",
	"/admin/sponsors",
	"/admin/gallery",
	"/admin/messages",
}

// Outcome is a Decision plus, for Redirect, where to send the browser.
type Outcome struct {
	Decision Decision
	Location string
}

// Decide maps a state to a decision. It is total and has no side effects.
func Decide(state domain.AuthState) Decision {
	switch {
	case state.Status == domain.StatusUnknown:
		return Loading
	case state.IsAuthenticated():
		return Render
	default:
		return Redirect
	}
}

// Protect decides for a specific view. On Redirect, Location points at the
// login view and carries the original view in the next parameter.
func Protect(state domain.AuthState, view View) Outcome {
	d := Decide(state)
	if d != Redirect {
		return Outcome{Decision: d}
	}
	return Outcome{Decision: Redirect, Location: LoginLocation(string(view))}
}

// LoginLocation builds the login URL that returns to next afterwards.
func LoginLocation(next string) string {
	if !IsAdminView(next) {
		return LoginPath
	}
	return LoginPath + "?next=" + url.QueryEscape(next)
}

// IsAdminView reports whether path lies in the protected admin area.
func IsAdminView(path string) bool {
	path = strings.TrimSuffix(path, "/")
	if path == LoginPath || strings.HasPrefix(path, LoginPath+"/") {
		return false
	}
	return path == "/admin" || strings.HasPrefix(path, "/admin/")
}

// SafeNext returns next when it names an admin view and the admin home
// otherwise, so the login form can never redirect off-site.
func SafeNext(next string) string {
	if strings.HasPrefix(next, "//") || !IsAdminView(next) {
		return string(AdminViews[0])
	}
	return next
}
