// Package authstore persists authenticated browser state (cookies and
// localStorage) by profile name, and looks up login credentials by
// service name.
package authstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned by stores.
var (
	ErrInvalidName   = errors.New("invalid profile name")
	ErrNoCredentials = errors.New("no credentials for service")
)

// Cookie is a browser cookie in storage form.
type Cookie struct {
	Name   string `json:"name" yaml:"name"`
	Value  string `json:"value" yaml:"value"`
	Domain string `json:"domain" yaml:"domain"`
	Path   string `json:"path" yaml:"path"`
	// Expires is seconds since the Unix epoch; zero or negative marks a
	// session cookie.
	Expires  float64 `json:"expires" yaml:"expires"`
	HTTPOnly bool    `json:"httpOnly" yaml:"http_only"`
	Secure   bool    `json:"secure" yaml:"secure"`
	SameSite string  `json:"sameSite,omitempty" yaml:"same_site,omitempty"`
}

// Expired reports whether a persistent cookie has passed its expiry.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && float64(now.Unix()) >= c.Expires
}

// OriginStorage is the localStorage content of one origin.
type OriginStorage struct {
	Origin       string            `json:"origin" yaml:"origin"`
	LocalStorage map[string]string `json:"localStorage" yaml:"local_storage"`
}

// State is a snapshot of an authenticated browser context.
type State struct {
	Cookies []Cookie        `json:"cookies" yaml:"cookies"`
	Origins []OriginStorage `json:"origins" yaml:"origins"`
	SavedAt time.Time       `json:"savedAt" yaml:"saved_at"`
}

// Age returns how long ago the state was saved.
func (s *State) Age(now time.Time) time.Duration {
	return now.Sub(s.SavedAt)
}

// Fresh reports whether the state is younger than maxAge. A non-positive
// maxAge disables the age check.
func (s *State) Fresh(maxAge time.Duration, now time.Time) bool {
	if s == nil || s.SavedAt.IsZero() {
		return false
	}
	return maxAge <= 0 || s.Age(now) <= maxAge
}

// LiveCookies returns the cookies that have not expired at now.
func (s *State) LiveCookies(now time.Time) []Cookie {
	out := make([]Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if !c.Expired(now) {
			out = append(out, c)
		}
	}
	return out
}

// Credentials are the login details for one service.
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Login returns the username, falling back to the email address.
func (c Credentials) Login() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Email
}

// Store loads and saves auth profiles.
type Store interface {
	// Load returns the saved state, or nil and no error when the profile
	// does not exist.
	Load(ctx context.Context, name string) (*State, error)
	Save(ctx context.Context, name string, state *State) error
	// HasValid reports whether a profile exists and is younger than maxAge.
	HasValid(ctx context.Context, name string, maxAge time.Duration) bool
	// Credentials returns ErrNoCredentials when the service is unknown.
	Credentials(ctx context.Context, service string) (Credentials, error)
}

// ValidateName rejects names that are empty or could escape a directory.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Lister is implemented by stores that can enumerate their profiles.
type Lister interface {
	Profiles(ctx context.Context) ([]string, error)
}
