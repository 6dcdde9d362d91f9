// Package directory defines the durable user records the engine reads and
// the few writes it performs on them (password hash, registration).
//
// Three implementations ship with the module: an in-memory Memory directory
// for tests and examples, directory/mongo over the usermasters and
// users collections, and directory/postgres with embedded migrations.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

var (
	// ErrNotFound is returned by writes that target a missing user.
	ErrNotFound = errors.New("directory: user not found")
	// ErrDuplicate is returned when a GLID is already registered.
	ErrDuplicate = errors.New("directory: glid already registered")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("directory: backend unavailable")
)

// ContactKind distinguishes email and phone contacts.
type ContactKind string

const (
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

// MasterUser is the location-independent identity of a person.
type MasterUser struct {
	GUID         string
	GLID         string
	Name         string
	PasswordHash string
	PrimaryEmail string
	PrimaryPhone string
	DialCode     string
	Location     string
}

// HasPassword reports whether a password hash is stored.
func (m *MasterUser) HasPassword() bool {
	return m != nil && m.PasswordHash != ""
}

// HasVerifiedContact reports whether the user has a primary email or phone,
// which are only ever set once verified.
func (m *MasterUser) HasVerifiedContact() bool {
	return m != nil && (m.PrimaryEmail != "" || m.PrimaryPhone != "")
}

// Contact is one email or phone on a profile.
type Contact struct {
	Kind        ContactKind
	Value       string
	DialCode    string
	Verified    bool
	Primary     bool
	AuthEnabled bool
}

// Preference holds display preferences of a profile.
type Preference struct {
	Language   string
	HourFormat string
	TimeZone   string
}

// Profile is the per-location record of a user.
type Profile struct {
	GUID       string
	GLID       string
	Name       string
	Location   string
	Contacts   []Contact
	Preference Preference
}

// NewUser is a completed registration.
type NewUser struct {
	GLID           string
	Name           string
	Location       string
	Email          string
	EmailVerified  bool
	Mobile         string
	MobileVerified bool
	DialCode       string
	CountryCode    string
	Language       string
}

// Directory is the user store the engine depends on. Lookups of a missing
// user return (nil, nil).
type Directory interface {
	MasterByGLID(ctx context.Context, glid string) (*MasterUser, error)
	MasterByGUID(ctx context.Context, guid string) (*MasterUser, error)
	MasterByContact(ctx context.Context, kind ContactKind, value string) (*MasterUser, error)
	Profile(ctx context.Context, glid, location string) (*Profile, error)
	SetPasswordHash(ctx context.Context, guid, hash string) error
	CreateUser(ctx context.Context, user NewUser) (*MasterUser, error)
}

// NormalizeGLID is the canonical form GLIDs are stored and looked up in.
func NormalizeGLID(glid string) string {
	return strings.ToLower(strings.TrimSpace(glid))
}

// NormalizeContact trims a contact value and lower-cases emails.
func NormalizeContact(kind ContactKind, value string) string {
	value = strings.TrimSpace(value)
	if kind == ContactEmail {
		return strings.ToLower(value)
	}
	return value
}

// ProfileFor builds the initial profile of a registered user.
func ProfileFor(guid string, user NewUser) *Profile {
	p := &Profile{
		GUID:     guid,
		GLID:     NormalizeGLID(user.GLID),
		Name:     user.Name,
		Location: user.Location,
		Preference: Preference{
			Language:   user.Language,
			HourFormat: "24",
		},
	}
	if user.Email != "" {
		p.Contacts = append(p.Contacts, Contact{
			Kind:        ContactEmail,
			Value:       NormalizeContact(ContactEmail, user.Email),
			Verified:    user.EmailVerified,
			Primary:     user.EmailVerified,
			AuthEnabled: user.EmailVerified,
		})
	}
	if user.Mobile != "" {
		p.Contacts = append(p.Contacts, Contact{
			Kind:        ContactPhone,
			Value:       NormalizeContact(ContactPhone, user.Mobile),
			DialCode:    user.DialCode,
			Verified:    user.MobileVerified,
			Primary:     user.MobileVerified,
			AuthEnabled: user.MobileVerified,
		})
	}
	return p
}

// MasterFor builds the master record of a registered user.
func MasterFor(guid string, user NewUser) *MasterUser {
	m := &MasterUser{
		GUID:     guid,
		GLID:     NormalizeGLID(user.GLID),
		Name:     user.Name,
		Location: user.Location,
		DialCode: user.DialCode,
	}
	if user.EmailVerified {
		m.PrimaryEmail = NormalizeContact(ContactEmail, user.Email)
	}
	if user.MobileVerified {
		m.PrimaryPhone = NormalizeContact(ContactPhone, user.Mobile)
	}
	return m
}

// Unavailable wraps a backend failure of a directory implementation so the
// engine can recognise it with errors.Is(err, ErrUnavailable).
func Unavailable(domain, op string, err error) error {
	return oops.In(domain).
		Code("DIRECTORY_UNAVAILABLE").
		With("operation", op).
		Wrap(fmt.Errorf("%w: %v", ErrUnavailable, err))
}
