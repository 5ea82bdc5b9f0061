package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/doubtbuddy/core"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

var Roles = []Role{RoleStudent, RoleTutor}

func (r Role) IsValid() bool {
	for _, role := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         Role       `json:"role"`
	Expertise    []string   `json:"expertise"`
	IsActive     bool       `json:"is_active"`
	PasswordHash []byte     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"` // UTC
	UpdatedAt    time.Time  `json:"updated_at"` // UTC
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) IsStudent() bool { return u.Role == RoleStudent }
func (u User) IsTutor() bool   { return u.Role == RoleTutor }

// Session returns the acting identity of u.
func (u User) Session() Session {
	return Session{UserID: u.ID, Name: u.Name, Role: u.Role}
}

// Session is the authenticated actor passed explicitly to every lifecycle call.
// The zero value is an anonymous session.
type Session struct {
	UserID string
	Name   string
	Role   Role
}

func (s Session) Authenticated() bool { return s.UserID != "" }
func (s Session) IsStudent() bool     { return s.Authenticated() && s.Role == RoleStudent }
func (s Session) IsTutor() bool       { return s.Authenticated() && s.Role == RoleTutor }

// NewUser contains information needed to register a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required,notblank,max=100"`
	Email           string   `json:"email" validate:"required,email,max=254"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            Role     `json:"role" validate:"required,role"`
	Expertise       []string `json:"expertise" validate:"omitempty,max=14,dive,notblank,max=50"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = Role(core.CleanString(string(nu.Role), true /* lower */))

	expertise := make([]string, 0, len(nu.Expertise))
	seen := make(map[string]bool, len(nu.Expertise))
	for _, e := range nu.Expertise {
		e = core.CleanString(e)
		if !seen[e] {
			seen[e] = true
			expertise = append(expertise, e)
		}
	}
	nu.Expertise = expertise

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, nu.Email)
}

// ResetUserPassword contains the reset link parts and the new password.
type ResetUserPassword struct {
	UID             string `json:"uid" validate:"required"`
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

type GetFilter struct {
	ID    string
	Email string
}
