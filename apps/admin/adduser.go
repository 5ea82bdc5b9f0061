package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/doubtbuddy/core"
	"github.com/trezcool/doubtbuddy/core/user"
)

var (
	errInvalidRole      = errors.New("role must be one of: student, tutor")
	errMissingExpertise = errors.New("tutors must list at least one area of expertise")
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, email, pwd string, role user.Role, expertise []string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)
	role = user.Role(core.CleanString(string(role), true /* lower */))

	if !role.IsValid() {
		return errInvalidRole
	}
	if role == user.RoleTutor && len(expertise) == 0 {
		return errMissingExpertise
	}

	now := time.Now().UTC()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email})
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr = user.User{Email: email, CreatedAt: now}
	}
	usr.Name = name
	usr.Role = role
	usr.Expertise = expertise
	usr.IsActive = true
	usr.UpdatedAt = now
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err := cli.usrRepo.UpdateOrCreateUser(ctx, usr); err != nil {
		return err
	}
	return nil
}
