package main

import (
	"context"
	"time"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/user"
)

// addUser updates or creates a user.User. Existing roles are kept unless roles is set.
func (cli *commandLine) addUser(name, uname, email, pwd string, roles []string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	now := time.Now().UTC()

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	if err != nil {
		if err != user.ErrNotFound {
			return err
		}
		usr = user.User{
			Username:  uname,
			CreatedAt: now,
		}
	}
	usr.Email = email
	if name = core.CleanString(name); name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = uname
	}
	if roles != nil {
		usr.Roles = roles
	}
	usr.UpdatedAt = now
	usr.SetActive(true)
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	saved, err := cli.usrRepo.UpdateOrCreateUser(ctx, usr)
	if err != nil {
		return err
	}
	cli.printf("user %q saved (id %s)\n", saved.Username, saved.ID)
	return nil
}
