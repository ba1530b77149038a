package main

import (
	"bytes"
	"context"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/placement"
	"github.com/trezcool/lingua/core/user"
)

// publishTest reads a placement.NewTest from a YAML file and publishes it as the new active version.
func (cli *commandLine) publishTest(file, uname string) error {
	ctx := context.Background()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
	if err != nil {
		return err
	}
	p := usr.Principal()
	if !p.IsAdmin() {
		return errors.Errorf("%s is not an admin", usr.Username)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "reading test file")
	}
	var nt placement.NewTest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&nt); err != nil {
		return errors.Wrapf(err, "parsing %s", file)
	}

	t, err := cli.placementSvc.Publish(ctx, p, nt)
	if err != nil {
		return err
	}
	cli.printf("placement test %q published as version %d (id %s)\n", t.Title, t.Version, t.ID)
	return nil
}
