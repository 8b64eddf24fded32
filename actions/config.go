package actions

import (
	"fmt"

	"github.com/bitcomplete/revup/config"
	"github.com/bitcomplete/revup/deps"
	"github.com/bitcomplete/revup/errs"
	"github.com/urfave/cli/v2"
)

// allFlagSpecs is every flag name `revup config` is allowed to read or
// write, spanning every subcommand's schema plus the global one.
func allFlagSpecs() []config.FlagSpec {
	var all []config.FlagSpec
	all = append(all, config.GlobalFlags...)
	all = append(all, config.UploadFlags...)
	all = append(all, config.RestackFlags...)
	all = append(all, config.AmendFlags...)
	return all
}

func isKnownFlag(name string) bool {
	for _, spec := range allFlagSpecs() {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// Config reads or writes one key in the INI config file: repo-local with
// --repo, otherwise the user-global file. With no value argument it prints
// the key's current value; with --delete it removes the key instead.
func Config(c *cli.Context) error {
	d := deps.FromContext(c.Context)

	flag := c.Args().First()
	if flag == "" {
		return errs.Usagef("config requires a flag name")
	}
	if !isKnownFlag(flag) {
		return errs.Usagef("%q is not a recognized revup config key", flag)
	}

	path := config.Path()
	if c.Bool("repo") {
		path = config.RepoPath(d.RepoRoot)
	}

	if c.Bool("delete") {
		if err := config.DeleteKey(path, flag); err != nil {
			return err
		}
		fmt.Printf("deleted %s from %s\n", flag, path)
		return nil
	}

	if value := c.Args().Get(1); value != "" {
		if err := config.SetKey(path, flag, value); err != nil {
			return err
		}
		fmt.Printf("set %s = %s in %s\n", flag, value, path)
		return nil
	}

	value, ok := config.GetKey(path, flag)
	if !ok {
		fmt.Printf("%s is not set in %s\n", flag, path)
		return nil
	}
	fmt.Println(value)
	return nil
}
