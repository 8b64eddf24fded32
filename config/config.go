package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
	"gopkg.in/ini.v1"
)

const (
	configEnvVar   = "REVUP_CONFIG_PATH"
	configFileName = ".revupconfig"
	iniSection     = "revup"
)

var githubUsernameRe = regexp.MustCompile(`(?i)^[a-z\d](?:[a-z\d]|-(?:[a-z\d])){0,38}$`)

// Config layers a user-global INI file (~/.revupconfig, or REVUP_CONFIG_PATH)
// under a repo-local one, matching the original's two-file precedence:
// repo-local values win.
type Config struct {
	path     string
	repoPath string
	file     *ini.File
}

// Path returns the resolved global config file path, honoring
// REVUP_CONFIG_PATH.
func Path() string {
	if p := os.Getenv(configEnvVar); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return configFileName
	}
	return filepath.Join(home, configFileName)
}

// Load reads path (creating it interactively if missing, per the original's
// first-run prompt) layered under repoRoot's local config file. On
// non-Windows platforms it refuses to load a file whose permission bits are
// anything but 0600, since it may carry an OAuth token; the file's owner is
// not checked.
func Load(path, repoRoot string) (*Config, error) {
	if err := checkPermissions(path); err != nil {
		return nil, err
	}

	file := ini.Empty()
	if _, err := os.Stat(path); err == nil {
		if loaded, err := ini.Load(path); err == nil {
			file = loaded
		} else {
			return nil, errors.WithStack(err)
		}
	}

	section := file.Section(iniSection)
	wroteBack := false
	if !section.HasKey("github_username") {
		username, err := promptLine("GitHub username: ")
		if err != nil {
			return nil, err
		}
		if !githubUsernameRe.MatchString(username) {
			return nil, errors.Errorf("%q is not a valid GitHub username", username)
		}
		section.Key("github_username").SetValue(username)
		wroteBack = true
	}
	if !section.HasKey("github_oauth") {
		token, err := promptSecret(
			"GitHub OAuth token (make one at https://github.com/settings/tokens/new -- " +
				"we need full \"repo\" permissions): ",
		)
		if err != nil {
			return nil, err
		}
		section.Key("github_oauth").SetValue(strings.TrimSpace(token))
		wroteBack = true
	}

	if wroteBack {
		if err := writeSecure(file, path); err != nil {
			return nil, err
		}
	}

	repoPath := filepath.Join(repoRoot, configFileName)
	if _, err := os.Stat(repoPath); err == nil {
		if err := file.Append(repoPath); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return &Config{path: path, repoPath: repoPath, file: file}, nil
}

func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}
	if info.Mode().Perm() != 0o600 {
		return errors.Errorf("permissions too loose on config file!\nTry `chmod 0600 %s`", path)
	}
	return nil
}

func writeSecure(file *ini.File, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	_, err = file.WriteTo(f)
	return errors.WithStack(err)
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	var line string
	_, err := fmt.Scanln(&line)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return line, nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(b), nil
}

// String returns the effective string value for key, or def if unset in
// both layers.
func (c *Config) String(key, def string) string {
	return c.file.Section(iniSection).Key(iniKey(key)).MustString(def)
}

// Bool returns the effective bool value for key, or def if unset.
func (c *Config) Bool(key string, def bool) bool {
	return c.file.Section(iniSection).Key(iniKey(key)).MustBool(def)
}

func iniKey(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

// RepoPath returns the resolved repo-local config file path for repoRoot.
func RepoPath(repoRoot string) string {
	return filepath.Join(repoRoot, configFileName)
}

// GetKey reads a single key directly from path, without the other layer or
// the first-run prompt, for `revup config <flag>`.
func GetKey(path, key string) (string, bool) {
	file, err := ini.Load(path)
	if err != nil {
		return "", false
	}
	k := file.Section(iniSection).Key(iniKey(key))
	if k.String() == "" {
		return "", false
	}
	return k.String(), true
}

// SetKey writes a single key into path, creating the file with 0600
// permissions if necessary; the containing directory must already exist.
func SetKey(path, key, value string) error {
	file := ini.Empty()
	if _, err := os.Stat(path); err == nil {
		loaded, err := ini.Load(path)
		if err != nil {
			return errors.WithStack(err)
		}
		file = loaded
	}
	file.Section(iniSection).Key(iniKey(key)).SetValue(value)
	return writeSecure(file, path)
}

// DeleteKey removes a single key from path, leaving the rest of the file
// intact.
func DeleteKey(path, key string) error {
	file, err := ini.Load(path)
	if err != nil {
		return errors.WithStack(err)
	}
	file.Section(iniSection).DeleteKey(iniKey(key))
	return writeSecure(file, path)
}

// ApplyDefaults calls set for every spec not already set on the command
// line, the Go analog of set_defaults_from_config: config values
// become flag defaults, command-line flags still win.
func (c *Config) ApplyDefaults(specs []FlagSpec, isSet func(name string) bool, set func(name, value string)) {
	for _, spec := range specs {
		if isSet(spec.Name) {
			continue
		}
		if spec.IsBool {
			if v := c.file.Section(iniSection).Key(iniKey(spec.Name)); v.String() != "" {
				set(spec.Name, v.String())
			}
			continue
		}
		if v := c.file.Section(iniSection).Key(iniKey(spec.Name)); v.String() != "" {
			set(spec.Name, v.String())
		}
	}
}
