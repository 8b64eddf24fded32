package config

import (
	"path/filepath"
	"testing"

	"gopkg.in/ini.v1"
)

func TestSetGetDeleteKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".revupconfig")

	if _, ok := GetKey(path, "github-url"); ok {
		t.Fatal("GetKey on a missing file should report not-found")
	}

	if err := SetKey(path, "github-url", "example.com"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	got, ok := GetKey(path, "github-url")
	if !ok || got != "example.com" {
		t.Fatalf("GetKey after SetKey = (%q, %v), want (example.com, true)", got, ok)
	}

	// Setting a second key must not clobber the first.
	if err := SetKey(path, "remote-name", "upstream"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if got, ok := GetKey(path, "github-url"); !ok || got != "example.com" {
		t.Fatalf("github-url clobbered by a second SetKey: (%q, %v)", got, ok)
	}

	if err := DeleteKey(path, "github-url"); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if _, ok := GetKey(path, "github-url"); ok {
		t.Fatal("github-url should be gone after DeleteKey")
	}
	if got, ok := GetKey(path, "remote-name"); !ok || got != "upstream" {
		t.Fatalf("remote-name should survive deleting a different key: (%q, %v)", got, ok)
	}
}

func TestIniKeyConvertsDashesToUnderscores(t *testing.T) {
	if got := iniKey("base-branch-globs"); got != "base_branch_globs" {
		t.Errorf("iniKey = %q, want base_branch_globs", got)
	}
}

func TestApplyDefaultsSkipsAlreadySetFlags(t *testing.T) {
	file := ini.Empty()
	file.Section(iniSection).Key("main_branch").SetValue("develop")
	file.Section(iniSection).Key("verbose").SetValue("true")
	c := &Config{file: file}

	specs := []FlagSpec{
		{Name: "main-branch"},
		{Name: "github-url"},
		{Name: "verbose", IsBool: true},
	}

	set := map[string]string{}
	alreadySet := map[string]bool{"github-url": true}
	c.ApplyDefaults(specs, func(name string) bool { return alreadySet[name] }, func(name, value string) {
		set[name] = value
	})

	if set["main-branch"] != "develop" {
		t.Errorf("main-branch default = %q, want develop", set["main-branch"])
	}
	if set["verbose"] != "true" {
		t.Errorf("verbose default = %q, want true", set["verbose"])
	}
	if _, ok := set["github-url"]; ok {
		t.Error("github-url was already set on the command line and should not be overridden")
	}
}

func TestConfigStringAndBoolDefaults(t *testing.T) {
	file := ini.Empty()
	file.Section(iniSection).Key("main_branch").SetValue("develop")
	c := &Config{file: file}

	if got := c.String("main-branch", "main"); got != "develop" {
		t.Errorf("String(main-branch) = %q, want develop", got)
	}
	if got := c.String("github-url", "github.com"); got != "github.com" {
		t.Errorf("String(github-url) = %q, want the default github.com", got)
	}
	if got := c.Bool("verbose", false); got != false {
		t.Errorf("Bool(verbose) = %v, want default false", got)
	}
}
