package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettings_SetGet(t *testing.T) {
	s := &Settings{}

	if err := s.Set("lab", "/labs/ios.yaml"); err != nil {
		t.Fatalf("Set(lab): %v", err)
	}
	if got := s.Get("lab"); got != "/labs/ios.yaml" {
		t.Errorf("Get(lab) = %q", got)
	}

	if err := s.Set("tests", "tests/integration/targets"); err != nil {
		t.Fatalf("Set(tests): %v", err)
	}
	if !filepath.IsAbs(s.TestsPath) {
		t.Errorf("TestsPath should be absolute, got %q", s.TestsPath)
	}

	if err := s.Set("colour", "x"); err == nil {
		t.Error("Set with unknown key should fail")
	}
	if s.Get("colour") != "" {
		t.Error("Get with unknown key should be empty")
	}
}

func TestSettings_Clear(t *testing.T) {
	s := &Settings{LabFile: "a", TestsPath: "b", ConfigFile: "c", EnvFile: "d"}
	s.Clear()
	if *s != (Settings{}) {
		t.Errorf("Clear() left %+v", s)
	}
}

func TestSettings_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	original := &Settings{LabFile: "/labs/ios.yaml", EnvFile: "/ci/.env"}
	if err := original.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if *loaded != *original {
		t.Errorf("loaded %+v, want %+v", loaded, original)
	}
}

func TestSettings_LoadNonExistent(t *testing.T) {
	s, err := LoadFrom("/nonexistent/path/settings.json")
	if err != nil {
		t.Fatalf("LoadFrom() non-existent should not error: %v", err)
	}
	if s == nil || *s != (Settings{}) {
		t.Errorf("LoadFrom() non-existent = %+v, want empty", s)
	}
}

func TestSettings_LoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() should fail on invalid JSON")
	}
}

func TestDefaultSettingsPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	want := filepath.Join(home, ".cmltest", "settings.json")
	if got := DefaultSettingsPath(); got != want {
		t.Errorf("DefaultSettingsPath() = %q, want %q", got, want)
	}
}
