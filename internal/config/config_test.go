package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != model.Default() {
		t.Fatalf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), CoreFile, `{
		"name": "small",
		"population_size": 300,
		"hospital_capacity": 4,
		"distancing": false
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "small" || cfg.PopulationSize != 300 || cfg.HospitalCapacity != 4 || cfg.Distancing {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Width != model.Default().Width {
		t.Fatalf("Width = %g, want default %g", cfg.Width, model.Default().Width)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), CoreFile, `{"population_size": 300, "tests_per_tick": 5}`)
	t.Setenv("EPISIM_POPULATION_SIZE", "42")
	t.Setenv("EPISIM_DISTANCING", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PopulationSize != 42 {
		t.Fatalf("PopulationSize = %d, want env override 42", cfg.PopulationSize)
	}
	if cfg.TestsPerTick != 5 {
		t.Fatalf("TestsPerTick = %d, want file value 5", cfg.TestsPerTick)
	}
	if cfg.Distancing {
		t.Fatalf("Distancing = true, want env override false")
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing file: err = %v, want ErrNotFound", err)
	}

	bad := writeFile(t, dir, "bad.json", `{"population_size": "many"}`)
	if _, err := Load(bad); err == nil {
		t.Fatalf("malformed file: expected error")
	}

	invalid := writeFile(t, dir, "invalid.json", `{"width": -1}`)
	if _, err := Load(invalid); !errors.Is(err, model.ErrInvalidConfig) {
		t.Fatalf("invalid file: err = %v, want ErrInvalidConfig", err)
	}

	t.Setenv("EPISIM_HOSPITAL_CAPACITY", "lots")
	if _, err := Load(""); err == nil {
		t.Fatalf("bad env value: expected error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := model.Default()
	want.Name = "saved"
	want.Seed = 99

	path := filepath.Join(dir, "nested", CoreFile)
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := LoadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if got != want {
		t.Fatalf("LoadDir = %+v, want %+v", got, want)
	}
}
