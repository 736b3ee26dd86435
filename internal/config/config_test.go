package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleProfile() Profile {
	return Profile{
		Name:          "swedish",
		LingqLanguage: "sv",
		MeaningLocale: "en",
		APIToken:      "secret-token",
		LingqToAnki: LingqToAnkiMapping{
			NoteType:       "Basic",
			DeckName:       "Swedish",
			FieldMapping:   map[string]string{"term": "Front", "translation": "Back"},
			IdentityFields: DefaultIdentityFields(),
		},
		AnkiToLingq: AnkiToLingqMapping{
			TermField:         "Front",
			TranslationFields: []string{"Back"},
		},
		EnableSchedulingWrites: true,
	}
}

func TestLoad_MissingFileYieldsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ConfigVersion != ConfigVersion {
		t.Errorf("ConfigVersion = %d, want %d", cfg.ConfigVersion, ConfigVersion)
	}
	if len(cfg.Profiles) != 0 {
		t.Errorf("expected no profiles, got %d", len(cfg.Profiles))
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Profiles = append(cfg.Profiles, sampleProfile())

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600 (holds API tokens)", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	p, err := loaded.Profile("swedish")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if p.LingqLanguage != "sv" || p.MeaningLocale != "en" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.LingqToAnki.IdentityFields.PKField != "LingQ_PK" {
		t.Errorf("pk_field = %q", p.LingqToAnki.IdentityFields.PKField)
	}
	if !p.EnableSchedulingWrites {
		t.Error("EnableSchedulingWrites should survive the round trip")
	}
}

func TestConfig_Profile_NotFound(t *testing.T) {
	cfg := Default()
	cfg.Profiles = append(cfg.Profiles, sampleProfile())

	_, err := cfg.Profile("german")
	if err == nil {
		t.Fatal("expected error for unknown profile")
	}
	if !strings.Contains(err.Error(), "swedish") {
		t.Errorf("error should list available profiles, got: %v", err)
	}
}

func TestProfile_Validate(t *testing.T) {
	t.Run("complete profile passes", func(t *testing.T) {
		if errs := sampleProfile().Validate(); len(errs) != 0 {
			t.Errorf("expected no errors, got %v", errs)
		}
	})

	t.Run("empty profile reports every gap", func(t *testing.T) {
		errs := Profile{}.Validate()
		if len(errs) != 7 {
			t.Errorf("expected 7 errors, got %d: %v", len(errs), errs)
		}
	})

	t.Run("missing identity fields", func(t *testing.T) {
		p := sampleProfile()
		p.LingqToAnki.IdentityFields = IdentityFields{}
		errs := p.Validate()
		if len(errs) != 2 {
			t.Errorf("expected 2 errors, got %v", errs)
		}
	})
}

func TestDefaultPath_EnvOverride(t *testing.T) {
	t.Setenv(EnvConfigPath, "/tmp/custom.yaml")

	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath() error: %v", err)
	}
	if path != "/tmp/custom.yaml" {
		t.Errorf("path = %q, want env override", path)
	}
}
