// Package config provides persisted configuration for lingsync.
// It supports YAML configuration files, environment variable overrides,
// and sensible defaults. Run-time policies (conflict resolution, polysemy
// handling) are intentionally NOT stored here; see the options package.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigVersion is the current schema version of the config file.
const ConfigVersion = 1

// EnvConfigPath overrides the config file location when set.
const EnvConfigPath = "LINGSYNC_CONFIG"

// IdentityFields names the Anki fields that uniquely identify a LingQ
// card on a note. Once written, the PK field is the single source of
// truth for linking and is never silently overwritten.
type IdentityFields struct {
	PKField            string `yaml:"pk_field"`
	CanonicalTermField string `yaml:"canonical_term_field"`
}

// DefaultIdentityFields returns the conventional identity field names.
func DefaultIdentityFields() IdentityFields {
	return IdentityFields{
		PKField:            "LingQ_PK",
		CanonicalTermField: "LingQ_TermCanonical",
	}
}

// LingqToAnkiMapping describes how LingQ data is written into Anki.
type LingqToAnkiMapping struct {
	// NoteType is the Anki note type to create/update (e.g. "Basic").
	NoteType string `yaml:"note_type"`
	// DeckName is the optional Anki deck to create notes in.
	DeckName string `yaml:"deck_name,omitempty"`
	// FieldMapping maps LingQ field names to Anki field names.
	FieldMapping map[string]string `yaml:"field_mapping,omitempty"`
	// IdentityFields are the Anki fields used for identity tracking.
	IdentityFields IdentityFields `yaml:"identity_fields"`
}

// AnkiToLingqMapping describes how Anki data is read back into LingQ.
type AnkiToLingqMapping struct {
	// TermField is the Anki field containing the term.
	TermField string `yaml:"term_field"`
	// TranslationFields are the Anki fields containing translations.
	TranslationFields []string `yaml:"translation_fields,omitempty"`
	// PrimaryCardTemplate optionally names the card template whose
	// repetition data drives progress decisions.
	PrimaryCardTemplate string `yaml:"primary_card_template,omitempty"`
	// FragmentField optionally names the Anki field with example usage.
	FragmentField string `yaml:"fragment_field,omitempty"`
}

// Profile groups locale/language choices, the LingQ API token, and the
// bidirectional mappings for one sync pairing.
type Profile struct {
	Name          string `yaml:"name"`
	LingqLanguage string `yaml:"lingq_language"`
	MeaningLocale string `yaml:"meaning_locale"`
	// APIToken authenticates against the LingQ API. Never logged.
	APIToken               string             `yaml:"api_token,omitempty"`
	LingqToAnki            LingqToAnkiMapping `yaml:"lingq_to_anki"`
	AnkiToLingq            AnkiToLingqMapping `yaml:"anki_to_lingq"`
	EnableSchedulingWrites bool               `yaml:"enable_scheduling_writes"`
}

// Validate reports problems that make the profile unusable for a sync run.
func (p Profile) Validate() []string {
	var errs []string
	if p.Name == "" {
		errs = append(errs, "profile name is required")
	}
	if p.LingqLanguage == "" {
		errs = append(errs, "lingq_language is required")
	}
	if p.MeaningLocale == "" {
		errs = append(errs, "meaning_locale is required")
	}
	if p.LingqToAnki.IdentityFields.PKField == "" {
		errs = append(errs, "identity pk_field is required")
	}
	if p.LingqToAnki.IdentityFields.CanonicalTermField == "" {
		errs = append(errs, "identity canonical_term_field is required")
	}
	if p.AnkiToLingq.TermField == "" {
		errs = append(errs, "anki_to_lingq term_field is required")
	}
	if len(p.AnkiToLingq.TranslationFields) == 0 {
		errs = append(errs, "at least one translation field is required")
	}
	return errs
}

// Config is the top-level persisted configuration container.
type Config struct {
	ConfigVersion int       `yaml:"config_version"`
	Profiles      []Profile `yaml:"profiles"`
}

// Default returns an empty configuration at the current schema version.
func Default() *Config {
	return &Config{ConfigVersion: ConfigVersion}
}

// Profile returns the named profile, or an error listing the available
// names when absent.
func (c *Config) Profile(name string) (Profile, error) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, nil
		}
	}
	names := make([]string, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		names = append(names, p.Name)
	}
	return Profile{}, fmt.Errorf("profile %q not found (have %v)", name, names)
}

// DefaultPath returns the config file path, honoring EnvConfigPath.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".lingsync", "config.yaml"), nil
}

// Load reads configuration from the given path. A missing file yields the
// default configuration, not an error.
func Load(path string) (*Config, error) {
	// #nosec G304 - path comes from trusted configuration
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = ConfigVersion
	}
	return cfg, nil
}

// Save writes configuration to the given path, creating parent
// directories as needed. The file is user-only readable because profiles
// carry API tokens.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
