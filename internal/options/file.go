package options

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// SchemaVersion identifies the serialized run-options format.
const SchemaVersion = 1

// fileSchema is the on-disk TOML shape. Enum values serialize as their
// string forms; unknown strings parse back to the UNSET sentinel rather
// than failing, so stale files degrade to "choose again".
type fileSchema struct {
	SchemaVersion          int    `toml:"schema_version"`
	AmbiguousMatch         string `toml:"ambiguous_match_policy"`
	TranslationAggregation string `toml:"translation_aggregation_policy"`
	SchedulingWrite        string `toml:"scheduling_write_policy"`
	ProgressAuthority      string `toml:"progress_authority_policy"`
}

// LoadFile reads run options from a TOML file.
func LoadFile(path string) (RunOptions, error) {
	var raw fileSchema
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return Default(), fmt.Errorf("failed to read run options: %w", err)
	}
	return fromSchema(raw), nil
}

// SaveFile writes run options to a TOML file.
func SaveFile(path string, opts RunOptions) error {
	raw := fileSchema{
		SchemaVersion:          SchemaVersion,
		AmbiguousMatch:         string(opts.AmbiguousMatch),
		TranslationAggregation: string(opts.TranslationAggregation),
		SchedulingWrite:        string(opts.SchedulingWrite),
		ProgressAuthority:      string(opts.ProgressAuthority),
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return fmt.Errorf("failed to encode run options: %w", err)
	}
	// #nosec G306 - run options contain no secrets
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write run options: %w", err)
	}
	return nil
}

func fromSchema(raw fileSchema) RunOptions {
	opts := RunOptions{
		AmbiguousMatch:         AmbiguousMatchPolicy(raw.AmbiguousMatch),
		TranslationAggregation: TranslationAggregationPolicy(raw.TranslationAggregation),
		SchedulingWrite:        SchedulingWritePolicy(raw.SchedulingWrite),
		ProgressAuthority:      ProgressAuthority(raw.ProgressAuthority),
	}
	if !opts.AmbiguousMatch.IsValid() {
		opts.AmbiguousMatch = AmbiguousUnset
	}
	if !opts.TranslationAggregation.IsValid() {
		opts.TranslationAggregation = AggregationUnset
	}
	if !opts.SchedulingWrite.IsValid() {
		opts.SchedulingWrite = SchedulingUnset
	}
	if !opts.ProgressAuthority.IsValid() {
		opts.ProgressAuthority = AuthorityAutomatic
	}
	return opts
}
