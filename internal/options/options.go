// Package options defines the per-run policies that control sync behavior.
// These are intentionally separate from persisted config profiles: every
// axis starts at UNSET and must be explicitly chosen before a run is
// allowed to take policy-dependent branches.
package options

// AmbiguousMatchPolicy governs what happens when a term matches more than
// one candidate on the other side.
type AmbiguousMatchPolicy string

const (
	AmbiguousUnset               AmbiguousMatchPolicy = "UNSET"
	AmbiguousAsk                 AmbiguousMatchPolicy = "ASK"
	AmbiguousSkip                AmbiguousMatchPolicy = "SKIP"
	AmbiguousConservativeSkip    AmbiguousMatchPolicy = "CONSERVATIVE_SKIP"
	AmbiguousAggressiveLinkFirst AmbiguousMatchPolicy = "AGGRESSIVE_LINK_FIRST"
)

// IsValid returns true if the policy is a recognized value (including UNSET).
func (p AmbiguousMatchPolicy) IsValid() bool {
	switch p {
	case AmbiguousUnset, AmbiguousAsk, AmbiguousSkip, AmbiguousConservativeSkip, AmbiguousAggressiveLinkFirst:
		return true
	default:
		return false
	}
}

// IsSet returns true if the policy is valid and not UNSET.
func (p AmbiguousMatchPolicy) IsSet() bool {
	return p.IsValid() && p != AmbiguousUnset
}

// TranslationAggregationPolicy governs how to pick one translation when an
// Anki field contains multiple newline-delimited candidates. MIN/MAX select
// by normalized-lexicographic order over the deduplicated sorted candidate
// list; AVG selects the middle element of that list (a median by text).
type TranslationAggregationPolicy string

const (
	AggregationUnset TranslationAggregationPolicy = "UNSET"
	AggregationAsk   TranslationAggregationPolicy = "ASK"
	AggregationSkip  TranslationAggregationPolicy = "SKIP"
	AggregationMin   TranslationAggregationPolicy = "MIN"
	AggregationMax   TranslationAggregationPolicy = "MAX"
	AggregationAvg   TranslationAggregationPolicy = "AVG"
)

// IsValid returns true if the policy is a recognized value (including UNSET).
func (p TranslationAggregationPolicy) IsValid() bool {
	switch p {
	case AggregationUnset, AggregationAsk, AggregationSkip, AggregationMin, AggregationMax, AggregationAvg:
		return true
	default:
		return false
	}
}

// IsSet returns true if the policy is valid and not UNSET.
func (p TranslationAggregationPolicy) IsSet() bool {
	return p.IsValid() && p != AggregationUnset
}

// SchedulingWritePolicy overrides or defers to the per-profile
// scheduling-write toggle.
type SchedulingWritePolicy string

const (
	SchedulingUnset          SchedulingWritePolicy = "UNSET"
	SchedulingInheritProfile SchedulingWritePolicy = "INHERIT_PROFILE"
	SchedulingForceOn        SchedulingWritePolicy = "FORCE_ON"
	SchedulingForceOff       SchedulingWritePolicy = "FORCE_OFF"
)

// IsValid returns true if the policy is a recognized value (including UNSET).
func (p SchedulingWritePolicy) IsValid() bool {
	switch p {
	case SchedulingUnset, SchedulingInheritProfile, SchedulingForceOn, SchedulingForceOff:
		return true
	default:
		return false
	}
}

// IsSet returns true if the policy is valid and not UNSET.
func (p SchedulingWritePolicy) IsSet() bool {
	return p.IsValid() && p != SchedulingUnset
}

// Enabled resolves the effective scheduling-write toggle for a run given
// the profile's persisted setting.
func (p SchedulingWritePolicy) Enabled(profileDefault bool) bool {
	switch p {
	case SchedulingForceOn:
		return true
	case SchedulingForceOff:
		return false
	default:
		return profileDefault
	}
}

// ProgressAuthority optionally forces the direction of progress sync when
// the Anki side has been reviewed, short-circuiting the automatic
// first-evidence rules.
type ProgressAuthority string

const (
	AuthorityAutomatic   ProgressAuthority = "AUTOMATIC"
	AuthorityPreferAnki  ProgressAuthority = "PREFER_ANKI"
	AuthorityPreferLingq ProgressAuthority = "PREFER_LINGQ"
)

// IsValid returns true if the authority is a recognized value.
func (a ProgressAuthority) IsValid() bool {
	switch a {
	case AuthorityAutomatic, AuthorityPreferAnki, AuthorityPreferLingq:
		return true
	default:
		return false
	}
}

// RunOptions bundles the per-run policy axes.
type RunOptions struct {
	AmbiguousMatch         AmbiguousMatchPolicy         `json:"ambiguous_match_policy" toml:"ambiguous_match_policy"`
	TranslationAggregation TranslationAggregationPolicy `json:"translation_aggregation_policy" toml:"translation_aggregation_policy"`
	SchedulingWrite        SchedulingWritePolicy        `json:"scheduling_write_policy" toml:"scheduling_write_policy"`
	ProgressAuthority      ProgressAuthority            `json:"progress_authority_policy,omitempty" toml:"progress_authority_policy"`
}

// Default returns run options with every axis UNSET and automatic progress
// authority. UNSET axes fail validation; the zero state forces an explicit
// choice before destructive operations run.
func Default() RunOptions {
	return RunOptions{
		AmbiguousMatch:         AmbiguousUnset,
		TranslationAggregation: AggregationUnset,
		SchedulingWrite:        SchedulingUnset,
		ProgressAuthority:      AuthorityAutomatic,
	}
}

// Validate returns one message per unset or unrecognized axis. An empty
// result means the options are complete.
func (o RunOptions) Validate() []string {
	var errs []string
	if !o.AmbiguousMatch.IsSet() {
		errs = append(errs, "ambiguous match policy must be selected (ASK/SKIP/CONSERVATIVE_SKIP/AGGRESSIVE_LINK_FIRST)")
	}
	if !o.TranslationAggregation.IsSet() {
		errs = append(errs, "translation aggregation policy must be selected (ASK/SKIP/MIN/MAX/AVG)")
	}
	if !o.SchedulingWrite.IsSet() {
		errs = append(errs, "scheduling write policy must be one of INHERIT_PROFILE/FORCE_ON/FORCE_OFF")
	}
	if o.ProgressAuthority != "" && !o.ProgressAuthority.IsValid() {
		errs = append(errs, "progress authority must be one of AUTOMATIC/PREFER_ANKI/PREFER_LINGQ")
	}
	return errs
}
