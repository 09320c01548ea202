package featureflag

import (
	"slices"
	"strings"
)

// FeatureFlag is a lookup map of the engine toggles that are set.
type FeatureFlag map[Flag]struct{}

// New returns the feature flags set by the given names. Names are trimmed and
// upper cased, and empty names are ignored.
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag)
	for _, f := range flags {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		featureFlag[Flag(f)] = struct{}{}
	}
	return featureFlag
}

// IsSet reports whether the flag is set.
func (f FeatureFlag) IsSet(flag Flag) bool {
	_, ok := f[flag]
	return ok
}

// IfSet runs function `do` if flag is set in the feature flags.
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if f.IsSet(flag) {
		do()
	}
}

// IfNotSet runs function `do` if flag is not set in the feature flags.
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if !f.IsSet(flag) {
		do()
	}
}

// Flags returns the set flags, sorted.
func (f FeatureFlag) Flags() []string {
	flags := make([]string, 0, len(f))
	for flag := range f {
		flags = append(flags, string(flag))
	}
	slices.Sort(flags)
	return flags
}

// Unknown returns the set flags that no engine component reads, sorted.
func (f FeatureFlag) Unknown() []string {
	var unknown []string
	for _, flag := range f.Flags() {
		if !slices.Contains(Known, Flag(flag)) {
			unknown = append(unknown, flag)
		}
	}
	return unknown
}
