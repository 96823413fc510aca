// Package profile holds the named hardware constant sets. Exactly one is
// selected at build time; the bench set is the default, `-tags
// profile_field` selects the field set.
package profile

import "sleepcore-go/types"

// Profile is one deployment's constant set.
type Profile struct {
	Name   string
	Power  types.PowerConfig
	Signal types.SignalConfig
}

// Selected returns the build-selected profile.
func Selected() Profile { return selected }
