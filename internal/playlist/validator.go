/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"os"
	"sort"

	"github.com/schwwaaa/obs-relay/internal/models"
)

// ValidationReport maps playlist name to the track paths missing from
// storage. An empty slice means the playlist is fully valid. Remote URLs
// cannot be checked and are treated as present.
type ValidationReport map[string][]string

// Valid reports whether no playlist has missing tracks.
func (r ValidationReport) Valid() bool {
	for _, missing := range r {
		if len(missing) > 0 {
			return false
		}
	}
	return true
}

// Validate checks a single playlist and returns its missing track paths.
func Validate(pl *models.Playlist) []string {
	missing := []string{}
	for _, track := range pl.Tracks {
		if isURL(track.Path) {
			continue
		}
		if _, err := os.Stat(track.Path); err != nil {
			missing = append(missing, track.Path)
		}
	}
	return missing
}

// ValidateAll runs preflight validation across all loaded playlists.
// Read-only, mutates nothing.
func ValidateAll(playlists map[string]*models.Playlist) ValidationReport {
	report := make(ValidationReport, len(playlists))
	names := make([]string, 0, len(playlists))
	for name := range playlists {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		report[name] = Validate(playlists[name])
	}
	return report
}
