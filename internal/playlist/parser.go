/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist loads extended M3U playlist definitions.
package playlist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schwwaaa/obs-relay/internal/models"
)

// isURL reports whether path refers to a remote resource rather than a file.
func isURL(path string) bool {
	for _, scheme := range []string{"http://", "https://", "rtmp://", "rtsp://"} {
		if strings.HasPrefix(path, scheme) {
			return true
		}
	}
	return false
}

// Parse reads an extended M3U file into a playlist. Supported directives:
//
//	#EXTINF:<duration>,<title>      duration in seconds, -1 = unknown
//	#EXTVLCOPT:start-time=<sec>     trim-in for the following entry
//	#EXTVLCOPT:stop-time=<sec>      trim-out for the following entry
//	#EXTOVERLAY:text=<text>         custom title overlay text
//	#EXTOVERLAY:hold=<sec>          overlay hold override
//	#EXTOVERLAY:delay=<sec>         overlay delay override
//	#EXTOVERLAY:skip=1              suppress the overlay for this entry
//
// Other comment lines are ignored. Relative file paths are resolved against
// the playlist file's directory.
func Parse(path string, loop bool) (*models.Playlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open playlist: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pl := &models.Playlist{
		Name:       name,
		Loop:       loop,
		SourceFile: path,
	}
	baseDir := filepath.Dir(path)

	var (
		pendingTitle    string
		pendingDuration = -1.0
		pendingTrimIn   *float64
		pendingTrimOut  *float64
		pendingOverlay  *models.OverlayOptions
	)
	reset := func() {
		pendingTitle = ""
		pendingDuration = -1
		pendingTrimIn = nil
		pendingTrimOut = nil
		pendingOverlay = nil
	}
	overlay := func() *models.OverlayOptions {
		if pendingOverlay == nil {
			pendingOverlay = &models.OverlayOptions{}
		}
		return pendingOverlay
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "#EXTM3U" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			rest := strings.TrimPrefix(line, "#EXTINF:")
			durStr := rest
			if idx := strings.Index(rest, ","); idx >= 0 {
				durStr = rest[:idx]
				pendingTitle = strings.TrimSpace(rest[idx+1:])
			}
			if dur, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64); err == nil {
				pendingDuration = dur
			}

		case strings.HasPrefix(line, "#EXTVLCOPT:start-time="):
			if v, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXTVLCOPT:start-time="), 64); err == nil {
				pendingTrimIn = &v
			}

		case strings.HasPrefix(line, "#EXTVLCOPT:stop-time="):
			if v, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXTVLCOPT:stop-time="), 64); err == nil {
				pendingTrimOut = &v
			}

		case strings.HasPrefix(line, "#EXTOVERLAY:"):
			rest := strings.TrimPrefix(line, "#EXTOVERLAY:")
			key, value, found := strings.Cut(rest, "=")
			if !found {
				break
			}
			key = strings.TrimSpace(strings.ToLower(key))
			value = strings.TrimSpace(value)
			switch key {
			case "text":
				overlay().Text = value
			case "hold":
				if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
					overlay().Hold = &v
				}
			case "delay":
				if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 {
					overlay().Delay = &v
				}
			case "skip":
				lower := strings.ToLower(value)
				overlay().Skip = lower != "0" && lower != "false" && lower != "no" && lower != ""
			}

		case strings.HasPrefix(line, "#"):
			// Unknown directive, skip.

		default:
			trackPath := line
			if !isURL(trackPath) && !filepath.IsAbs(trackPath) {
				abs, err := filepath.Abs(filepath.Join(baseDir, trackPath))
				if err == nil {
					trackPath = abs
				}
			}
			title := pendingTitle
			if title == "" {
				if isURL(trackPath) {
					title = trackPath
				} else {
					title = strings.TrimSuffix(filepath.Base(trackPath), filepath.Ext(trackPath))
				}
			}
			pl.Tracks = append(pl.Tracks, models.Track{
				Path:     trackPath,
				Title:    title,
				Duration: pendingDuration,
				TrimIn:   pendingTrimIn,
				TrimOut:  pendingTrimOut,
				Overlay:  pendingOverlay,
			})
			reset()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}

	return pl, nil
}

// LoadDir parses every .m3u/.m3u8 file in dir, keyed by playlist name.
func LoadDir(dir string, loopDefault bool) (map[string]*models.Playlist, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read playlist dir: %w", err)
	}

	playlists := make(map[string]*models.Playlist)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".m3u" && ext != ".m3u8" {
			continue
		}
		pl, err := Parse(filepath.Join(dir, entry.Name()), loopDefault)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		playlists[pl.Name] = pl
	}
	return playlists, nil
}
