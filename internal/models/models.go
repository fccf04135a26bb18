/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models holds the shared data types of the relay.
package models

import "time"

// Track is a single playlist entry. Duration is in seconds; a negative
// value means the duration is unknown. TrimIn/TrimOut, when set, restrict
// playback to a sub-range of the underlying file (TrimOut > TrimIn).
type Track struct {
	Path     string          `json:"path"`
	Title    string          `json:"title"`
	Duration float64         `json:"duration"`
	TrimIn   *float64        `json:"trim_in,omitempty"`
	TrimOut  *float64        `json:"trim_out,omitempty"`
	Overlay  *OverlayOptions `json:"overlay,omitempty"`
}

// OverlayOptions carries per-track title overlay overrides from
// #EXTOVERLAY playlist directives. Nil fields fall back to the global
// overlay configuration.
type OverlayOptions struct {
	Text  string   `json:"text,omitempty"`
	Hold  *float64 `json:"hold,omitempty"`
	Delay *float64 `json:"delay,omitempty"`
	Skip  bool     `json:"skip,omitempty"`
}

// Playlist is an ordered, immutable sequence of tracks loaded at startup.
type Playlist struct {
	Name       string  `json:"name"`
	Tracks     []Track `json:"tracks"`
	Loop       bool    `json:"loop"`
	SourceFile string  `json:"source_file,omitempty"`
}

// Len returns the number of tracks.
func (p *Playlist) Len() int { return len(p.Tracks) }

// PlaylistStateRecord is the single durable snapshot of playlist position.
// Exactly one row exists; every commit overwrites it.
type PlaylistStateRecord struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	ActivePlaylist *string   `json:"active_playlist"`
	Position       int       `json:"position"`
	AutoAdvance    bool      `json:"auto_advance"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName overrides the gorm table name.
func (PlaylistStateRecord) TableName() string { return "playlist_state" }

// PlaylistStateRecordID is the fixed primary key of the single snapshot row.
const PlaylistStateRecordID uint = 1

// Status is the full relay snapshot returned by get_status. It is always
// produced on demand and never queued behind broadcast events.
type Status struct {
	SessionState   string  `json:"session_state"`
	Healthy        bool    `json:"healthy"`
	ActivePlaylist *string `json:"active_playlist"`
	Position       int     `json:"position"`
	TrackTitle     string  `json:"track_title,omitempty"`
	TrackCount     int     `json:"track_count"`
	AutoAdvance    bool    `json:"auto_advance"`
	CurrentScene   string  `json:"current_scene,omitempty"`
	Streaming      bool    `json:"streaming"`
	Recording      bool    `json:"recording"`
}
