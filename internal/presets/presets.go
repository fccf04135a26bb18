/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package presets holds named broadcast-state presets: a scene switch
// plus a short sequence of side effects (audio, media, playlist).
package presets

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no preset with the requested name exists.
var ErrNotFound = errors.New("preset not found")

// Action is one side effect executed when a preset activates.
type Action struct {
	Type     string   `yaml:"type" json:"type"` // set_volume, set_mute, media_play, media_pause, media_restart
	Input    string   `yaml:"input" json:"input"`
	VolumeDB *float64 `yaml:"volume_db,omitempty" json:"volume_db,omitempty"`
	Muted    *bool    `yaml:"muted,omitempty" json:"muted,omitempty"`
}

// Preset binds a scene and side effects under one name.
type Preset struct {
	Name                 string   `yaml:"name" json:"name"`
	Scene                string   `yaml:"scene" json:"scene"`
	Description          string   `yaml:"description,omitempty" json:"description,omitempty"`
	Transition           string   `yaml:"transition,omitempty" json:"transition,omitempty"`
	TransitionDurationMS int      `yaml:"transition_duration_ms,omitempty" json:"transition_duration_ms,omitempty"`
	Playlist             string   `yaml:"playlist,omitempty" json:"playlist,omitempty"`
	Actions              []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// Defaults returns the built-in preset set.
func Defaults() []Preset {
	return []Preset{
		{Name: "live", Scene: "Live", Description: "Main live broadcast scene"},
		{
			Name:        "brb",
			Scene:       "BRB",
			Description: "Be Right Back screen",
			Actions: []Action{
				{Type: "set_mute", Input: "Mic", Muted: boolPtr(true)},
			},
		},
		{Name: "standby", Scene: "Standby", Description: "Holding / pre-show screen"},
		{
			Name:        "intermission",
			Scene:       "Intermission",
			Description: "Intermission loop with playlist",
			Playlist:    "intermission",
		},
		{Name: "end_card", Scene: "EndCard", Description: "Post-show slate"},
	}
}

// Registry indexes presets by name.
type Registry struct {
	presets map[string]Preset
}

// NewRegistry builds a registry from the defaults, optionally overridden
// and extended by a YAML file of the form:
//
//	presets:
//	  - name: brb
//	    scene: BRB Alternate
//	    actions:
//	      - type: set_mute
//	        input: Mic
//	        muted: true
func NewRegistry(file string) (*Registry, error) {
	r := &Registry{presets: make(map[string]Preset)}
	for _, p := range Defaults() {
		r.presets[p.Name] = p
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read preset file: %w", err)
		}
		var doc struct {
			Presets []Preset `yaml:"presets"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse preset file: %w", err)
		}
		for _, p := range doc.Presets {
			if p.Name == "" || p.Scene == "" {
				return nil, fmt.Errorf("preset entries need both name and scene")
			}
			r.presets[p.Name] = p
		}
	}
	return r, nil
}

// Get returns the named preset.
func (r *Registry) Get(name string) (Preset, error) {
	p, ok := r.presets[name]
	if !ok {
		return Preset{}, ErrNotFound
	}
	return p, nil
}

// List returns all presets sorted by name.
func (r *Registry) List() []Preset {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Preset, 0, len(names))
	for _, name := range names {
		out = append(out, r.presets[name])
	}
	return out
}
