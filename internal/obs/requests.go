/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package obs

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/schwwaaa/obs-relay/internal/models"
)

// Media actions accepted by TriggerMediaInputAction.
const (
	MediaActionPlay    = "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_PLAY"
	MediaActionPause   = "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_PAUSE"
	MediaActionRestart = "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_RESTART"
	MediaActionStop    = "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_STOP"
)

// Scenes returns the scene names and the current program scene.
func (s *Supervisor) Scenes(ctx context.Context) ([]string, string, error) {
	raw, err := s.Send(ctx, "GetSceneList", nil)
	if err != nil {
		return nil, "", err
	}
	var resp struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
		Scenes                  []struct {
			SceneName string `json:"sceneName"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, "", err
	}
	names := make([]string, 0, len(resp.Scenes))
	// GetSceneList returns scenes in reverse display order.
	for i := len(resp.Scenes) - 1; i >= 0; i-- {
		names = append(names, resp.Scenes[i].SceneName)
	}
	return names, resp.CurrentProgramSceneName, nil
}

// SwitchScene sets the current program scene.
func (s *Supervisor) SwitchScene(ctx context.Context, name string) error {
	_, err := s.Send(ctx, "SetCurrentProgramScene", map[string]any{"sceneName": name})
	return err
}

// SetTransition selects the current scene transition and its duration.
func (s *Supervisor) SetTransition(ctx context.Context, name string, durationMS int) error {
	if name != "" {
		if _, err := s.Send(ctx, "SetCurrentSceneTransition", map[string]any{"transitionName": name}); err != nil {
			return err
		}
	}
	if durationMS > 0 {
		if _, err := s.Send(ctx, "SetCurrentSceneTransitionDuration", map[string]any{"transitionDuration": durationMS}); err != nil {
			return err
		}
	}
	return nil
}

// LoadTrack points the managed media source at a track and restarts
// playback. Remote URLs are configured as network inputs.
func (s *Supervisor) LoadTrack(ctx context.Context, track models.Track) error {
	settings := map[string]any{}
	if strings.Contains(track.Path, "://") {
		settings["input"] = track.Path
		settings["is_local_file"] = false
	} else {
		settings["local_file"] = track.Path
		settings["is_local_file"] = true
		settings["looping"] = false
	}
	_, err := s.Send(ctx, "SetInputSettings", map[string]any{
		"inputName":     s.opts.MediaSource,
		"inputSettings": settings,
		"overlay":       true,
	})
	if err != nil {
		return err
	}
	return s.MediaAction(ctx, s.opts.MediaSource, MediaActionRestart)
}

// MediaAction triggers a playback action on a media input.
func (s *Supervisor) MediaAction(ctx context.Context, input, action string) error {
	_, err := s.Send(ctx, "TriggerMediaInputAction", map[string]any{
		"inputName":   input,
		"mediaAction": action,
	})
	return err
}

// StartStream starts the streaming output.
func (s *Supervisor) StartStream(ctx context.Context) error {
	_, err := s.Send(ctx, "StartStream", nil)
	return err
}

// StopStream stops the streaming output.
func (s *Supervisor) StopStream(ctx context.Context) error {
	_, err := s.Send(ctx, "StopStream", nil)
	return err
}

// StreamActive reports whether the streaming output is running.
func (s *Supervisor) StreamActive(ctx context.Context) (bool, error) {
	raw, err := s.Send(ctx, "GetStreamStatus", nil)
	if err != nil {
		return false, err
	}
	var resp struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, err
	}
	return resp.OutputActive, nil
}

// StartRecord starts the recording output.
func (s *Supervisor) StartRecord(ctx context.Context) error {
	_, err := s.Send(ctx, "StartRecord", nil)
	return err
}

// StopRecord stops the recording output.
func (s *Supervisor) StopRecord(ctx context.Context) error {
	_, err := s.Send(ctx, "StopRecord", nil)
	return err
}

// PauseRecord pauses the recording output.
func (s *Supervisor) PauseRecord(ctx context.Context) error {
	_, err := s.Send(ctx, "PauseRecord", nil)
	return err
}

// ResumeRecord resumes a paused recording output.
func (s *Supervisor) ResumeRecord(ctx context.Context) error {
	_, err := s.Send(ctx, "ResumeRecord", nil)
	return err
}

// RecordActive reports whether the recording output is running.
func (s *Supervisor) RecordActive(ctx context.Context) (bool, error) {
	raw, err := s.Send(ctx, "GetRecordStatus", nil)
	if err != nil {
		return false, err
	}
	var resp struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, err
	}
	return resp.OutputActive, nil
}

// SetInputVolume sets an input's volume in dB.
func (s *Supervisor) SetInputVolume(ctx context.Context, input string, volumeDB float64) error {
	_, err := s.Send(ctx, "SetInputVolume", map[string]any{
		"inputName":     input,
		"inputVolumeDb": volumeDB,
	})
	return err
}

// SetInputMute mutes or unmutes an input.
func (s *Supervisor) SetInputMute(ctx context.Context, input string, muted bool) error {
	_, err := s.Send(ctx, "SetInputMute", map[string]any{
		"inputName":  input,
		"inputMuted": muted,
	})
	return err
}

// SetTextSourceText updates the content of a text source.
func (s *Supervisor) SetTextSourceText(ctx context.Context, source, text string) error {
	_, err := s.Send(ctx, "SetInputSettings", map[string]any{
		"inputName":     source,
		"inputSettings": map[string]any{"text": text},
		"overlay":       true,
	})
	return err
}

// SetSceneItemEnabled shows or hides a source within a scene. The
// protocol addresses scene items by numeric id, so the source name is
// resolved first.
func (s *Supervisor) SetSceneItemEnabled(ctx context.Context, scene, source string, enabled bool) error {
	raw, err := s.Send(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  scene,
		"sourceName": source,
	})
	if err != nil {
		return err
	}
	var resp struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}
	_, err = s.Send(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        scene,
		"sceneItemId":      resp.SceneItemID,
		"sceneItemEnabled": enabled,
	})
	return err
}

// CurrentScene returns the current program scene name.
func (s *Supervisor) CurrentScene(ctx context.Context) (string, error) {
	_, current, err := s.Scenes(ctx)
	return current, err
}

// Version returns the upstream OBS version string.
func (s *Supervisor) Version(ctx context.Context) (string, error) {
	raw, err := s.Send(ctx, "GetVersion", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		OBSVersion string `json:"obsVersion"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	return resp.OBSVersion, nil
}
