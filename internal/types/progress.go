package types

import (
	"encoding/json"
	"strings"
)

// UpdateMarker prefixes structured updates that tools embed in the progress message field.
// It only exists on the wire; DecodeProgress turns it into a typed ProgressUpdate.
const UpdateMarker = "MCP_UPDATE:"

// ProgressUpdate is one of PlainProgress, CanvasUpdate, SystemMessage or ArtifactsUpdate
type ProgressUpdate interface {
	isProgressUpdate()
}

// PlainProgress is an ordinary progress tick
type PlainProgress struct {
	Progress float64
	Total    *float64
	Message  string
}

// Percentage returns progress as a percentage of total, or nil when total is unknown
func (p PlainProgress) Percentage() *float64 {
	if p.Total == nil || *p.Total <= 0 {
		return nil
	}
	pct := p.Progress / *p.Total * 100
	return &pct
}

// CanvasUpdate replaces the content displayed in the canvas
type CanvasUpdate struct {
	Content string
}

// SystemMessage is a user-visible side note
type SystemMessage struct {
	Message string
	Subtype string
}

// ArtifactsUpdate carries files to attach or display
type ArtifactsUpdate struct {
	Artifacts []Artifact
	Display   map[string]any
}

func (PlainProgress) isProgressUpdate()   {}
func (CanvasUpdate) isProgressUpdate()    {}
func (SystemMessage) isProgressUpdate()   {}
func (ArtifactsUpdate) isProgressUpdate() {}

type structuredUpdate struct {
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Message   string         `json:"message"`
	Subtype   string         `json:"subtype"`
	Artifacts []Artifact     `json:"artifacts"`
	Display   map[string]any `json:"display"`
}

// DecodeProgress decodes a raw progress tick. Messages without the marker, with
// malformed JSON after it, or with an unknown update type degrade to PlainProgress
// carrying the raw message.
func DecodeProgress(progress float64, total *float64, message string) ProgressUpdate {
	plain := PlainProgress{Progress: progress, Total: total, Message: message}

	payload, found := strings.CutPrefix(message, UpdateMarker)
	if !found {
		return plain
	}

	var su structuredUpdate
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &su); err != nil {
		return plain
	}

	switch su.Type {
	case "canvas_update":
		return CanvasUpdate{Content: su.Content}
	case "system_message":
		subtype := su.Subtype
		if subtype == "" {
			subtype = "info"
		}
		return SystemMessage{Message: su.Message, Subtype: subtype}
	case "artifacts":
		return ArtifactsUpdate{Artifacts: su.Artifacts, Display: su.Display}
	default:
		return plain
	}
}
