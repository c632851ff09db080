package a2a

import "time"

/*
Artifact is the output of a task.  The ID and the first Timestamp are
assigned by the engine when the artifact is created; Timestamp is refreshed
on each streamed append.

Append and LastChunk are transport-only streaming hints.  A stored artifact
never carries them; they are set on the event clone sent to subscribers.
*/
type Artifact struct {
	ID          string         `json:"id,omitempty"`
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Index       int            `json:"index"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
	Append      *bool          `json:"append,omitempty"`
	LastChunk   *bool          `json:"lastChunk,omitempty"`
}

func NewTextArtifact(name string, texts ...string) Artifact {
	parts := make([]Part, 0, len(texts))

	for _, text := range texts {
		parts = append(parts, NewTextPart(text))
	}

	return Artifact{
		Name:  &name,
		Parts: parts,
	}
}

func NewFileArtifact(name string, mimeType string, data string) Artifact {
	return Artifact{
		Name: &name,
		Parts: []Part{
			{
				Type: PartTypeFile,
				File: &FilePart{
					MimeType: &mimeType,
					Data:     data,
				},
			},
		},
	}
}
