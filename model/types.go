package model

import "time"

// AudioChunk represents a chunk of audio data.
type AudioChunk []byte

// TranscriptRecord describes a transcript written to disk.
type TranscriptRecord struct {
	ID        string
	Name      string
	Path      string
	Style     string
	Segments  int
	Speakers  int
	CreatedAt time.Time
}
