package transcript

import (
	"fmt"
	"strings"

	"github.com/mrsingh-rishi/voice-transcript/types"
)

// SpeakerRegistry hands out "Speaker N" labels in order of first appearance.
// A registry belongs to a single session and is not safe for concurrent use.
type SpeakerRegistry struct {
	labels map[string]string
	order  []string
}

func NewSpeakerRegistry() *SpeakerRegistry {
	return &SpeakerRegistry{labels: make(map[string]string)}
}

// LabelFor returns the label for speakerID, allocating the next one the first
// time an id is seen. Empty ids map to types.UnknownSpeaker.
func (r *SpeakerRegistry) LabelFor(speakerID string) string {
	id := strings.TrimSpace(speakerID)
	if id == "" {
		id = types.UnknownSpeaker
	}
	if label, ok := r.labels[id]; ok {
		return label
	}
	label := fmt.Sprintf("Speaker %d", len(r.order)+1)
	r.labels[id] = label
	r.order = append(r.order, id)
	return label
}

// Count is the number of distinct speaker ids seen so far.
func (r *SpeakerRegistry) Count() int {
	return len(r.order)
}

// Speakers returns the speaker ids in the order their labels were assigned.
func (r *SpeakerRegistry) Speakers() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
