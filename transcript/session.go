package transcript

import (
	"strings"

	"github.com/mrsingh-rishi/voice-transcript/types"
)

// DefaultPauseThreshold is 2 seconds of silence.
const DefaultPauseThreshold = 2 * types.TicksPerSecond

// Segment is one contiguous turn of the transcript, possibly merged from
// several utterances.
type Segment struct {
	Index     int
	SpeakerID string
	Label     string
	Text      string
	Start     types.Ticks
	End       types.Ticks
}

// Session holds the mutable state of one transcription request.
type Session struct {
	registry       *SpeakerRegistry
	segments       []Segment
	pauseThreshold types.Ticks

	started     bool
	lastSpeaker string
	lastEnd     types.Ticks
	lastText    string
	counter     int
}

// NewSession starts empty session state. A non-positive threshold falls back
// to DefaultPauseThreshold.
func NewSession(pauseThreshold types.Ticks) *Session {
	if pauseThreshold <= 0 {
		pauseThreshold = DefaultPauseThreshold
	}
	return &Session{
		registry:       NewSpeakerRegistry(),
		pauseThreshold: pauseThreshold,
	}
}

// Accept applies the segmentation policy to one utterance. It reports whether
// a new segment was opened. Empty and malformed utterances are rejected
// without touching session state.
func (s *Session) Accept(u types.UtteranceEvent) (bool, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return false, ErrEmptyUtterance
	}
	if !u.Timed() {
		return false, ErrMalformedEvent
	}

	speaker := u.Speaker()
	label := s.registry.LabelFor(speaker)
	boundary := s.boundary(speaker, u.Offset)

	s.started = true
	s.lastSpeaker = speaker
	s.lastEnd = u.End()
	s.lastText = text

	if !boundary && len(s.segments) > 0 {
		last := &s.segments[len(s.segments)-1]
		if last.SpeakerID == speaker {
			last.Text += " " + text
			if end := u.End(); end > last.End {
				last.End = end
			}
			return false, nil
		}
	}

	s.counter++
	s.segments = append(s.segments, Segment{
		Index:     s.counter,
		SpeakerID: speaker,
		Label:     label,
		Text:      text,
		Start:     u.Offset,
		End:       u.End(),
	})
	return true, nil
}

func (s *Session) boundary(speaker string, offset types.Ticks) bool {
	if !s.started {
		return true
	}
	if speaker != s.lastSpeaker {
		return true
	}
	if offset-s.lastEnd > s.pauseThreshold {
		return true
	}
	return endsSentence(s.lastText)
}

func endsSentence(text string) bool {
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}

// Segments returns a copy of the segments accumulated so far.
func (s *Session) Segments() []Segment {
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// SpeakerCount is the number of distinct speakers seen so far.
func (s *Session) SpeakerCount() int {
	return s.registry.Count()
}

// Registry exposes the session's speaker registry.
func (s *Session) Registry() *SpeakerRegistry {
	return s.registry
}

// Transcript renders every segment in style and joins them. Speaker labels and
// the header follow the final distinct speaker count.
func (s *Session) Transcript(style Style) (string, error) {
	if !style.Valid() {
		return "", ErrUnknownStyle
	}
	if len(s.segments) == 0 {
		return "", ErrNoSpeechRecognized
	}

	multi := s.registry.Count() > 1
	blocks := make([]string, 0, len(s.segments)+1)
	if style.HasHeader() {
		blocks = append(blocks, Header(multi))
	}
	for _, seg := range s.segments {
		blocks = append(blocks, Render(seg, style, multi))
	}
	return strings.Join(blocks, "\n"), nil
}
