package transcript

import (
	"fmt"
	"strings"

	"github.com/mrsingh-rishi/voice-transcript/types"
)

// Style selects how segments are rendered.
type Style string

const (
	StyleVerbatim   Style = "verbatim"
	StyleClean      Style = "clean"
	StyleSubtitles  Style = "subtitles"
	StyleTimestamps Style = "timestamps"
)

const (
	singleSpeakerHeader   = "Single Speaker Transcription:"
	multipleSpeakerHeader = "Multiple Speakers Transcription:"
)

// ParseStyle accepts a style name case-insensitively. An empty name means
// verbatim.
func ParseStyle(name string) (Style, error) {
	s := Style(strings.ToLower(strings.TrimSpace(name)))
	if s == "" {
		return StyleVerbatim, nil
	}
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStyle, name)
	}
	return s, nil
}

func (s Style) Valid() bool {
	switch s {
	case StyleVerbatim, StyleClean, StyleSubtitles, StyleTimestamps:
		return true
	}
	return false
}

// HasHeader reports whether the joined transcript starts with the
// single/multiple speaker header line.
func (s Style) HasHeader() bool {
	return s == StyleVerbatim || s == StyleTimestamps
}

// Header is the first line of verbatim and timestamps transcripts.
func Header(multipleSpeakers bool) string {
	if multipleSpeakers {
		return multipleSpeakerHeader
	}
	return singleSpeakerHeader
}

// Render formats one segment. showSpeaker only matters for verbatim and
// timestamps; clean and subtitle output is always labeled.
func Render(seg Segment, style Style, showSpeaker bool) string {
	switch style {
	case StyleVerbatim:
		return fmt.Sprintf("[%s]\n%s", FormatTicks(seg.Start), speakerLine(seg, showSpeaker))
	case StyleClean:
		return speakerLine(seg, true)
	case StyleSubtitles:
		return fmt.Sprintf("%d\n%s --> %s\n%s\n",
			seg.Index, FormatSubtitleTicks(seg.Start), FormatSubtitleTicks(seg.End), speakerLine(seg, true))
	case StyleTimestamps:
		return fmt.Sprintf("[%s - %s] %s", FormatTicks(seg.Start), FormatTicks(seg.End), speakerLine(seg, showSpeaker))
	}
	return seg.Text
}

func speakerLine(seg Segment, showSpeaker bool) string {
	if !showSpeaker || seg.Label == "" {
		return seg.Text
	}
	return seg.Label + ": " + seg.Text
}

// FormatTicks renders ticks as HH:MM:SS.
func FormatTicks(t types.Ticks) string {
	h, m, s := clock(t)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatSubtitleTicks renders ticks as HH:MM:SS,mmm.
func FormatSubtitleTicks(t types.Ticks) string {
	h, m, s := clock(t)
	ms := (t / types.TicksPerMillisecond) % 1000
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func clock(t types.Ticks) (h, m, s int64) {
	if t < 0 {
		t = 0
	}
	total := int64(t / types.TicksPerSecond)
	return total / 3600, (total % 3600) / 60, total % 60
}
