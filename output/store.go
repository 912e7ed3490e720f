package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrsingh-rishi/voice-transcript/model"
	"github.com/mrsingh-rishi/voice-transcript/transcript"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName reduces a client supplied file name to a single path element made
// of letters, digits, dot, dash and underscore.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "audio"
	}
	return name
}

// Store writes finished transcripts as "<name>.txt" files in one directory.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("transcript directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger.With(zap.String("component", "store")), now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save writes res.Text under the base name of source (its extension is
// dropped). An existing file with the same name is replaced.
func (s *Store) Save(source string, res *transcript.Result) (model.TranscriptRecord, error) {
	if res == nil || res.Text == "" {
		return model.TranscriptRecord{}, transcript.ErrNoSpeechRecognized
	}
	name := SafeName(source)
	name = strings.TrimSuffix(name, filepath.Ext(name)) + ".txt"
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".transcript-*")
	if err != nil {
		return model.TranscriptRecord{}, fmt.Errorf("save transcript: %w", err)
	}
	if _, err := tmp.WriteString(res.Text); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return model.TranscriptRecord{}, fmt.Errorf("save transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return model.TranscriptRecord{}, fmt.Errorf("save transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return model.TranscriptRecord{}, fmt.Errorf("save transcript: %w", err)
	}

	id := res.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	rec := model.TranscriptRecord{
		ID:        id,
		Name:      name,
		Path:      path,
		Style:     string(res.Style),
		Segments:  len(res.Segments),
		Speakers:  res.Speakers,
		CreatedAt: s.now(),
	}
	s.logger.Info("transcript saved",
		zap.String("session_id", rec.ID),
		zap.String("path", rec.Path),
		zap.Int("segments", rec.Segments),
	)
	return rec, nil
}
