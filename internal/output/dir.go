// Package output writes captured images to local storage.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/logic/imaging"
)

// DirSink saves images into a directory. It implements capture.Sink.
//
// With Unique set, a timestamp is inserted before the extension so that
// repeated saves of "screenshot.png" do not overwrite each other
// (screenshot_20261016_142501.000.png).
type DirSink struct {
	Dir    string
	Unique bool
	now    func() time.Time
}

// NewDirSink creates the directory if needed and returns a sink writing into it.
func NewDirSink(dir string, unique bool) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &DirSink{Dir: dir, Unique: unique, now: time.Now}, nil
}

// Save decodes dataURI and writes it as filename inside the sink directory.
// filename must be a plain file name.
func (s *DirSink) Save(dataURI, filename string) error {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return fmt.Errorf("invalid filename %q", filename)
	}
	_, payload, err := imaging.ParseDataURI(dataURI)
	if err != nil {
		return err
	}

	name := filename
	if s.Unique {
		ext := filepath.Ext(filename)
		name = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(filename, ext), s.now().Format("20060102_150405.000"), ext)
	}
	path := filepath.Join(s.Dir, name)

	// Readers never see a partial image: write aside, then rename.
	tmp, err := os.CreateTemp(s.Dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename file: %w", err)
	}

	debug.Live("Saved %s (%d bytes)", path, len(payload))
	return nil
}
