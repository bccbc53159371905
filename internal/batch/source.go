package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"backend-formcoach/internal/pose"
	"backend-formcoach/internal/session"
)

// Source yields a job's frames in order and returns io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) (session.Frame, error)
	Close() error
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ImageDir reads image files from a directory in lexical order, as written by frame
// extractors. Frame timestamps are spaced at the configured frame rate.
type ImageDir struct {
	files []string
	next  int
	clock frameClock
}

func OpenImageDir(dir string, fps int, start time.Time) (*ImageDir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open image dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return &ImageDir{files: files, clock: frameClock{start: start, fps: fps}}, nil
}

func (d *ImageDir) Len() int { return len(d.files) }

// First is the path of the first frame, or "" for an empty directory.
func (d *ImageDir) First() string {
	if len(d.files) == 0 {
		return ""
	}
	return d.files[0]
}

func (d *ImageDir) Next(ctx context.Context) (session.Frame, error) {
	if err := ctx.Err(); err != nil {
		return session.Frame{}, err
	}
	if d.next >= len(d.files) {
		return session.Frame{}, io.EOF
	}
	path := d.files[d.next]
	idx := d.next
	d.next++

	img, err := os.ReadFile(path)
	if err != nil {
		return session.Frame{}, fmt.Errorf("read frame %s: %w", path, err)
	}
	return session.Frame{Image: img, Timestamp: d.clock.at(idx)}, nil
}

func (d *ImageDir) Close() error { return nil }

// LandmarkTrack reads pre-computed landmarks, one JSON object per line:
//
//	{"timestamp_ms": 1700000000000, "landmarks": {"nose": {"x": 0.5, ...}, ...}}
//
// A line with no landmarks is a frame where no subject was found.
type LandmarkTrack struct {
	f       *os.File
	scanner *bufio.Scanner
	idx     int
	clock   frameClock
}

type trackLine struct {
	TimestampMS int64            `json:"timestamp_ms"`
	Landmarks   pose.LandmarkSet `json:"landmarks"`
}

func OpenLandmarkTrack(path string, fps int, start time.Time) (*LandmarkTrack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open landmark track: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &LandmarkTrack{f: f, scanner: scanner, clock: frameClock{start: start, fps: fps}}, nil
}

func (t *LandmarkTrack) Next(ctx context.Context) (session.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return session.Frame{}, err
		}
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return session.Frame{}, fmt.Errorf("read landmark track: %w", err)
			}
			return session.Frame{}, io.EOF
		}
		line := strings.TrimSpace(t.scanner.Text())
		if line == "" {
			continue
		}

		var tl trackLine
		if err := json.Unmarshal([]byte(line), &tl); err != nil {
			return session.Frame{}, fmt.Errorf("landmark track line %d: %w", t.idx+1, err)
		}
		ts := t.clock.at(t.idx)
		if tl.TimestampMS > 0 {
			ts = time.UnixMilli(tl.TimestampMS)
		}
		t.idx++

		landmarks := tl.Landmarks
		if landmarks == nil {
			landmarks = pose.LandmarkSet{}
		}
		return session.Frame{Landmarks: landmarks, Timestamp: ts}, nil
	}
}

func (t *LandmarkTrack) Close() error {
	return t.f.Close()
}

type frameClock struct {
	start time.Time
	fps   int
}

func (c frameClock) at(idx int) time.Time {
	fps := c.fps
	if fps <= 0 {
		fps = 30
	}
	return c.start.Add(time.Duration(idx) * time.Second / time.Duration(fps))
}
