package batch

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Extractor splits a video into numbered JPEG frames inside outDir.
type Extractor interface {
	Extract(ctx context.Context, video, outDir string) error
}

// Transcoder renders a shareable preview of a processed input.
type Transcoder interface {
	Transcode(ctx context.Context, video, out string) error
}

// FFmpeg drives the ffmpeg binary for both frame extraction and GIF previews.
type FFmpeg struct {
	Path    string
	FPS     int
	GIFFPS  int
	GIFSize int
	run     func(ctx context.Context, name string, args ...string) error
}

func NewFFmpeg(path string, fps int) *FFmpeg {
	return &FFmpeg{Path: path, FPS: fps, GIFFPS: 10, GIFSize: 480, run: runCommand}
}

func (f *FFmpeg) Extract(ctx context.Context, video, outDir string) error {
	return f.run(ctx, f.Path,
		"-hide_banner", "-loglevel", "error",
		"-i", video,
		"-vf", "fps="+strconv.Itoa(f.FPS),
		"-q:v", "3",
		filepath.Join(outDir, "frame_%06d.jpg"),
	)
}

func (f *FFmpeg) Transcode(ctx context.Context, video, out string) error {
	filter := fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", f.GIFFPS, f.GIFSize)
	return f.run(ctx, f.Path,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", video,
		"-vf", filter,
		"-loop", "0",
		out,
	)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(name), err, strings.TrimSpace(string(out)))
	}
	return nil
}
