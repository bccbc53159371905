package batch

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue full")
	ErrJobFinished = errors.New("job already finished")
	ErrCancelled   = errors.New("job cancelled")
	ErrNoExtractor = errors.New("video frame extraction is not configured")
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InputKind names how a job's input path is read.
type InputKind string

const (
	InputVideo     InputKind = "video"
	InputImages    InputKind = "images"
	InputLandmarks InputKind = "landmarks"
)

// DetectInput guesses the input kind from a path: directories hold images, .ndjson and
// .jsonl files hold landmark tracks, anything else is treated as video.
func DetectInput(path string, isDir bool) InputKind {
	if isDir {
		return InputImages
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		return InputLandmarks
	}
	return InputVideo
}

type Request struct {
	Input     InputKind
	Path      string
	Mode      string
	AthleteID string
}

type Job struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	Mode       string     `json:"mode"`
	AthleteID  string     `json:"athlete_id,omitempty"`
	Input      InputKind  `json:"input"`
	Path       string     `json:"path"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type Result struct {
	VideoID           string   `json:"video_id"`
	Mode              string   `json:"mode"`
	CorrectSquats     int      `json:"correct_squats"`
	IncorrectSquats   int      `json:"incorrect_squats"`
	FramesTotal       int      `json:"frames_total"`
	FramesProcessed   int      `json:"frames_processed"`
	FramesFailed      int      `json:"frames_failed"`
	ProcessedVideoURL string   `json:"processed_video_url,omitempty"`
	ThumbnailURL      string   `json:"thumbnail_url,omitempty"`
	Artifacts         []string `json:"artifacts,omitempty"`
}
