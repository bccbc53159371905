package session

import (
	"context"
	"time"

	"backend-formcoach/internal/pose"
	"backend-formcoach/internal/squat"
)

// Frame is one unit of input. Landmarks, when set, bypass the detector.
type Frame struct {
	Image     []byte
	Landmarks pose.LandmarkSet
	Timestamp time.Time
}

type Options struct {
	Mode      string `json:"mode"`
	AthleteID string `json:"athlete_id,omitempty"`
	Source    string `json:"source,omitempty"`
}

type Summary struct {
	ID              string         `json:"id"`
	Mode            string         `json:"mode"`
	AthleteID       string         `json:"athlete_id,omitempty"`
	Source          string         `json:"source"`
	Phase           squat.Phase    `json:"phase"`
	Counters        squat.Counters `json:"counters"`
	FramesReceived  int            `json:"frames_received"`
	FramesProcessed int            `json:"frames_processed"`
	FramesFailed    int            `json:"frames_failed"`
	FramesDropped   int            `json:"frames_dropped"`
	FPS             float64        `json:"fps"`
	StartedAt       time.Time      `json:"started_at"`
	LastFrameAt     *time.Time     `json:"last_frame_at,omitempty"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
}

// Totals are process-wide aggregates across every session.
type Totals struct {
	FramesReceived  int64 `json:"frames_received"`
	FramesProcessed int64 `json:"frames_processed"`
	FramesFailed    int64 `json:"frames_failed"`
	SessionsTotal   int64 `json:"sessions_total"`
	ActiveSessions  int64 `json:"active_sessions"`
}

// SummarySink receives the final summary of every destroyed session.
type SummarySink interface {
	SaveSummary(ctx context.Context, s Summary) error
}
