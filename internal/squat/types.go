package squat

import "backend-formcoach/internal/pose"

type Phase string

const (
	Standing   Phase = "STANDING"
	Transition Phase = "TRANSITION"
	Bottom     Phase = "BOTTOM"
)

type Warning string

const (
	WarnOffset       Warning = "offset"
	WarnInactive     Warning = "inactive"
	WarnHeelLift     Warning = "heel_lift"
	WarnForwardLean  Warning = "forward_lean"
	WarnUprightTorso Warning = "upright_torso"
	WarnShallowRep   Warning = "shallow_rep"
)

// Feedback is the depth coaching message derived from the knee scale.
type Feedback string

const (
	FeedbackNone      Feedback = ""
	FeedbackLowerHips Feedback = "lower_hips"
	FeedbackGoodDepth Feedback = "good_depth"
	FeedbackTooDeep   Feedback = "too_deep"
)

// CueIncorrect is the audio cue sent when an improper rep completes. Correct reps cue
// their running count.
const CueIncorrect = "incorrect"

type Counters struct {
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
}

func (c Counters) Total() int {
	return c.Correct + c.Incorrect
}

// FrameResult is the outcome of feeding one frame to a Machine.
type FrameResult struct {
	Phase        Phase          `json:"phase"`
	Valid        bool           `json:"valid"`
	NoSubject    bool           `json:"no_subject,omitempty"`
	RepCompleted bool           `json:"rep_completed,omitempty"`
	RepCorrect   bool           `json:"rep_correct,omitempty"`
	Cue          string         `json:"cue,omitempty"`
	Warnings     []Warning      `json:"warnings,omitempty"`
	Feedback     Feedback       `json:"feedback,omitempty"`
	Counters     Counters       `json:"counters"`
	Angles       *pose.AngleSet `json:"angles,omitempty"`
}

func (r FrameResult) HasWarning(w Warning) bool {
	for _, got := range r.Warnings {
		if got == w {
			return true
		}
	}
	return false
}
