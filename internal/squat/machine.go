package squat

import (
	"math"
	"slices"
	"strconv"
	"time"

	"backend-formcoach/internal/pose"
	"backend-formcoach/internal/profile"
)

// Machine tracks one athlete's squat phase and rep counts. It is not safe for concurrent
// use; callers serialize Update calls per session.
type Machine struct {
	profile profile.Profile

	confirmed  Phase
	candidate  Phase
	streak     int
	lastChange time.Time
	started    bool

	reachedBottom bool
	improper      bool

	invalidStreak int
	failed        int
	cycles        int
	counters      Counters
	last          FrameResult
}

func NewMachine(p profile.Profile) *Machine {
	m := &Machine{profile: p}
	m.Reset()
	return m
}

// Reset returns the machine to its initial state, keeping the profile.
func (m *Machine) Reset() {
	p := m.profile
	*m = Machine{profile: p, confirmed: Standing}
	m.last = FrameResult{Phase: Standing}
}

func (m *Machine) Profile() profile.Profile { return m.profile }
func (m *Machine) Phase() Phase             { return m.confirmed }
func (m *Machine) Counters() Counters       { return m.counters }
func (m *Machine) Failed() int              { return m.failed }

// Last returns the result of the most recent valid frame.
func (m *Machine) Last() FrameResult {
	res := m.last
	res.Warnings = slices.Clone(res.Warnings)
	return res
}

// Cycles is the number of confirmed returns to STANDING after reaching BOTTOM.
func (m *Machine) Cycles() int { return m.cycles }

// Update feeds one frame's angles observed at now and returns the resulting state.
func (m *Machine) Update(a pose.AngleSet, now time.Time) FrameResult {
	if !a.Valid {
		m.failed++
		m.invalidStreak++
		res := m.last
		res.Warnings = slices.Clone(res.Warnings)
		res.Valid = false
		res.RepCompleted = false
		res.RepCorrect = false
		res.Cue = ""
		res.Angles = nil
		res.NoSubject = m.invalidStreak >= m.profile.NoSubjectFrames
		return res
	}
	m.invalidStreak = 0
	if !m.started {
		m.lastChange = now
		m.started = true
	}

	p := m.profile
	angles := a
	res := FrameResult{Valid: true, Angles: &angles}

	offset := a.Offset > p.OffsetMax
	if offset {
		res.Warnings = append(res.Warnings, WarnOffset)
	}
	suspended := offset && p.SuspendOnOffset

	if suspended {
		m.candidate, m.streak = "", 0
	} else if next, ok := m.debounce(m.classify(math.Abs(a.HipKneeVertical))); ok {
		prev := m.confirmed
		m.confirmed = next
		m.lastChange = now
		m.transition(prev, next, &res)
	}

	// posture is judged in every confirmed BOTTOM frame, offset or not
	if m.confirmed == Bottom {
		if a.Hip > p.Hip.Max {
			res.Warnings = append(res.Warnings, WarnForwardLean)
			m.improper = true
		} else if a.Hip < p.Hip.Min {
			res.Warnings = append(res.Warnings, WarnUprightTorso)
			m.improper = true
		}
		if a.Ankle > p.AnkleMax {
			res.Warnings = append(res.Warnings, WarnHeelLift)
			m.improper = true
		}
	}

	if now.Sub(m.lastChange) > p.InactiveAfter {
		res.Warnings = append(res.Warnings, WarnInactive)
	}

	if m.confirmed != Standing {
		res.Feedback = m.depthFeedback(a.Knee)
	}

	res.Phase = m.confirmed
	res.Counters = m.counters
	m.last = res
	return res
}

// classify tests the bands from the lowest up. Angles outside every band keep the
// confirmed phase.
func (m *Machine) classify(angle float64) Phase {
	b := m.profile.HipKneeVertical
	switch {
	case b.Standing.Contains(angle):
		return Standing
	case b.Transition.Contains(angle):
		return Transition
	case b.Bottom.Contains(angle):
		return Bottom
	}
	return m.confirmed
}

// debounce reports whether cand has now been seen on enough consecutive frames to
// replace the confirmed phase.
func (m *Machine) debounce(cand Phase) (Phase, bool) {
	if cand == m.confirmed {
		m.candidate, m.streak = "", 0
		return "", false
	}
	if cand == m.candidate {
		m.streak++
	} else {
		m.candidate, m.streak = cand, 1
	}
	if m.streak < m.profile.DebounceFrames {
		return "", false
	}
	m.candidate, m.streak = "", 0
	return cand, true
}

func (m *Machine) transition(prev, next Phase, res *FrameResult) {
	if prev == Standing {
		// a new rep cycle starts
		m.improper = false
		m.reachedBottom = false
	}
	switch next {
	case Bottom:
		m.reachedBottom = true
	case Standing:
		if !m.reachedBottom {
			res.Warnings = append(res.Warnings, WarnShallowRep)
			return
		}
		m.reachedBottom = false
		m.cycles++
		res.RepCompleted = true
		if m.improper {
			m.counters.Incorrect++
			res.Cue = CueIncorrect
		} else {
			m.counters.Correct++
			res.RepCorrect = true
			res.Cue = strconv.Itoa(m.counters.Correct)
		}
	}
}

func (m *Machine) depthFeedback(knee float64) Feedback {
	k := m.profile.Knee
	switch {
	case knee < k[0]:
		return FeedbackNone
	case knee < k[1]:
		return FeedbackLowerHips
	case knee <= k[2]:
		return FeedbackGoodDepth
	}
	return FeedbackTooDeep
}
