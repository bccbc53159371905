package profile

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrUnknownMode   = errors.New("unknown mode")
	ErrInvalidConfig = errors.New("invalid threshold profile")
)

const (
	ModeBeginner = "beginner"
	ModePro      = "pro"
)

// Range is an inclusive interval in degrees.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Bands partitions the hip-knee-vertical angle into the three squat phases.
type Bands struct {
	Standing   Range `yaml:"standing" json:"standing"`
	Transition Range `yaml:"transition" json:"transition"`
	Bottom     Range `yaml:"bottom" json:"bottom"`
}

// Profile is the full set of classification boundaries for one skill mode.
type Profile struct {
	Mode            string        `yaml:"-" json:"mode"`
	HipKneeVertical Bands         `yaml:"hip_knee_vertical" json:"hip_knee_vertical"`
	Hip             Range         `yaml:"hip" json:"hip"`
	AnkleMax        float64       `yaml:"ankle_max" json:"ankle_max"`
	Knee            [3]float64    `yaml:"knee" json:"knee"`
	OffsetMax       float64       `yaml:"offset_max" json:"offset_max"`
	InactiveAfter   time.Duration `yaml:"inactive_after" json:"inactive_after"`
	DebounceFrames  int           `yaml:"debounce_frames" json:"debounce_frames"`
	NoSubjectFrames int           `yaml:"no_subject_frames" json:"no_subject_frames"`
	SuspendOnOffset bool          `yaml:"suspend_on_offset" json:"suspend_on_offset"`
}

func (p Profile) Validate() error {
	check := func(name string, r Range) error {
		if r.Min > r.Max {
			return fmt.Errorf("%w: %s: min %.1f above max %.1f", ErrInvalidConfig, name, r.Min, r.Max)
		}
		return nil
	}
	for name, r := range map[string]Range{
		"hip_knee_vertical.standing":   p.HipKneeVertical.Standing,
		"hip_knee_vertical.transition": p.HipKneeVertical.Transition,
		"hip_knee_vertical.bottom":     p.HipKneeVertical.Bottom,
		"hip":                          p.Hip,
	} {
		if err := check(name, r); err != nil {
			return err
		}
	}
	if p.Knee[0] > p.Knee[1] || p.Knee[1] > p.Knee[2] {
		return fmt.Errorf("%w: knee scale must be ascending", ErrInvalidConfig)
	}
	if p.DebounceFrames < 1 {
		return fmt.Errorf("%w: debounce_frames must be at least 1", ErrInvalidConfig)
	}
	if p.NoSubjectFrames < 1 {
		return fmt.Errorf("%w: no_subject_frames must be at least 1", ErrInvalidConfig)
	}
	if p.InactiveAfter <= 0 {
		return fmt.Errorf("%w: inactive_after must be positive", ErrInvalidConfig)
	}
	if p.OffsetMax <= 0 || p.AnkleMax <= 0 {
		return fmt.Errorf("%w: offset_max and ankle_max must be positive", ErrInvalidConfig)
	}
	return nil
}

// Beginner is the relaxed profile.
func Beginner() Profile {
	return Profile{
		Mode: ModeBeginner,
		HipKneeVertical: Bands{
			Standing:   Range{0, 40},
			Transition: Range{30, 75},
			Bottom:     Range{65, 100},
		},
		Hip:             Range{5, 60},
		AnkleMax:        55,
		Knee:            [3]float64{40, 65, 100},
		OffsetMax:       45,
		InactiveAfter:   20 * time.Second,
		DebounceFrames:  3,
		NoSubjectFrames: 40,
		SuspendOnOffset: true,
	}
}

// Pro tightens the bands and posture limits.
func Pro() Profile {
	return Profile{
		Mode: ModePro,
		HipKneeVertical: Bands{
			Standing:   Range{0, 35},
			Transition: Range{32, 70},
			Bottom:     Range{75, 100},
		},
		Hip:             Range{12, 55},
		AnkleMax:        35,
		Knee:            [3]float64{45, 75, 100},
		OffsetMax:       40,
		InactiveAfter:   18 * time.Second,
		DebounceFrames:  4,
		NoSubjectFrames: 45,
		SuspendOnOffset: true,
	}
}

// Registry maps mode names to profiles. It is read-only after construction.
type Registry struct {
	profiles map[string]Profile
}

func NewRegistry(profiles ...Profile) (*Registry, error) {
	r := &Registry{profiles: map[string]Profile{}}
	for _, p := range profiles {
		if p.Mode == "" {
			return nil, fmt.Errorf("%w: profile without mode", ErrInvalidConfig)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("mode %q: %w", p.Mode, err)
		}
		r.profiles[p.Mode] = p
	}
	return r, nil
}

// DefaultRegistry holds the built-in beginner and pro profiles.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(Beginner(), Pro())
	return r
}

func (r *Registry) Get(mode string) (Profile, error) {
	p, ok := r.profiles[mode]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return p, nil
}

func (r *Registry) Modes() []string {
	modes := make([]string, 0, len(r.profiles))
	for m := range r.profiles {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}
