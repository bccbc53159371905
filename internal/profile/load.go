package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads mode profiles from a YAML file. Modes named in the file replace the built-in
// ones of the same name; new names extend the registry. Fields left out of an entry for
// a built-in mode keep the built-in value.
//
//	modes:
//	  beginner:
//	    debounce_frames: 5
//	  rehab:
//	    hip_knee_vertical:
//	      standing: {min: 0, max: 30}
//	    ...
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var raw struct {
		Modes map[string]yaml.Node `yaml:"modes"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing profiles file: %w", err)
	}

	base := map[string]Profile{ModeBeginner: Beginner(), ModePro: Pro()}
	for mode, node := range raw.Modes {
		p, ok := base[mode]
		if !ok {
			p = Profile{SuspendOnOffset: true}
		}
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("parsing mode %q: %w", mode, err)
		}
		p.Mode = mode
		base[mode] = p
	}

	profiles := make([]Profile, 0, len(base))
	for _, p := range base {
		profiles = append(profiles, p)
	}
	return NewRegistry(profiles...)
}
