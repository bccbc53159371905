package pose

import "context"

// Detector turns an encoded image into landmarks. found is false when no person was
// detected; err is reserved for transport or decode failures.
type Detector interface {
	Detect(ctx context.Context, image []byte) (landmarks LandmarkSet, found bool, err error)
}

// NopDetector never finds a subject. It stands in when no pose worker is configured, so
// image frames are accounted as invalid while landmark frames still work.
type NopDetector struct{}

func (NopDetector) Detect(context.Context, []byte) (LandmarkSet, bool, error) {
	return nil, false, nil
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, image []byte) (LandmarkSet, bool, error)

func (f DetectorFunc) Detect(ctx context.Context, image []byte) (LandmarkSet, bool, error) {
	return f(ctx, image)
}
