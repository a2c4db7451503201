package transform

import (
	"github.com/pkg/errors"
)

// DistortionType names a lens distortion model as it appears in intrinsics files.
type DistortionType string

// Supported distortion models.
const (
	NoneDistortionType         = DistortionType("no_distortion")
	BrownConradyDistortionType = DistortionType("brown_conrady")
)

// Distorter maps an undistorted normalized image point to its distorted location. Intrinsics
// are applied by the caller.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// DistortionConfig is how a Distorter is stored in camera intrinsics.
type DistortionConfig struct {
	Type       DistortionType `json:"type" yaml:"type"`
	Parameters []float64      `json:"parameters" yaml:"parameters"`
}

var errInvalidDistortion = errors.New("invalid distortion_parameters")

// InvalidDistortionError reports a distortion parameter list that does not fit its model.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errInvalidDistortion, msg)
}

var distorters = map[DistortionType]func([]float64) (Distorter, error){
	BrownConradyDistortionType: func(params []float64) (Distorter, error) {
		return NewBrownConrady(params)
	},
	NoneDistortionType: func(params []float64) (Distorter, error) {
		if len(params) != 0 {
			return nil, InvalidDistortionError(string(NoneDistortionType) + " takes no parameters")
		}
		return NoDistortion{}, nil
	},
}

// NewDistorter builds the Distorter of the given type. An empty type means no distortion.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	if distortionType == "" {
		distortionType = NoneDistortionType
	}
	build, ok := distorters[distortionType]
	if !ok {
		return nil, errors.Errorf("unknown distortion model %q", distortionType)
	}
	return build(parameters)
}

// NoDistortion is the identity.
type NoDistortion struct{}

// ModelType returns NoneDistortionType.
func (NoDistortion) ModelType() DistortionType { return NoneDistortionType }

// CheckValid always succeeds.
func (NoDistortion) CheckValid() error { return nil }

// Parameters is empty.
func (NoDistortion) Parameters() []float64 { return []float64{} }

// Transform returns its input.
func (NoDistortion) Transform(x, y float64) (float64, float64) { return x, y }
