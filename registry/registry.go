// Package registry operates the global registry of sensor model decoders.
package registry

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/rigcalib/sensor"
)

type (
	// IMURegistration stores an IMU decoder.
	IMURegistration struct {
		Decoder sensor.IMUDecoder
	}

	// RadarRegistration stores a radar decoder. MergeTargets is set for models that report one
	// target per message and need their targets merged into arrays by time.
	RadarRegistration struct {
		Decoder      sensor.RadarDecoder
		MergeTargets bool
	}

	// LiDARRegistration stores a LiDAR decoder.
	LiDARRegistration struct {
		Decoder sensor.LiDARDecoder
	}

	// CameraRegistration stores a camera decoder.
	CameraRegistration struct {
		Decoder        sensor.CameraDecoder
		RollingShutter bool
	}
)

// all registries.
var (
	imuRegistry    = map[string]IMURegistration{}
	radarRegistry  = map[string]RadarRegistration{}
	lidarRegistry  = map[string]LiDARRegistration{}
	cameraRegistry = map[string]CameraRegistration{}
)

// RegisterIMU registers an IMU model to a decoder.
func RegisterIMU(model string, reg IMURegistration) {
	if _, old := imuRegistry[model]; old {
		panic(errors.Errorf("trying to register two imus with same model %s", model))
	}
	if reg.Decoder == nil {
		panic(errors.Errorf("cannot register a nil decoder for imu model %s", model))
	}
	imuRegistry[model] = reg
}

// RegisterRadar registers a radar model to a decoder.
func RegisterRadar(model string, reg RadarRegistration) {
	if _, old := radarRegistry[model]; old {
		panic(errors.Errorf("trying to register two radars with same model %s", model))
	}
	if reg.Decoder == nil {
		panic(errors.Errorf("cannot register a nil decoder for radar model %s", model))
	}
	radarRegistry[model] = reg
}

// RegisterLiDAR registers a LiDAR model to a decoder.
func RegisterLiDAR(model string, reg LiDARRegistration) {
	if _, old := lidarRegistry[model]; old {
		panic(errors.Errorf("trying to register two lidars with same model %s", model))
	}
	if reg.Decoder == nil {
		panic(errors.Errorf("cannot register a nil decoder for lidar model %s", model))
	}
	lidarRegistry[model] = reg
}

// RegisterCamera registers a camera model to a decoder.
func RegisterCamera(model string, reg CameraRegistration) {
	if _, old := cameraRegistry[model]; old {
		panic(errors.Errorf("trying to register two cameras with same model %s", model))
	}
	if reg.Decoder == nil {
		panic(errors.Errorf("cannot register a nil decoder for camera model %s", model))
	}
	cameraRegistry[model] = reg
}

// IMULookup looks up an IMU registration by the given model. nil is returned if
// there is no registration.
func IMULookup(model string) *IMURegistration {
	if reg, ok := imuRegistry[model]; ok {
		return &reg
	}
	return nil
}

// RadarLookup looks up a radar registration by the given model. nil is returned if
// there is no registration.
func RadarLookup(model string) *RadarRegistration {
	if reg, ok := radarRegistry[model]; ok {
		return &reg
	}
	return nil
}

// LiDARLookup looks up a LiDAR registration by the given model. nil is returned if
// there is no registration.
func LiDARLookup(model string) *LiDARRegistration {
	if reg, ok := lidarRegistry[model]; ok {
		return &reg
	}
	return nil
}

// CameraLookup looks up a camera registration by the given model. nil is returned if
// there is no registration.
func CameraLookup(model string) *CameraRegistration {
	if reg, ok := cameraRegistry[model]; ok {
		return &reg
	}
	return nil
}

// RegisteredModels returns the sorted model names registered for a modality.
func RegisteredModels(m sensor.Modality) []string {
	var models []string
	switch m {
	case sensor.IMU:
		models = lo.Keys(imuRegistry)
	case sensor.Radar:
		models = lo.Keys(radarRegistry)
	case sensor.LiDAR:
		models = lo.Keys(lidarRegistry)
	case sensor.Camera:
		models = lo.Keys(cameraRegistry)
	}
	sort.Strings(models)
	return models
}

// IsKnownModel reports whether a decoder is registered for the model under the modality.
func IsKnownModel(m sensor.Modality, model string) bool {
	return lo.Contains(RegisteredModels(m), model)
}
