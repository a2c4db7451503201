package config

import (
	"runtime"

	"go.viam.com/rigcalib/sensor"
)

// Defaults applied when a field is left at its zero value.
const (
	DefaultGravityNorm       = 9.797
	DefaultSO3KnotDist       = 0.02
	DefaultScaleKnotDist     = 0.05
	DefaultMapVoxelSize      = 0.1
	DefaultLossThreshold     = 1.0
	DefaultReprojErrorThd    = 2.0
	DefaultTrackLenThd       = 5
	DefaultMaxLandmarks      = 5000
	DefaultMaxObsPerLandmark = 50
	DefaultMatchWindow       = 5
	DefaultMaxIterations     = 50
	DefaultOutputPath        = "rigcalib_output"
)

// GetGravityNorm returns the gravity magnitude in m/s^2.
func (p Prior) GetGravityNorm() float64 {
	if p.GravityNorm <= 0 {
		return DefaultGravityNorm
	}
	return p.GravityNorm
}

// GetSO3KnotDist returns the rotation spline knot spacing.
func (p Prior) GetSO3KnotDist() float64 {
	if p.KnotTimeDist.SO3Spline <= 0 {
		return DefaultSO3KnotDist
	}
	return p.KnotTimeDist.SO3Spline
}

// GetScaleKnotDist returns the scale spline knot spacing.
func (p Prior) GetScaleKnotDist() float64 {
	if p.KnotTimeDist.ScaleSpline <= 0 {
		return DefaultScaleKnotDist
	}
	return p.KnotTimeDist.ScaleSpline
}

// GetMapVoxelSize returns the LiDAR map voxel edge in meters.
func (p Prior) GetMapVoxelSize() float64 {
	if p.MapVoxelSize <= 0 {
		return DefaultMapVoxelSize
	}
	return p.MapVoxelSize
}

// GetLossThreshold returns the robust loss scale used by non-inertial residuals.
func (p Prior) GetLossThreshold() float64 {
	if p.LossThreshold <= 0 {
		return DefaultLossThreshold
	}
	return p.LossThreshold
}

// GetReprojErrorThd returns the maximum mean reprojection error of a kept landmark, in pixels.
func (s SfMPrior) GetReprojErrorThd() float64 {
	if s.ReprojErrorThd <= 0 {
		return DefaultReprojErrorThd
	}
	return s.ReprojErrorThd
}

// GetTrackLenThd returns the minimum number of observations of a kept landmark.
func (s SfMPrior) GetTrackLenThd() int {
	if s.TrackLenThd <= 0 {
		return DefaultTrackLenThd
	}
	return s.TrackLenThd
}

// GetMaxLandmarks returns the landmark cap applied before optimization.
func (s SfMPrior) GetMaxLandmarks() int {
	if s.MaxLandmarks <= 0 {
		return DefaultMaxLandmarks
	}
	return s.MaxLandmarks
}

// GetMaxObsPerLandmark returns the per-landmark observation cap.
func (s SfMPrior) GetMaxObsPerLandmark() int {
	if s.MaxObsPerLandmark <= 0 {
		return DefaultMaxObsPerLandmark
	}
	return s.MaxObsPerLandmark
}

// GetMatchWindow returns how many following frames each image is paired with.
func (s SfMPrior) GetMatchWindow() int {
	if s.MatchWindow <= 0 {
		return DefaultMatchWindow
	}
	return s.MatchWindow
}

// GetOutputDataFormat returns the parameter file format.
func (p Preference) GetOutputDataFormat() string {
	if p.OutputDataFormat == "" {
		return FormatYAML
	}
	return p.OutputDataFormat
}

// GetThreads returns the number of solver workers.
func (p Preference) GetThreads() int {
	if p.Threads <= 0 {
		return runtime.NumCPU()
	}
	return p.Threads
}

// GetMaxIterations returns the iteration cap of each solve stage.
func (p Preference) GetMaxIterations() int {
	if p.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return p.MaxIterations
}

// GetSolverMethod returns the minimizer.
func (p Preference) GetSolverMethod() string {
	if p.SolverMethod == "" {
		return SolverLevenbergMarquardt
	}
	return p.SolverMethod
}

// GetLinearSolver returns the linear solver of the trust region step.
func (p Preference) GetLinearSolver() string {
	if p.LinearSolver == "" {
		return LinearSolverDenseCholesky
	}
	return p.LinearSolver
}

// GetStageParams reports whether parameters are saved after each stage. Defaults to true.
func (o Outputs) GetStageParams() bool {
	if o.StageParams == nil {
		return true
	}
	return *o.StageParams
}

// GetProgressPlot reports whether cost curves are plotted after each stage. Defaults to true.
func (o Outputs) GetProgressPlot() bool {
	if o.ProgressPlot == nil {
		return true
	}
	return *o.ProgressPlot
}

// GetOutputPath returns the directory all artifacts are written under.
func (ds DataStream) GetOutputPath() string {
	if ds.OutputPath == "" {
		return DefaultOutputPath
	}
	return ds.OutputPath
}

// GetReferenceIMU returns the reference IMU topic, defaulting to the first configured one.
func (ds DataStream) GetReferenceIMU() string {
	if ds.ReferenceIMU != "" {
		return ds.ReferenceIMU
	}
	if imus := ds.Topics()[sensor.IMU]; len(imus) > 0 {
		return imus[0]
	}
	return ""
}

// GetAcceWeight returns the weight of the accelerometer residuals.
func (c IMUConfig) GetAcceWeight() float64 { return weightOrOne(c.AcceWeight) }

// GetGyroWeight returns the weight of the gyroscope residuals.
func (c IMUConfig) GetGyroWeight() float64 { return weightOrOne(c.GyroWeight) }

// GetWeight returns the weight of the Doppler residuals.
func (c RadarConfig) GetWeight() float64 { return weightOrOne(c.Weight) }

// GetWeight returns the weight of the point-to-map residuals.
func (c LiDARConfig) GetWeight() float64 { return weightOrOne(c.Weight) }

// GetWeight returns the weight of the reprojection residuals.
func (c CameraConfig) GetWeight() float64 { return weightOrOne(c.Weight) }

func weightOrOne(w float64) float64 {
	if w <= 0 {
		return 1
	}
	return w
}
