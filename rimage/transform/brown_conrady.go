package transform

import (
	"fmt"
)

// BrownConrady is a distortion model with three radial and two tangential coefficients.
// Parameters are ordered as k1, k2, p1, p2, k3, matching the OpenCV convention.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes in a slice of up to five floats and returns a BrownConrady distorter.
// Missing trailing coefficients are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, InvalidDistortionError(fmt.Sprintf("list of parameters too long, expected max 5, got %d", len(inp)))
	}
	params := make([]float64, 5)
	copy(params, inp)
	bc := &BrownConrady{
		RadialK1:     params[0],
		RadialK2:     params[1],
		TangentialP1: params[2],
		TangentialP2: params[3],
		RadialK3:     params[4],
	}
	if err := bc.CheckValid(); err != nil {
		return nil, err
	}
	return bc, nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// Parameters returns the distortion parameters in k1, k2, p1, p2, k3 order.
func (bc *BrownConrady) Parameters() []float64 {
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Transform distorts the input normalized point.
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := 1. + bc.RadialK1*r2 + bc.RadialK2*r2*r2 + bc.RadialK3*r2*r2*r2
	xd := x*radial + 2.*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2.*x*x)
	yd := y*radial + bc.TangentialP1*(r2+2.*y*y) + 2.*bc.TangentialP2*x*y
	return xd, yd
}
