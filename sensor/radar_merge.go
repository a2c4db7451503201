package sensor

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"
)

// RadarMergeBucket is the window, in seconds, within which single target reports belong to the
// same sweep.
const RadarMergeBucket = 0.1

// MergeRadarTargets regroups single-target reports into arrays. A report joins the current
// group while it is less than bucket seconds from the group's first report; each array is
// stamped with the mean time of its targets. The trailing group is kept.
func MergeRadarTargets(reports []*RadarTargetArray, bucket float64) []*RadarTargetArray {
	var targets []*RadarTarget
	for _, rep := range reports {
		targets = append(targets, rep.Targets...)
	}

	var merged []*RadarTargetArray
	var group []*RadarTarget
	flush := func() {
		if len(group) == 0 {
			return
		}
		times := lo.Map(group, func(tar *RadarTarget, _ int) float64 { return tar.Timestamp })
		mean, err := stats.Mean(times)
		if err != nil {
			mean = group[0].Timestamp
		}
		merged = append(merged, &RadarTargetArray{Timestamp: mean, Targets: group})
		group = nil
	}

	for _, tar := range targets {
		if len(group) > 0 && math.Abs(tar.Timestamp-group[0].Timestamp) >= bucket {
			flush()
		}
		group = append(group, tar)
	}
	flush()
	return merged
}
