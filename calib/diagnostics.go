package calib

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/rigcalib/estimator"
	"go.viam.com/rigcalib/utils"
)

const residualHistogramBins = 10

// progressRecorder keeps the cost and gradient of every accepted iteration of a stage.
type progressRecorder struct {
	iterations []estimator.IterationSummary
}

func (r *progressRecorder) Invoke(is estimator.IterationSummary) (estimator.CallbackReturn, error) {
	r.iterations = append(r.iterations, is)
	return estimator.Continue, nil
}

// savePlot draws the cost and gradient norm curves of a stage on a log scale.
func (r *progressRecorder) savePlot(path, desc string) error {
	if len(r.iterations) == 0 {
		return nil
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Stage %s", desc)
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "log10"

	cost := make(plotter.XYs, 0, len(r.iterations))
	grad := make(plotter.XYs, 0, len(r.iterations))
	for _, is := range r.iterations {
		cost = append(cost, plotter.XY{X: float64(is.Iteration), Y: safeLog10(is.Cost)})
		grad = append(grad, plotter.XY{X: float64(is.Iteration), Y: safeLog10(is.GradientNorm)})
	}
	costLine, err := plotter.NewLine(cost)
	if err != nil {
		return err
	}
	costLine.Width = vg.Points(1)
	gradLine, err := plotter.NewLine(grad)
	if err != nil {
		return err
	}
	gradLine.Width = vg.Points(1)
	gradLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(costLine, gradLine)
	p.Legend.Add("cost", costLine)
	p.Legend.Add("gradient", gradLine)

	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return errors.Wrapf(p.Save(8*vg.Inch, 4*vg.Inch, path), "cannot save progress plot %q", path)
}

func safeLog10(v float64) float64 {
	return math.Log10(math.Max(v, 1e-16))
}

// residualHistograms renders the distribution of the residual norms of every family.
func residualHistograms(families map[string][]residualRecord) string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		norms := residualNorms(families[name])
		if len(norms) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s (%d residuals)\n", name, len(norms))
		if err := histogram.Fprint(&sb, histogram.Hist(residualHistogramBins, norms), histogram.Linear(40)); err != nil {
			fmt.Fprintf(&sb, "cannot render histogram: %v\n", err)
		}
	}
	return sb.String()
}

// residualNorms evaluates each residual at the current values of its blocks.
func residualNorms(records []residualRecord) []float64 {
	norms := make([]float64, 0, len(records))
	for _, rec := range records {
		res := make([]float64, rec.cost.NumResiduals())
		if !rec.cost.Evaluate(rec.blocks, res) {
			continue
		}
		sum := 0.
		for _, v := range res {
			sum += v * v
		}
		norms = append(norms, math.Sqrt(sum))
	}
	return norms
}
