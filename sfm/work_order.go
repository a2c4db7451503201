package sfm

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/rimage/transform"
	"go.viam.com/rigcalib/utils"
)

// IndexPair is a candidate pair of frames for feature matching.
type IndexPair struct {
	A, B uint64
}

// CandidatePairs pairs every frame with the window frames following it.
func CandidatePairs(ids []uint64, window int) []IndexPair {
	var pairs []IndexPair
	for i := range ids {
		for j := i + 1; j < len(ids) && j <= i+window; j++ {
			pairs = append(pairs, IndexPair{A: ids[i], B: ids[j]})
		}
	}
	return pairs
}

// WorkOrder describes the reconstruction the operator must run for one camera topic.
type WorkOrder struct {
	Intrinsics     *transform.PinholeCameraIntrinsics
	Pairs          []IndexPair
	RollingShutter bool
}

// WriteWorkOrder writes the candidate pairs and the command lines of every reconstruction stage
// into the workspace.
func WriteWorkOrder(ws Workspace, order WorkOrder) (err error) {
	if err := ws.Create(); err != nil {
		return err
	}
	if err := writeMatches(ws.Path(MatchesFile), order.Pairs); err != nil {
		return err
	}

	logPath := ws.Path(CommandLogFile)
	utils.RemoveFileNoError(logPath)
	appender, closer := logging.NewFileAppender(logPath)
	defer func() {
		err = multierr.Combine(err, closer.Close())
	}()
	logger := logging.NewBlankLogger("sfm_cmd")
	logger.AddAppender(appender)
	logger.SetLevel(logging.INFO)

	database := ws.Path(DatabaseFile)
	intr := order.Intrinsics
	logger.Infof("command line for 'feature_extractor' in colmap for topic '%s':\n"+
		"colmap feature_extractor --database_path %s --image_path %s "+
		"--ImageReader.camera_model PINHOLE --ImageReader.single_camera 1 "+
		"--ImageReader.camera_params %.3f,%.3f,%.3f,%.3f\n",
		ws.Topic, database, ws.ImageDir(), intr.Fx, intr.Fy, intr.Ppx, intr.Ppy)

	logger.Infof("command line for 'matches_importer' in colmap for topic '%s':\n"+
		"colmap matches_importer --database_path %s --match_list_path %s --match_type pairs\n",
		ws.Topic, database, ws.Path(MatchesFile))

	logger.Info("-  SfM Reconstruction in COLMAP [colmap gui] (recommend) or [colmap mapper]  -")
	logger.Info("the gui is recommended, the mapper is strict when searching the initial image pair")
	logger.Infof("command line for 'colmap gui' for topic '%s':\n"+
		"colmap gui --database_path %s --image_path %s",
		ws.Topic, database, ws.ImageDir())

	initMaxError := 1.0
	if order.RollingShutter {
		initMaxError = 2.0
	}
	logger.Infof("command line for 'colmap mapper' for topic '%s':\n"+
		"colmap mapper --database_path %s --image_path %s --output_path %s "+
		"--Mapper.init_min_tri_angle 25 --Mapper.init_max_error %.1f --Mapper.tri_min_angle 3 "+
		"--Mapper.ba_refine_focal_length 0 --Mapper.ba_refine_principal_point 0",
		ws.Topic, database, ws.ImageDir(), ws.Dir(), initMaxError)

	logger.Infof("command line for 'model_converter' in colmap for topic '%s':\n"+
		"colmap model_converter --input_path %s --output_path %s --output_type TXT\n",
		ws.Topic, ws.Path("0"), ws.Dir())
	return logger.Sync()
}

func writeMatches(path string, pairs []IndexPair) (err error) {
	sorted := append([]IndexPair(nil), pairs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].A != sorted[j].A {
			return sorted[i].A < sorted[j].A
		}
		return sorted[i].B < sorted[j].B
	})
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create matches file %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	for _, p := range sorted {
		if _, err := fmt.Fprintf(w, "%s %s\n", ImageFileName(p.A), ImageFileName(p.B)); err != nil {
			return err
		}
	}
	return w.Flush()
}
