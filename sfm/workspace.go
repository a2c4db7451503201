package sfm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/rigcalib/config"
	"go.viam.com/rigcalib/utils"
)

// Artifact file names inside a reconstruction workspace.
const (
	CamerasFile     = "cameras.txt"
	ImagesFile      = "images.txt"
	Points3DFile    = "points3D.txt"
	MatchesFile     = "matches.txt"
	CommandLogFile  = "sfm-command-line.txt"
	DatabaseFile    = "database.db"
	imagesInfoStem  = "images_info"
	imagesDirName   = "images"
	workspaceDirTag = "sfm_ws"
)

// ErrArtifactsMissing is returned when the reconstruction outputs are not available yet.
var ErrArtifactsMissing = errors.New("reconstruction artifacts are missing")

// ImageFileName is the exported file name of a camera frame.
func ImageFileName(id uint64) string {
	return fmt.Sprintf("%d.jpg", id)
}

// TopicDir turns a topic into a directory name.
func TopicDir(topic string) string {
	return strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_")
}

// Workspace locates the files exchanged with the reconstruction tool for one camera topic.
type Workspace struct {
	OutputPath string
	Topic      string
	Format     string
}

// NewWorkspace returns the workspace of a camera topic under the output path.
func NewWorkspace(outputPath, topic, format string) Workspace {
	return Workspace{OutputPath: outputPath, Topic: topic, Format: format}
}

// ImageDir is where undistorted frames are exported.
func (w Workspace) ImageDir() string {
	return filepath.Join(w.OutputPath, imagesDirName, TopicDir(w.Topic))
}

// Dir is the reconstruction workspace.
func (w Workspace) Dir() string {
	return filepath.Join(w.OutputPath, workspaceDirTag, TopicDir(w.Topic))
}

// InfoFile is the persisted index of exported images.
func (w Workspace) InfoFile() string {
	return filepath.Join(w.Dir(), imagesInfoStem+config.FormatExtension(w.Format))
}

// Path returns the path of a file inside the workspace.
func (w Workspace) Path(name string) string {
	return filepath.Join(w.Dir(), name)
}

// Create makes the image and workspace directories.
func (w Workspace) Create() error {
	if err := utils.EnsureDir(w.ImageDir()); err != nil {
		return err
	}
	return utils.EnsureDir(w.Dir())
}

// MissingArtifacts lists the files needed to load a reconstruction that do not exist yet.
func (w Workspace) MissingArtifacts() []string {
	var missing []string
	for _, p := range []string{w.InfoFile(), w.Path(CamerasFile), w.Path(ImagesFile), w.Path(Points3DFile)} {
		if !utils.FilesExist(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// ImagesInfo maps the identifiers of exported camera frames to their file names.
type ImagesInfo struct {
	Topic    string            `json:"topic" yaml:"topic"`
	RootPath string            `json:"root_path" yaml:"root_path"`
	Images   map[uint64]string `json:"images" yaml:"images"`
}

// NewImagesInfo returns an empty index.
func NewImagesInfo(topic, root string) *ImagesInfo {
	return &ImagesInfo{Topic: topic, RootPath: root, Images: map[uint64]string{}}
}

// ImagePath returns the full path of an exported frame.
func (info *ImagesInfo) ImagePath(id uint64) (string, bool) {
	name, ok := info.Images[id]
	if !ok {
		return "", false
	}
	return filepath.Join(info.RootPath, name), true
}

// NameToID inverts the index.
func (info *ImagesInfo) NameToID() map[string]uint64 {
	out := make(map[string]uint64, len(info.Images))
	for id, name := range info.Images {
		out[name] = id
	}
	return out
}

// Save writes the index in the given format.
func (info *ImagesInfo) Save(path, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case config.FormatYAML:
		data, err = yaml.Marshal(info)
	case config.FormatJSON:
		data, err = json.MarshalIndent(info, "", "  ")
	default:
		return errors.Errorf("unsupported output data format %q", format)
	}
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "cannot write images info %q", path)
}

// LoadImagesInfo reads an index written by Save. The format follows the file extension.
func LoadImagesInfo(path string) (*ImagesInfo, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read images info %q", path)
	}
	info := &ImagesInfo{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, info)
	default:
		err = json.Unmarshal(data, info)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse images info %q", path)
	}
	return info, nil
}
