package ros

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Stamp is a ROS time.
type Stamp struct {
	Secs  int64
	Nsecs int64
}

// Seconds returns the stamp in seconds.
func (s Stamp) Seconds() float64 {
	return float64(s.Secs) + float64(s.Nsecs)/1e9
}

// Header is std_msgs/Header.
type Header struct {
	Seq     int
	Stamp   Stamp
	FrameID string `json:"frame_id"`
}

// TimeOr returns the stamp in seconds, or fallback when the header carries no stamp.
func (h Header) TimeOr(fallback float64) float64 {
	if h.Stamp.Secs == 0 && h.Stamp.Nsecs == 0 {
		return fallback
	}
	return h.Stamp.Seconds()
}

// HasFields reports whether the message body is an object holding every named field. Names are
// matched case-insensitively like encoding/json does.
func (m Message) HasFields(fields ...string) bool {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(m.Data, &body); err != nil {
		return false
	}
	for _, field := range fields {
		found := false
		for key := range body {
			if strings.EqualFold(key, field) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Vector3 is geometry_msgs/Vector3.
type Vector3 struct {
	X float64
	Y float64
	Z float64
}

// ByteArray is a uint8[] field, accepted either as a JSON number array or a base64 string.
type ByteArray []byte

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return errors.Wrap(err, "invalid base64 byte array")
		}
		*b = decoded
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// ImuMessage is sensor_msgs/Imu.
type ImuMessage struct {
	Header      Header
	Orientation struct {
		X float64
		Y float64
		Z float64
		W float64
	}
	AngularVelocity    Vector3 `json:"angular_velocity"`
	LinearAcceleration Vector3 `json:"linear_acceleration"`
}

// ImageMessage is sensor_msgs/Image.
type ImageMessage struct {
	Header      Header
	Height      int
	Width       int
	Encoding    string
	IsBigendian int `json:"is_bigendian"`
	Step        int
	Data        ByteArray
}

// CompressedImageMessage is sensor_msgs/CompressedImage.
type CompressedImageMessage struct {
	Header Header
	Format string
	Data   ByteArray
}

// PointField is sensor_msgs/PointField.
type PointField struct {
	Name     string
	Offset   int
	Datatype int
	Count    int
}

// PointField datatypes.
const (
	PointFieldInt8    = 1
	PointFieldUint8   = 2
	PointFieldInt16   = 3
	PointFieldUint16  = 4
	PointFieldInt32   = 5
	PointFieldUint32  = 6
	PointFieldFloat32 = 7
	PointFieldFloat64 = 8
)

// PointCloud2Message is sensor_msgs/PointCloud2.
type PointCloud2Message struct {
	Header      Header
	Height      int
	Width       int
	Fields      []PointField
	IsBigendian bool `json:"is_bigendian"`
	PointStep   int  `json:"point_step"`
	RowStep     int  `json:"row_step"`
	Data        ByteArray
	IsDense     bool `json:"is_dense"`
}

// RadarScanMessage is ti_mmwave_rospkg/RadarScan, one target per message.
type RadarScanMessage struct {
	Header     Header
	PointID    int `json:"point_id"`
	X          float64
	Y          float64
	Z          float64
	Range      float64
	Velocity   float64
	DopplerBin int `json:"doppler_bin"`
	Bearing    float64
	Intensity  float64
}

// RadarTarget is one entry of a RadarTargetArrayMessage.
type RadarTarget struct {
	Header    Header
	Range     float64
	Azimuth   float64
	Elevation float64
	Velocity  float64
	Intensity float64
}

// RadarTargetArrayMessage is a radar sweep of targets in polar form.
type RadarTargetArrayMessage struct {
	Header  Header
	Targets []RadarTarget
}
