package align

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"go.viam.com/rigcalib/logging"
	"go.viam.com/rigcalib/sensor"
)

var modalityTitles = map[sensor.Modality]string{
	sensor.IMU:    "IMU",
	sensor.Radar:  "Radar",
	sensor.LiDAR:  "LiDAR",
	sensor.Camera: "Camera",
}

// StatusTable renders the size and time span of every stream followed by the raw, aligned and
// calibration windows.
func StatusTable(reg *sensor.Registry, window TimeWindow) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Modality", "Topic", "Size", "From (s)", "To (s)"})
	for _, m := range sensor.Modalities {
		for _, topic := range reg.Topics(m) {
			count, first, last := reg.Span(m, topic)
			t.AppendRow(table.Row{
				modalityTitles[m], topic, fmt.Sprintf("%06d", count), formatTime(first), formatTime(last),
			})
		}
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"raw", "", "", formatTime(window.RawStart), formatTime(window.RawEnd)})
	t.AppendRow(table.Row{"aligned", "", "", formatTime(window.AlignedStart), formatTime(window.AlignedEnd)})
	t.AppendRow(table.Row{"calib", "", "", formatTime(window.CalibStart()), formatTime(window.CalibEnd())})
	return t.Render()
}

// LogStatus logs the StatusTable.
func LogStatus(logger logging.Logger, reg *sensor.Registry, window TimeWindow) {
	logger.Infof("calibration data info:\n%s", StatusTable(reg, window))
}

func formatTime(t float64) string {
	return fmt.Sprintf("%+010.5f", t)
}
