// Package ros reads recorded ROS bags and exposes their messages per topic.
package ros

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/rigcalib/logging"
)

// Message is one recorded message of a topic. Time is the bag record time in seconds; Data
// holds the message body as JSON.
type Message struct {
	Topic string
	Time  float64
	Data  json.RawMessage
}

// Unmarshal decodes the message body into v.
func (m Message) Unmarshal(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.Wrapf(err, "cannot decode message on topic %q", m.Topic)
	}
	return nil
}

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()

	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to create ros bag, error")
	}

	return rb, nil
}

// NormalizeTopic returns the key under which gobag stores a topic's parsed messages.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}

type bagLine struct {
	Meta struct {
		Secs  int64
		Nsecs int64
	}
	Data json.RawMessage
}

// MessagesForTopics parses every message of the given topics, ordered by record time.
func MessagesForTopics(rb *rosbag.RosBag, topics []string) (map[string][]Message, error) {
	wanted := make(map[string]bool, len(topics))
	for _, topic := range topics {
		wanted[topic] = true
	}
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return wanted[t] },
		false,
	); err != nil {
		return nil, errors.Wrapf(err, "error while parsing bag to JSON")
	}

	all := make(map[string][]Message, len(topics))
	for _, topic := range topics {
		buf, ok := rb.TopicsAsJSON[NormalizeTopic(topic)]
		if !ok || buf == nil {
			continue
		}
		msgs, err := readLines(topic, buf)
		if err != nil {
			return nil, err
		}
		all[topic] = msgs
	}
	return all, nil
}

type lineReader interface {
	ReadBytes(delim byte) ([]byte, error)
}

func readLines(topic string, r lineReader) ([]Message, error) {
	var msgs []Message
	for {
		data, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(data)) > 0 {
			var line bagLine
			if uerr := json.Unmarshal(data, &line); uerr != nil {
				return nil, errors.Wrapf(uerr, "malformed message on topic %q", topic)
			}
			msgs = append(msgs, Message{
				Topic: topic,
				Time:  float64(line.Meta.Secs) + float64(line.Meta.Nsecs)/1e9,
				Data:  line.Data,
			})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Time < msgs[j].Time })
	return msgs, nil
}

// CropByTime keeps the messages recorded within [first+begin, first+begin+duration], where first
// is the earliest record time over all topics. Non-positive begin or duration leave that side
// uncropped; values beyond the recorded range fall back to the range with a warning.
func CropByTime(msgs map[string][]Message, begin, duration float64, logger logging.Logger) map[string][]Message {
	first, last := math.Inf(1), math.Inf(-1)
	for _, topicMsgs := range msgs {
		if len(topicMsgs) == 0 {
			continue
		}
		first = math.Min(first, topicMsgs[0].Time)
		last = math.Max(last, topicMsgs[len(topicMsgs)-1].Time)
	}
	if math.IsInf(first, 1) {
		return msgs
	}
	logger.Infof("source data duration: from '%.5f' to '%.5f'", first, last)

	start, end := first, last
	if begin > 0 {
		start = first + begin
		if start > last {
			logger.Warnf("begin time '%.5f' is out of the bag's data range, set begin time to '%.5f'", start, first)
			start = first
		}
	}
	if duration > 0 {
		end = start + duration
		if end > last {
			logger.Warnf("end time '%.5f' is out of the bag's data range, set end time to '%.5f'", end, last)
			end = last
		}
	}
	logger.Infof("expect data duration: from '%.5f' to '%.5f'", start, end)

	cropped := make(map[string][]Message, len(msgs))
	for topic, topicMsgs := range msgs {
		kept := make([]Message, 0, len(topicMsgs))
		for _, m := range topicMsgs {
			if m.Time >= start && m.Time <= end {
				kept = append(kept, m)
			}
		}
		cropped[topic] = kept
	}
	return cropped
}
