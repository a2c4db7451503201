package logging

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// Level orders log entries by severity.
type Level int

// Levels from least to most severe.
const (
	DEBUG Level = iota - 1
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "Debug",
	INFO:  "Info",
	WARN:  "Warn",
	ERROR: "Error",
}

func (level Level) String() string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(level))
}

// LevelFromString parses "debug", "info", "warn" (or "warning") and "error", ignoring case.
func LevelFromString(inp string) (Level, error) {
	lower := strings.ToLower(inp)
	if lower == "warning" {
		return WARN, nil
	}
	for level, name := range levelNames {
		if strings.ToLower(name) == lower {
			return level, nil
		}
	}
	return DEBUG, fmt.Errorf("unknown log level: %q", inp)
}

// AsZap returns the matching zapcore level. DEBUG, INFO, WARN and ERROR share numeric values
// with zapcore.
func (level Level) AsZap() zapcore.Level {
	return zapcore.Level(level)
}

// MarshalJSON encodes the level as its lowercase name.
func (level Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToLower(level.String()))
}

// UnmarshalJSON accepts anything LevelFromString does.
func (level *Level) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := LevelFromString(name)
	if err != nil {
		return err
	}
	*level = parsed
	return nil
}

// AtomicLevel is a Level shared between goroutines. Copies share the same value.
type AtomicLevel struct {
	val *atomic.Int32
}

// NewAtomicLevelAt returns an AtomicLevel set to initLevel.
func NewAtomicLevelAt(initLevel Level) AtomicLevel {
	level := AtomicLevel{val: &atomic.Int32{}}
	level.Set(initLevel)
	return level
}

// Set changes the level.
func (level AtomicLevel) Set(newLevel Level) {
	level.val.Store(int32(newLevel))
}

// Get returns the level.
func (level AtomicLevel) Get() Level {
	return Level(level.val.Load())
}
