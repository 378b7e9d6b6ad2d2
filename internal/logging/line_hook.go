package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LineHook forwards every log entry as one short line to a channel, for the dashboard log view.
// Lines are dropped while the channel is full; logging never blocks on the reader.
type LineHook struct {
	lines chan<- string
}

func NewLineHook(lines chan<- string) *LineHook {
	if lines == nil {
		panic("LineHook: lines cannot be nil")
	}
	return &LineHook{lines: lines}
}

func (h *LineHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *LineHook) Fire(entry *logrus.Entry) error {
	line := fmt.Sprintf("[%s] %-5.5s %s", entry.Time.Format("15:04:05"), entry.Level.String(), entry.Message)
	for _, key := range []string{"step", "index", "status", "error"} {
		if v, ok := entry.Data[key]; ok {
			line += fmt.Sprintf(" %s=%v", key, v)
		}
	}
	select {
	case h.lines <- line + "\n":
	default:
	}
	return nil
}
