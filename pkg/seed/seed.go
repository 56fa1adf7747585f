// Package seed loads an initial catalog of handlers, timers, and
// schedules from a YAML file at startup.
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shevd/shev/pkg/log"
	"github.com/shevd/shev/pkg/store"
	"github.com/shevd/shev/pkg/types"
)

// File is the top-level seed document
type File struct {
	Handlers  []HandlerSpec  `yaml:"handlers"`
	Timers    []TimerSpec    `yaml:"timers"`
	Schedules []ScheduleSpec `yaml:"schedules"`
}

// HandlerSpec describes one handler entry
type HandlerSpec struct {
	EventType string            `yaml:"event_type"`
	Shell     string            `yaml:"shell"`
	Command   string            `yaml:"command"`
	Timeout   *int              `yaml:"timeout"`
	Env       map[string]string `yaml:"env"`
}

// TimerSpec describes one timer entry
type TimerSpec struct {
	EventType    string `yaml:"event_type"`
	Context      string `yaml:"context"`
	IntervalSecs int    `yaml:"interval_secs"`
}

// ScheduleSpec describes one schedule entry. ScheduledTime is RFC 3339.
type ScheduleSpec struct {
	EventType     string `yaml:"event_type"`
	Context       string `yaml:"context"`
	ScheduledTime string `yaml:"scheduled_time"`
	Periodic      bool   `yaml:"periodic"`
}

// Load parses a seed file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &f, nil
}

// Apply upserts every seed entry into the store. Any invalid entry
// aborts with an error so a bad seed file fails startup loudly.
func Apply(ctx context.Context, s *store.JobStore, f *File) error {
	logger := log.WithComponent("seed")

	for _, h := range f.Handlers {
		shell, err := types.ParseShell(h.Shell)
		if err != nil {
			return fmt.Errorf("handler %q: %w", h.EventType, err)
		}
		if _, err := s.CreateHandler(ctx, h.EventType, shell, h.Command, h.Timeout, h.Env); err != nil {
			return fmt.Errorf("handler %q: %w", h.EventType, err)
		}
		logger.Info().Str("event_type", h.EventType).Msg("seeded handler")
	}

	for _, t := range f.Timers {
		if _, err := s.CreateTimer(ctx, t.EventType, t.Context, t.IntervalSecs); err != nil {
			return fmt.Errorf("timer %q: %w", t.EventType, err)
		}
		logger.Info().Str("event_type", t.EventType).Int("interval_secs", t.IntervalSecs).Msg("seeded timer")
	}

	for _, sc := range f.Schedules {
		at, err := time.Parse(time.RFC3339, sc.ScheduledTime)
		if err != nil {
			return fmt.Errorf("schedule %q: invalid scheduled_time: %w", sc.EventType, err)
		}
		if _, err := s.CreateSchedule(ctx, sc.EventType, sc.Context, at, sc.Periodic); err != nil {
			return fmt.Errorf("schedule %q: %w", sc.EventType, err)
		}
		logger.Info().Str("event_type", sc.EventType).Bool("periodic", sc.Periodic).Msg("seeded schedule")
	}

	return nil
}
