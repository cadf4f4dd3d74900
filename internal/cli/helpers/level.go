// Package helpers provides shared CLI flag utilities.
package helpers

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// LevelFlag is a log level flag validated at parse time, so a typo
// fails the command instead of silently falling back to info.
type LevelFlag struct {
	level zerolog.Level
}

var _ pflag.Value = (*LevelFlag)(nil)

// NewLevelFlag creates a flag holding def.
func NewLevelFlag(def zerolog.Level) *LevelFlag {
	return &LevelFlag{level: def}
}

// String returns the current level name.
func (f *LevelFlag) String() string { return f.level.String() }

// Set validates and stores a level name.
func (f *LevelFlag) Set(value string) error {
	level, err := zerolog.ParseLevel(value)
	if err != nil || value == "" {
		return fmt.Errorf("invalid log level %q (use trace, debug, info, warn or error)", value)
	}
	f.level = level
	return nil
}

// Type implements pflag.Value.
func (f *LevelFlag) Type() string { return "level" }
