package cli

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// levelValue is a pflag.Value holding a zerolog level.
type levelValue struct {
	level zerolog.Level
	set   bool
}

var _ pflag.Value = (*levelValue)(nil)

func newLevelValue(def string) *levelValue {
	v := &levelValue{level: zerolog.InfoLevel}
	if def != "" {
		_ = v.Set(def)
		v.set = false
	}
	return v
}

func (v *levelValue) String() string {
	return v.level.String()
}

func (v *levelValue) Set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return fmt.Errorf("unknown log level %q", s)
	}
	v.level = level
	v.set = true
	return nil
}

func (v *levelValue) Type() string {
	return "level"
}
