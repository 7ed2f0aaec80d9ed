package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as "250ms" or "5m" in yaml.
// An empty value, such as an unset ${VAR}, decodes as zero.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("couldn't parse duration %q: %w", s, err)
	}
	if duration < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
