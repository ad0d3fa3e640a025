// Package models defines the wire payloads exchanged with the REST API and
// the gateway.
package models

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Epoch is the first second of 2015, the zero point of snowflake timestamps.
const Epoch = 1420070400000

// Snowflake is a 64-bit entity id. The platform transmits ids as decimal
// strings; numeric literals are accepted too.
type Snowflake uint64

// ParseSnowflake parses a decimal id.
func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// Time returns the creation time encoded in the id.
func (s Snowflake) Time() time.Time {
	ms := int64(s>>22) + Epoch
	return time.UnixMilli(ms)
}

// IsZero reports whether the id is unset.
func (s Snowflake) IsZero() bool { return s == 0 }

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	v, err := unmarshalUint(b)
	if err != nil {
		return fmt.Errorf("snowflake: %w", err)
	}
	*s = Snowflake(v)
	return nil
}

// Permissions is a permission bit set, transmitted as a decimal string.
type Permissions uint64

// Has reports whether every bit in p2 is set.
func (p Permissions) Has(p2 Permissions) bool { return p&p2 == p2 }

func (p Permissions) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(p), 10))), nil
}

func (p *Permissions) UnmarshalJSON(b []byte) error {
	v, err := unmarshalUint(b)
	if err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	*p = Permissions(v)
	return nil
}

// unmarshalUint accepts "123", 123 and null.
func unmarshalUint(b []byte) (uint64, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return 0, nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		return strconv.ParseUint(s, 10, 64)
	}
	return strconv.ParseUint(string(b), 10, 64)
}
