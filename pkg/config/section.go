package config

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Section is one [name] block of a config file. It remembers which
// options were read so CheckUnused can flag typos.
type Section struct {
	name    string
	options map[string]string

	mu   sync.RWMutex
	read map[string]bool
}

func newSection(name string, options map[string]string) *Section {
	s := &Section{
		name:    name,
		options: make(map[string]string, len(options)),
		read:    make(map[string]bool),
	}
	for k, v := range options {
		s.options[strings.ToLower(k)] = v
	}
	return s
}

// lookup returns the trimmed raw value and marks the option as read.
func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.read[key] = true
	s.mu.Unlock()
	v, ok := s.options[key]
	return strings.TrimSpace(v), ok
}

// GetUnusedOptions returns options present in the file that were never read.
func (s *Section) GetUnusedOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var unused []string
	for key := range s.options {
		if !s.read[key] {
			unused = append(unused, key)
		}
	}
	return unused
}

// getOption runs parse on the raw value. An absent option yields the first
// fallback, or a missing-option error when there is none.
func getOption[T any](s *Section, option string, parse func(string) (T, error), fallback []T) (T, error) {
	var zero T
	raw, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return zero, ErrMissingOption(s.name, option)
	}
	v, err := parse(raw)
	if err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Section, ce.Option = s.name, option
			return zero, ce
		}
		return zero, WrapError(s.name, option, err)
	}
	return v, nil
}

func invalid(raw, expected string) error {
	return ErrInvalidValue("", "", raw, expected)
}

// Get returns a string option value.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	return getOption(s, option, func(raw string) (string, error) { return raw, nil }, fallback)
}

// GetInt returns an integer option value.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	return getOption(s, option, func(raw string) (int, error) {
		i, err := strconv.Atoi(raw)
		if err != nil {
			return 0, invalid(raw, "integer")
		}
		return i, nil
	}, fallback)
}

// GetIntWithBounds is GetInt with inclusive limits; a nil limit is not
// checked. Fallback values are checked too.
func (s *Section) GetIntWithBounds(option string, minVal, maxVal *int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	switch {
	case err != nil:
		return 0, err
	case minVal != nil && v < *minVal:
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have minimum of "+strconv.Itoa(*minVal))
	case maxVal != nil && v > *maxVal:
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have maximum of "+strconv.Itoa(*maxVal))
	}
	return v, nil
}

// GetFloat returns a float64 option value.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	return getOption(s, option, func(raw string) (float64, error) {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, invalid(raw, "float")
		}
		return f, nil
	}, fallback)
}

// FloatBounds limits GetFloatWithBounds. Nil fields are not checked.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
	Below  *float64 // <
}

func (b FloatBounds) check(v float64) string {
	ff := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	switch {
	case b.MinVal != nil && v < *b.MinVal:
		return "must have minimum of " + ff(*b.MinVal)
	case b.MaxVal != nil && v > *b.MaxVal:
		return "must have maximum of " + ff(*b.MaxVal)
	case b.Above != nil && v <= *b.Above:
		return "must be above " + ff(*b.Above)
	case b.Below != nil && v >= *b.Below:
		return "must be below " + ff(*b.Below)
	}
	return ""
}

// GetFloatWithBounds is GetFloat with range checking.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	if msg := bounds.check(v); msg != "" {
		return 0, ErrOutOfRange(s.name, option, v, msg)
	}
	return v, nil
}

// GetDuration reads a non-negative number of seconds, fractions allowed.
func (s *Section) GetDuration(option string, fallback ...time.Duration) (time.Duration, error) {
	var fb []float64
	if len(fallback) > 0 {
		fb = append(fb, fallback[0].Seconds())
	}
	zero := 0.0
	secs, err := s.GetFloatWithBounds(option, FloatBounds{MinVal: &zero}, fb...)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// GetBool accepts 1/true/yes/on and 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	return getOption(s, option, func(raw string) (bool, error) {
		switch strings.ToLower(raw) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		}
		return false, invalid(raw, "boolean (true/false/yes/no/on/off/1/0)")
	}, fallback)
}

// GetChoice returns a string option that must match one of choices,
// ignoring case. The canonical spelling from choices is returned.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", ErrInvalidChoice(s.name, option, v, choices)
}

// GetList splits the value on sep, dropping empty items.
func (s *Section) GetList(option string, sep string, fallback ...[]string) ([]string, error) {
	return getOption(s, option, func(raw string) ([]string, error) {
		items := []string{}
		for _, p := range strings.Split(raw, sep) {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items, nil
	}, fallback)
}
