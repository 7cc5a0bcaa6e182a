package jira

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// TimestampLayout is how Jira renders created and resolutiondate.
const TimestampLayout = "2006-01-02T15:04:05.000-0700"

// Issue keeps the raw "fields" object; values are read through the
// accessors below so optional fields are explicit rather than zero values.
type Issue struct {
	Key    string          `json:"key"`
	Fields json.RawMessage `json:"fields"`
}

func (i Issue) field(path string) gjson.Result {
	return gjson.GetBytes(i.Fields, path)
}

func (i Issue) Summary() string {
	return i.field("summary").String()
}

func (i Issue) StatusName() string {
	return i.field("status.name").String()
}

// Created returns the creation timestamp. It is required.
func (i Issue) Created() (time.Time, error) {
	v := i.field("created")
	if !v.Exists() || v.Type == gjson.Null {
		return time.Time{}, fmt.Errorf("issue %s: created is missing", i.Key)
	}
	t, err := ParseTimestamp(v.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("issue %s: created: %w", i.Key, err)
	}
	return t, nil
}

// ResolutionDate returns the resolution timestamp and whether it is set.
func (i Issue) ResolutionDate() (time.Time, bool, error) {
	v := i.field("resolutiondate")
	if !v.Exists() || v.Type == gjson.Null || v.String() == "" {
		return time.Time{}, false, nil
	}
	t, err := ParseTimestamp(v.String())
	if err != nil {
		return time.Time{}, false, fmt.Errorf("issue %s: resolutiondate: %w", i.Key, err)
	}
	return t, true, nil
}

// OptionValues reads a select-list custom field. Multi-select fields are
// arrays of {"value": ...}; single-select fields are a bare object. The
// second result is false when the field is absent, null or empty.
func (i Issue) OptionValues(field string) ([]string, bool) {
	v := i.field(gjson.Escape(field))
	if !v.Exists() || v.Type == gjson.Null {
		return nil, false
	}

	var values []string
	add := func(r gjson.Result) {
		switch {
		case r.IsObject():
			if s := r.Get("value").String(); s != "" {
				values = append(values, s)
			} else if s := r.Get("name").String(); s != "" {
				values = append(values, s)
			}
		case r.Type == gjson.String && r.String() != "":
			values = append(values, r.String())
		}
	}

	if v.IsArray() {
		v.ForEach(func(_, r gjson.Result) bool {
			add(r)
			return true
		})
	} else {
		add(v)
	}

	if len(values) == 0 {
		return nil, false
	}
	return values, true
}

// ParseTimestamp accepts Jira's own layout and RFC 3339.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unexpected timestamp %q", s)
	}
	return t, nil
}
