package jira

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func issue(fields string) Issue {
	return Issue{Key: "KAS-1", Fields: []byte(fields)}
}

func TestIssueAccessors(t *testing.T) {
	i := issue(`{
		"summary": "VPN down",
		"status": {"name": "In Progress"},
		"created": "2024-03-05T23:10:00.000+0100",
		"resolutiondate": "2024-03-07T08:00:00.000+0100"
	}`)

	require.Equal(t, "VPN down", i.Summary())
	require.Equal(t, "In Progress", i.StatusName())

	created, err := i.Created()
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 5, 22, 10, 0, 0, time.UTC), created.UTC())
	// the calendar day stays in the issue's own offset
	require.Equal(t, 5, created.Day())

	resolved, ok, err := i.ResolutionDate()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, resolved.Day())
}

func TestResolutionDateAbsent(t *testing.T) {
	for _, fields := range []string{`{}`, `{"resolutiondate": null}`, `{"resolutiondate": ""}`} {
		_, ok, err := issue(fields).ResolutionDate()
		require.NoError(t, err, fields)
		require.False(t, ok, fields)
	}
}

func TestTimestampErrors(t *testing.T) {
	_, err := issue(`{}`).Created()
	require.Error(t, err)

	_, err = issue(`{"created": "05.03.2024"}`).Created()
	require.Error(t, err)

	_, _, err = issue(`{"resolutiondate": "tomorrow"}`).ResolutionDate()
	require.Error(t, err)

	ts, err := ParseTimestamp("2024-03-05T10:00:00Z")
	require.NoError(t, err)
	require.Equal(t, 10, ts.Hour())
}

func TestOptionValues(t *testing.T) {
	cases := []struct {
		name   string
		fields string
		want   []string
		ok     bool
	}{
		{"absent", `{}`, nil, false},
		{"null", `{"customfield_10159": null}`, nil, false},
		{"empty", `{"customfield_10159": []}`, nil, false},
		{"multi", `{"customfield_10159": [{"id":"1","value":"Network"},{"id":"2","value":"Printer"}]}`, []string{"Network", "Printer"}, true},
		{"single", `{"customfield_10159": {"value":"Network"}}`, []string{"Network"}, true},
		{"strings", `{"customfield_10159": ["a", "b"]}`, []string{"a", "b"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := issue(tc.fields).OptionValues("customfield_10159")
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}
