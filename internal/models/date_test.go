package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDateOfUsesOwnOffset(t *testing.T) {
	// 00:30 at +02:00 is the 5th in UTC but the 6th locally.
	loc := time.FixedZone("", 2*60*60)
	require.Equal(t, "2024-03-05", DateOf(time.Date(2024, 3, 5, 23, 30, 0, 0, loc)).String())
	require.Equal(t, "2024-03-06", DateOf(time.Date(2024, 3, 6, 0, 30, 0, 0, loc)).String())
}

func TestDateArithmetic(t *testing.T) {
	d := NewDate(2024, 2, 28)
	require.Equal(t, "2024-02-29", d.AddDays(1).String())
	require.Equal(t, "2024-03-01", d.AddDays(2).String())
	require.True(t, d.Before(d.AddDays(1)))
	require.True(t, d.AddDays(-1).Before(d))
	require.True(t, d.Equal(NewDate(2024, 2, 28)))
	require.Equal(t, 2, d.DaysUntil(d.AddDays(2)))
	require.Equal(t, 0, d.Compare(NewDate(2024, 2, 28)))
}

func TestDateScan(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2024-01-15"))
	require.Equal(t, NewDate(2024, 1, 15), d)

	require.NoError(t, d.Scan([]byte("2024-01-16")))
	require.Equal(t, NewDate(2024, 1, 16), d)

	require.NoError(t, d.Scan(time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, NewDate(2024, 1, 17), d)

	// sqlite3 may hand back a full timestamp string for DATE columns.
	require.NoError(t, d.Scan("2024-01-18T00:00:00Z"))
	require.Equal(t, NewDate(2024, 1, 18), d)

	require.Error(t, d.Scan(nil))
	require.Error(t, d.Scan(42))
	require.Error(t, d.Scan("yesterday"))
}

func TestNullDate(t *testing.T) {
	var n NullDate
	require.NoError(t, n.Scan(nil))
	require.False(t, n.Valid)
	require.Nil(t, n.Ptr())

	v, err := n.Value()
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, n.Scan("2024-05-01"))
	require.True(t, n.Valid)
	require.Equal(t, "2024-05-01", n.Ptr().String())

	d := NewDate(2024, 6, 1)
	v, err = NullDateFrom(&d).Value()
	require.NoError(t, err)
	require.Equal(t, "2024-06-01", v)
}

func TestDateJSON(t *testing.T) {
	b, err := NewDate(2024, 7, 4).MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `"2024-07-04"`, string(b))

	var d Date
	require.NoError(t, d.UnmarshalJSON([]byte(`"2024-07-05"`)))
	require.Equal(t, NewDate(2024, 7, 5), d)
}
