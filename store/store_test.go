package store

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polarityio/dataminr-pulse-limited/model"
)

func alert(id string, ts int64, alertType string) model.Alert {
	return model.Alert{
		AlertID:        id,
		AlertTimestamp: ts,
		AlertType:      model.AlertType{Name: alertType},
	}
}

func TestAdd_AdmissionIdempotence(t *testing.T) {
	s := New(100, 0, nil, nil)

	added1, total1 := s.Add([]model.Alert{alert("A", 1, "flash")})
	added2, total2 := s.Add([]model.Alert{alert("A", 1, "flash")})

	assert.Equal(t, 1, added1)
	assert.Equal(t, 1, total1)
	assert.Equal(t, 0, added2, "duplicate alertId must be discarded (first-write-wins)")
	assert.Equal(t, 1, total2)
}

func TestAdd_OrderingDescendingByTimestamp(t *testing.T) {
	s := New(100, 0, nil, nil)
	s.Add([]model.Alert{alert("A", 1, "flash")})
	s.Add([]model.Alert{alert("C", 3, "flash")})
	s.Add([]model.Alert{alert("B", 2, "flash")})

	all := s.GetAll(nil, nil, nil)
	require.Len(t, all, 3)
	assert.Equal(t, "C", all[0].AlertID)
	assert.Equal(t, "B", all[1].AlertID)
	assert.Equal(t, "A", all[2].AlertID)
}

func TestAdd_EvictionUnderPressure(t *testing.T) {
	s := New(3, 0, nil, nil)
	for i := int64(1); i <= 5; i++ {
		s.Add([]model.Alert{alert(strconv.FormatInt(i, 10), i, "flash")})
	}

	all := s.GetAll(nil, nil, nil)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"5", "4", "3"}, []string{all[0].AlertID, all[1].AlertID, all[2].AlertID})

	_, ok := s.GetByID("2")
	assert.False(t, ok)
	_, ok = s.GetByID("1")
	assert.False(t, ok)
}

func TestAdd_TypeFilterAdmission(t *testing.T) {
	s := New(100, 0, []string{"flash", "urgent"}, nil)

	s.Add([]model.Alert{
		alert("A", 1, "Alert"),
		alert("B", 2, "flash"),
	})

	_, okA := s.GetByID("A")
	bAlert, okB := s.GetByID("B")
	assert.False(t, okA)
	assert.True(t, okB)
	assert.Equal(t, "B", bAlert.AlertID)
}

func TestAdd_AgeBound(t *testing.T) {
	s := New(100, 1000, nil, nil)
	now := time.Now().UnixMilli()

	s.Add([]model.Alert{alert("old", now-5000, "flash")})
	s.Add([]model.Alert{alert("new", now, "flash")})

	all := s.GetAll(nil, nil, nil)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].AlertID)
}

func TestGetAll_SinceTimestampFilter(t *testing.T) {
	s := New(100, 0, nil, nil)
	s.Add([]model.Alert{alert("A", 10, "flash"), alert("B", 20, "flash")})

	since := int64(10)
	all := s.GetAll(&since, nil, nil)
	require.Len(t, all, 1)
	assert.Equal(t, "B", all[0].AlertID)
}

func TestSetLists_NeverClearsToEmpty(t *testing.T) {
	s := New(100, 0, nil, nil)
	s.SetLists([]model.List{{ID: "1", Name: "first"}})
	s.SetLists(nil)

	lists := s.Lists()
	require.Len(t, lists, 1)
	assert.Equal(t, "1", lists[0].ID)
}

func TestClear_DropsSequenceAndMapping(t *testing.T) {
	s := New(100, 0, nil, nil)
	s.Add([]model.Alert{alert("A", 1, "flash")})
	s.Clear()

	assert.Equal(t, 0, s.Len())
	_, ok := s.GetByID("A")
	assert.False(t, ok)
}
