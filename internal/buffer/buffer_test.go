package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWatermarksNoWindows(t *testing.T) {
	low, high := Watermarks(1000, 12, nil, nil, false, false)
	assert.Equal(t, 50, low)
	assert.Equal(t, 75, high)
}

func TestWatermarksRampDownHalves(t *testing.T) {
	rampDown := []Window{{Start: 22, End: 4}}
	low, high := Watermarks(1000, 1, rampDown, nil, true, false)
	assert.Equal(t, 25, low)
	assert.GreaterOrEqual(t, high, low)
}

func TestWatermarksRampUpMultiplies(t *testing.T) {
	rampUp := []Window{{Start: 8, End: 18}}
	low, high := Watermarks(1000, 12, nil, rampUp, false, true)
	assert.Equal(t, 75, low)
	assert.GreaterOrEqual(t, high, low)
}

func TestWatermarksRampDownTakesPrecedence(t *testing.T) {
	rampDown := []Window{{Start: 0, End: 23}}
	rampUp := []Window{{Start: 0, End: 23}}
	low, _ := Watermarks(1000, 5, rampDown, rampUp, true, true)
	assert.Equal(t, 25, low)
}

func TestWatermarksHighNeverBelowLow(t *testing.T) {
	for _, limit := range []int{1, 3, 7, 20, 1000} {
		for hour := 0; hour < 24; hour++ {
			low, high := Watermarks(limit, hour, nil, nil, false, false)
			assert.GreaterOrEqual(t, high, low)
		}
	}
}

func TestWindowWraparound(t *testing.T) {
	w := Window{Start: 22, End: 4}
	assert.True(t, w.in24(23))
	assert.True(t, w.in24(0))
	assert.True(t, w.in24(4))
	assert.False(t, w.in24(12))
}

func TestEmptyWindowsTreatedAsNoWindow(t *testing.T) {
	low, _ := Watermarks(1000, 1, []Window{}, nil, true, false)
	assert.Equal(t, 50, low)
}
