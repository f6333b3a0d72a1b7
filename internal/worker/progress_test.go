package worker

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/MeKo-Tech/spectralnoise/internal/library"
	"github.com/MeKo-Tech/spectralnoise/internal/noise"
	"github.com/stretchr/testify/assert"
)

func resultFor(width, height int, err error) Result {
	return Result{
		Task: Task{Key: library.Key{Params: noise.Params{Color: noise.White, Width: width, Height: height}}},
		Err:  err,
	}
}

func TestProgress_Update(t *testing.T) {
	p := NewProgress(10, false)

	p.Update(resultFor(1000, 1000, nil), 5, 10, 0)
	p.Update(resultFor(1000, 1000, errors.New("boom")), 6, 10, 1)

	assert.Equal(t, 6, p.completed)
	assert.Equal(t, 10, p.total)
	assert.Equal(t, 1, p.failed)
	assert.Equal(t, int64(1_000_000), p.pixels, "failed textures do not count towards throughput")
}

func TestProgress_Print(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(10, true)
	p.output = &buf
	p.startTime = time.Now().Add(-10 * time.Second)

	p.Update(resultFor(2000, 1000, nil), 5, 10, 1)

	out := buf.String()
	assert.Contains(t, out, "█")
	assert.Contains(t, out, "5/10 textures")
	assert.Contains(t, out, "(1 failed)")
	assert.Contains(t, out, "Mpx/s")
	assert.Contains(t, out, "ETA:")
}

func TestProgress_Done(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(3, true)
	p.output = &buf
	p.startTime = time.Now().Add(-3 * time.Second)

	p.Update(resultFor(8, 8, nil), 3, 3, 0)
	buf.Reset()

	p.Done()

	assert.Contains(t, buf.String(), "Done in")
	assert.NotContains(t, buf.String(), "ETA:")
	assert.Equal(t, byte('\n'), buf.Bytes()[buf.Len()-1])
}

func TestProgress_Summary(t *testing.T) {
	p := NewProgress(10, false)
	p.startTime = time.Now().Add(-10 * time.Second)

	p.Update(resultFor(8, 8, nil), 10, 10, 2)

	summary := p.Summary()
	assert.Contains(t, summary, "8/10 textures")
	assert.Contains(t, summary, "2 failed")
}

func TestProgress_Disabled(t *testing.T) {
	var buf bytes.Buffer

	p := NewProgress(10, false)
	p.output = &buf
	p.Update(resultFor(8, 8, nil), 5, 10, 0)

	assert.Zero(t, buf.Len())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		expected string
		duration time.Duration
	}{
		{duration: 30 * time.Second, expected: "30s"},
		{duration: 90 * time.Second, expected: "1m30s"},
		{duration: 5 * time.Minute, expected: "5m0s"},
		{duration: 65 * time.Minute, expected: "1h5m"},
		{duration: 2*time.Hour + 30*time.Minute, expected: "2h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
