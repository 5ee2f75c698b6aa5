package human

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	moves   []Point
	scrolls []float64
	typed   []string
	keys    []string
}

func (r *recorder) MoveMouse(_ context.Context, x, y float64) error {
	r.moves = append(r.moves, Point{X: x, Y: y})
	return nil
}

func (r *recorder) Scroll(_ context.Context, _, dy float64) error {
	r.scrolls = append(r.scrolls, dy)
	return nil
}

func (r *recorder) TypeText(_ context.Context, text string) error {
	r.typed = append(r.typed, text)
	return nil
}

func (r *recorder) PressKey(_ context.Context, key string) error {
	r.keys = append(r.keys, key)
	if key == KeyBackspace && len(r.typed) > 0 {
		r.typed = r.typed[:len(r.typed)-1]
	}
	return nil
}

// instant has all delays removed so tests run quickly.
func instant() Config {
	cfg := DefaultConfig()
	cfg.StepDelayMin, cfg.StepDelayMax = 0, 0
	cfg.TypeDelayMin, cfg.TypeDelayMax = 0, 0
	cfg.ThinkMin, cfg.ThinkMax = 0, 0
	return cfg
}

func TestEaseInOutCubic(t *testing.T) {
	assert.Equal(t, 0.0, EaseInOutCubic(0))
	assert.Equal(t, 1.0, EaseInOutCubic(1))
	assert.InDelta(t, 0.5, EaseInOutCubic(0.5), 1e-9)
	assert.Equal(t, 0.0, EaseInOutCubic(-1))
	assert.Equal(t, 1.0, EaseInOutCubic(2))

	prev := 0.0
	for i := 1; i <= 100; i++ {
		v := EaseInOutCubic(float64(i) / 100)
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func TestPath(t *testing.T) {
	from, to := Point{X: 0, Y: 100}, Point{X: 200, Y: 100}
	path := Path(from, to, 10)

	require.Len(t, path, 10)
	assert.Equal(t, to, path[len(path)-1])
	for i := 1; i < len(path); i++ {
		assert.GreaterOrEqual(t, path[i].X, path[i-1].X)
		assert.Equal(t, 100.0, path[i].Y)
	}
	// Eased: the first step covers less ground than the middle one.
	assert.Less(t, path[0].X-from.X, path[5].X-path[4].X)
}

func TestPath_MinimumOneStep(t *testing.T) {
	path := Path(Point{}, Point{X: 5, Y: 5}, 0)
	assert.Equal(t, []Point{{X: 5, Y: 5}}, path)
}

func TestSimulator_MoveTo(t *testing.T) {
	cfg := instant()
	cfg.MouseSteps = 15
	sim := NewSeeded(cfg, 1)
	rec := &recorder{}

	require.NoError(t, sim.MoveTo(context.Background(), rec, Point{X: 300, Y: 40}))

	assert.Len(t, rec.moves, 15)
	assert.Equal(t, Point{X: 300, Y: 40}, sim.Position())

	require.NoError(t, sim.MoveTo(context.Background(), rec, Point{X: 10, Y: 10}))
	// The second move starts from the previous end point.
	assert.Less(t, rec.moves[15].X, 300.0)
	assert.Greater(t, rec.moves[15].X, 10.0)
}

func TestSimulator_ClickPointInsideBox(t *testing.T) {
	sim := NewSeeded(instant(), 7)
	box := Box{X: 100, Y: 200, Width: 120, Height: 30}

	for i := 0; i < 200; i++ {
		p := sim.ClickPoint(box)
		assert.True(t, box.Contains(p), "point %v outside %v", p, box)
		assert.LessOrEqual(t, abs(p.X-box.Center().X), 20.0)
		assert.LessOrEqual(t, abs(p.Y-box.Center().Y), 10.0)
	}
}

func TestSimulator_TypingDelayRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TypeDelayMin = 40 * time.Millisecond
	cfg.TypeDelayMax = 90 * time.Millisecond

	tests := []struct {
		speed  string
		lo, hi time.Duration
	}{
		{SpeedNormal, 40 * time.Millisecond, 90 * time.Millisecond},
		{SpeedFast, 20 * time.Millisecond, 45 * time.Millisecond},
		{SpeedSlow, 60 * time.Millisecond, 135 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.speed, func(t *testing.T) {
			cfg.Speed = tt.speed
			sim := NewSeeded(cfg, 3)
			for i := 0; i < 100; i++ {
				d := sim.TypingDelay()
				assert.GreaterOrEqual(t, d, tt.lo)
				assert.LessOrEqual(t, d, tt.hi)
			}
		})
	}
}

func TestSimulator_ThinkPauseProbability(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThinkProbability = 0.1
	sim := NewSeeded(cfg, 42)

	pauses := 0
	const n = 5000
	for i := 0; i < n; i++ {
		if sim.ThinkPause() > 0 {
			pauses++
		}
	}
	assert.InDelta(t, 0.1, float64(pauses)/n, 0.03)

	cfg.ThinkProbability = 0
	assert.Zero(t, NewSeeded(cfg, 1).ThinkPause())
}

func TestSimulator_Type(t *testing.T) {
	sim := NewSeeded(instant(), 5)
	rec := &recorder{}

	require.NoError(t, sim.Type(context.Background(), rec, "hunter2!"))

	assert.Equal(t, "hunter2!", strings.Join(rec.typed, ""))
	assert.Len(t, rec.typed, 8)
	assert.Empty(t, rec.keys)
}

func TestSimulator_TypeWithTyposCorrects(t *testing.T) {
	cfg := instant()
	cfg.TypoProbability = 1
	cfg.Speed = SpeedFast
	sim := NewSeeded(cfg, 9)
	rec := &recorder{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sim.Type(ctx, rec, "Ab1"))

	// Two letters, each typed wrong once and then corrected.
	assert.Equal(t, []string{KeyBackspace, KeyBackspace}, rec.keys)
	assert.Equal(t, "Ab1", strings.Join(rec.typed, ""))
}

func TestSimulator_IdleRespectsBounds(t *testing.T) {
	cfg := instant()
	cfg.IdleMaxActions = 3
	cfg.Speed = SpeedFast
	sim := NewSeeded(cfg, 11)
	rec := &recorder{}
	viewport := Box{Width: 1280, Height: 720}

	budget := 3 * time.Second
	start := time.Now()
	require.NoError(t, sim.Idle(context.Background(), rec, budget, viewport))

	assert.Less(t, time.Since(start), budget+500*time.Millisecond)
	for _, m := range rec.moves {
		assert.True(t, viewport.Contains(m), "move %v outside viewport", m)
	}
	assert.True(t, len(rec.moves) > 0 || len(rec.scrolls) > 0)
}

func TestSimulator_IdleBudgetExhaustionIsNotAnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleMaxActions = 1000
	sim := NewSeeded(cfg, 2)

	err := sim.Idle(context.Background(), &recorder{}, 50*time.Millisecond, Box{Width: 800, Height: 600})
	assert.NoError(t, err)
}

func TestSimulator_IdleParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewSeeded(DefaultConfig(), 2).Idle(ctx, &recorder{}, time.Second, Box{Width: 800, Height: 600})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestConfig_SpeedMultiplier(t *testing.T) {
	assert.Equal(t, 0.5, Config{Speed: SpeedFast}.SpeedMultiplier())
	assert.Equal(t, 1.0, Config{Speed: SpeedNormal}.SpeedMultiplier())
	assert.Equal(t, 1.5, Config{Speed: SpeedSlow}.SpeedMultiplier())
	assert.Equal(t, 1.0, Config{}.SpeedMultiplier())
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
