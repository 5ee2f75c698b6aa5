package human

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
	"unicode"
)

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X, Y float64
}

// Box is an element's bounding box in viewport coordinates.
type Box struct {
	X, Y, Width, Height float64
}

// Center returns the midpoint of the box.
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Contains reports whether p lies inside the box, edges included.
func (b Box) Contains(p Point) bool {
	return p.X >= b.X && p.X <= b.X+b.Width && p.Y >= b.Y && p.Y <= b.Y+b.Height
}

// Pointer moves the mouse and scrolls the page.
type Pointer interface {
	MoveMouse(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, dx, dy float64) error
}

// Keyboard sends text and named keys to the focused element.
type Keyboard interface {
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
}

// KeyBackspace is the key name passed to Keyboard.PressKey to undo a typo.
const KeyBackspace = "Backspace"

// Simulator produces human-like input. It tracks the last known mouse
// position so consecutive moves start where the previous one ended.
type Simulator struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
	pos Point
}

// New creates a simulator seeded from the clock.
func New(cfg Config) *Simulator {
	return NewSeeded(cfg, time.Now().UnixNano())
}

// NewSeeded creates a simulator with a fixed seed for reproducible runs.
func NewSeeded(cfg Config, seed int64) *Simulator {
	if cfg.MouseSteps < 1 {
		cfg.MouseSteps = 1
	}
	return &Simulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Config returns the simulator's configuration.
func (s *Simulator) Config() Config {
	return s.cfg
}

// Position returns the last mouse position sent through the simulator.
func (s *Simulator) Position() Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// EaseInOutCubic maps t in [0,1] onto a cubic ease-in-out curve.
func EaseInOutCubic(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	case t < 0.5:
		return 4 * t * t * t
	default:
		return 1 - math.Pow(-2*t+2, 3)/2
	}
}

// Path returns the intermediate points of an eased move from from to to.
// The start point is excluded; the last point is always to.
func Path(from, to Point, steps int) []Point {
	if steps < 1 {
		steps = 1
	}
	points := make([]Point, steps)
	for i := 1; i <= steps; i++ {
		e := EaseInOutCubic(float64(i) / float64(steps))
		points[i-1] = Point{
			X: from.X + (to.X-from.X)*e,
			Y: from.Y + (to.Y-from.Y)*e,
		}
	}
	points[steps-1] = to
	return points
}

// MoveTo moves the pointer along an eased path ending at to, pausing a
// random step delay between points.
func (s *Simulator) MoveTo(ctx context.Context, p Pointer, to Point) error {
	for _, pt := range Path(s.Position(), to, s.cfg.MouseSteps) {
		if err := p.MoveMouse(ctx, pt.X, pt.Y); err != nil {
			return err
		}
		s.mu.Lock()
		s.pos = pt
		s.mu.Unlock()
		if err := Sleep(ctx, s.between(s.cfg.StepDelayMin, s.cfg.StepDelayMax)); err != nil {
			return err
		}
	}
	return nil
}

// ClickPoint picks a click position near the centre of b. The offset is at
// most a third of each dimension, capped at 20px horizontally and 10px
// vertically.
func (s *Simulator) ClickPoint(b Box) Point {
	c := b.Center()
	maxX := math.Min(b.Width/3, 20)
	maxY := math.Min(b.Height/3, 10)

	s.mu.Lock()
	defer s.mu.Unlock()
	return Point{
		X: c.X + (s.rng.Float64()*2-1)*maxX,
		Y: c.Y + (s.rng.Float64()*2-1)*maxY,
	}
}

// TypingDelay returns a per-character delay uniform in
// [TypeDelayMin, TypeDelayMax], scaled by the speed multiplier.
func (s *Simulator) TypingDelay() time.Duration {
	return s.between(s.cfg.TypeDelayMin, s.cfg.TypeDelayMax)
}

// ThinkPause returns a thinking pause with probability ThinkProbability,
// zero otherwise.
func (s *Simulator) ThinkPause() time.Duration {
	if !s.chance(s.cfg.ThinkProbability) {
		return 0
	}
	return s.between(s.cfg.ThinkMin, s.cfg.ThinkMax)
}

// Type sends text one character at a time with human cadence.
func (s *Simulator) Type(ctx context.Context, kb Keyboard, text string) error {
	runes := []rune(text)
	for i, r := range runes {
		if unicode.IsLetter(r) && s.chance(s.cfg.TypoProbability) {
			if err := s.typo(ctx, kb, r); err != nil {
				return err
			}
		}

		if err := kb.TypeText(ctx, string(r)); err != nil {
			return err
		}
		if err := Sleep(ctx, s.TypingDelay()); err != nil {
			return err
		}

		if i < len(runes)-1 {
			if err := Sleep(ctx, s.ThinkPause()); err != nil {
				return err
			}
		}
	}
	return nil
}

// typo types a neighbouring key, pauses and deletes it.
func (s *Simulator) typo(ctx context.Context, kb Keyboard, r rune) error {
	wrong := s.nearbyKey(r)
	if wrong == r {
		return nil
	}
	if err := kb.TypeText(ctx, string(wrong)); err != nil {
		return err
	}
	if err := Sleep(ctx, s.between(200*time.Millisecond, 400*time.Millisecond)); err != nil {
		return err
	}
	if err := kb.PressKey(ctx, KeyBackspace); err != nil {
		return err
	}
	return Sleep(ctx, s.TypingDelay())
}

var keyboardNeighbours = map[rune]string{
	'a': "sqwz", 'b': "vghn", 'c': "xdfv", 'd': "erfcxs",
	'e': "rdsw", 'f': "rtgvcd", 'g': "tyhbvf", 'h': "yujnbg",
	'i': "uojk", 'j': "uikmnh", 'k': "ioljm", 'l': "opk",
	'm': "njk", 'n': "bhjm", 'o': "iplk", 'p': "ol",
	'q': "wa", 'r': "etdf", 's': "wedxza", 't': "ryfg",
	'u': "yihj", 'v': "cfgb", 'w': "qeas", 'x': "zsdc",
	'y': "tugh", 'z': "asx",
}

func (s *Simulator) nearbyKey(r rune) rune {
	neighbours, ok := keyboardNeighbours[unicode.ToLower(r)]
	if !ok {
		return r
	}
	s.mu.Lock()
	wrong := rune(neighbours[s.rng.Intn(len(neighbours))])
	s.mu.Unlock()
	if unicode.IsUpper(r) {
		return unicode.ToUpper(wrong)
	}
	return wrong
}

// Idle performs random mouse moves and smooth scrolls inside viewport until
// budget is spent or IdleMaxActions actions have been made. Running out of
// budget is not an error.
func (s *Simulator) Idle(ctx context.Context, p Pointer, budget time.Duration, viewport Box) error {
	if budget <= 0 || s.cfg.IdleMaxActions <= 0 {
		return nil
	}
	idleCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var err error
	for n := 0; n < s.cfg.IdleMaxActions && err == nil; n++ {
		if s.chance(0.6) {
			err = s.MoveTo(idleCtx, p, s.randomPoint(viewport))
		} else {
			err = s.smoothScroll(idleCtx, p, s.scrollDistance())
		}
		if err == nil {
			err = Sleep(idleCtx, s.between(200*time.Millisecond, 800*time.Millisecond))
		}
	}

	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// smoothScroll splits distance into small wheel increments.
func (s *Simulator) smoothScroll(ctx context.Context, p Pointer, distance float64) error {
	direction := 1.0
	if distance < 0 {
		direction = -1
	}
	remaining := math.Abs(distance)
	for remaining > 0 {
		step := math.Min(remaining, 50+s.float()*150)
		if err := p.Scroll(ctx, 0, step*direction); err != nil {
			return err
		}
		remaining -= step
		if err := Sleep(ctx, s.between(50*time.Millisecond, 200*time.Millisecond)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) scrollDistance() float64 {
	d := 100 + s.float()*400
	if s.chance(0.3) {
		return -d
	}
	return d
}

func (s *Simulator) randomPoint(b Box) Point {
	return Point{X: b.X + s.float()*b.Width, Y: b.Y + s.float()*b.Height}
}

// between returns a uniform duration in [lo, hi] scaled by the speed
// multiplier.
func (s *Simulator) between(lo, hi time.Duration) time.Duration {
	d := lo
	if hi > lo {
		d += time.Duration(s.float() * float64(hi-lo))
	}
	return time.Duration(float64(d) * s.cfg.SpeedMultiplier())
}

func (s *Simulator) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	return s.float() < p
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Sleep pauses for d, returning early with the context error on
// cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
