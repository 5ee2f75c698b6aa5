package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/autobrowse/pkg/detect"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(4)
	a, unsubA := bus.Subscribe()
	b, unsubB := bus.Subscribe()
	defer unsubA()
	defer unsubB()

	n := bus.Publish(Event{
		Type:    CaptchaDetected,
		URL:     "https://example.com/login",
		Captcha: detect.CaptchaInfo{Detected: true, Type: detect.CaptchaHCaptcha, Selector: ".h-captcha"},
	})
	assert.Equal(t, 2, n)

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		assert.Equal(t, CaptchaDetected, e.Type)
		assert.Equal(t, detect.CaptchaHCaptcha, e.Captcha.Type)
		assert.False(t, e.Time.IsZero(), "publish stamps the time")
	}
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(1)
	ch, unsub := bus.Subscribe()
	defer unsub()

	assert.Equal(t, 1, bus.Publish(Event{Type: PageLoaded}))
	assert.Equal(t, 0, bus.Publish(Event{Type: PageLoaded}))
	assert.Len(t, ch, 1)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(0)
	ch, unsub := bus.Subscribe()
	require.Equal(t, 1, bus.Len())

	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Len())
	assert.Equal(t, 0, bus.Publish(Event{Type: PageLoaded}))
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(2)
	ch, unsub := bus.Subscribe()

	bus.Close()
	bus.Close()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
	assert.Equal(t, 0, bus.Publish(Event{Type: SessionClosed}))
}
