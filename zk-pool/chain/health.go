package chain

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// EndpointHealth is the failure record of one endpoint.
type EndpointHealth struct {
	DisabledUntil time.Time
	FailCount     int
}

// healthBook owns endpoint cooldowns. A record outlives its cooldown by
// maxWindow so repeated rate limits escalate; the cache drops it lazily on
// read, there is no background sweeper.
type healthBook struct {
	mu        sync.Mutex
	entries   *cache.Cache
	window    time.Duration
	maxWindow time.Duration
	now       func() time.Time
}

func newHealthBook(window, maxWindow time.Duration) *healthBook {
	if maxWindow < window {
		maxWindow = window
	}
	return &healthBook{
		entries:   cache.New(cache.NoExpiration, 0),
		window:    window,
		maxWindow: maxWindow,
		now:       time.Now,
	}
}

func (b *healthBook) record(url string) (EndpointHealth, bool) {
	v, ok := b.entries.Get(url)
	if !ok {
		return EndpointHealth{}, false
	}
	return v.(EndpointHealth), true
}

// get returns the record of url and whether it is cooling down right now.
func (b *healthBook) get(url string) (EndpointHealth, bool) {
	h, ok := b.record(url)
	return h, ok && h.DisabledUntil.After(b.now())
}

func (b *healthBook) coolingDown(url string) bool {
	_, cooling := b.get(url)
	return cooling
}

// disable starts a cooldown. Every failure since the last success lengthens
// the window, up to maxWindow.
func (b *healthBook) disable(url string) EndpointHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, _ := b.record(url)
	h.FailCount++
	cooldown := b.window * time.Duration(h.FailCount)
	if cooldown > b.maxWindow {
		cooldown = b.maxWindow
	}
	h.DisabledUntil = b.now().Add(cooldown)
	b.entries.Set(url, h, cooldown+b.maxWindow)
	return h
}

func (b *healthBook) clear(url string) {
	b.entries.Delete(url)
}

// earliest returns the soonest time one of urls is usable.
func (b *healthBook) earliest(urls []string) (time.Time, bool) {
	var min time.Time
	found := false
	for _, u := range urls {
		h, cooling := b.get(u)
		if !cooling {
			return b.now(), true
		}
		if !found || h.DisabledUntil.Before(min) {
			min = h.DisabledUntil
			found = true
		}
	}
	return min, found
}

func (b *healthBook) cooling() int {
	n := 0
	for u := range b.entries.Items() {
		if b.coolingDown(u) {
			n++
		}
	}
	return n
}
