package fleet

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	minLimit  = 0.1
	backOffBy = 2.0
	recoverBy = 1.5
)

// hostLimiters rate limits requests to each builder host separately.
// A host answering 429 has its limit halved (once per round tripper,
// so a burst of concurrent 429s doesn't collapse it); each clean
// request lets it recover towards RPS.
type hostLimiters struct {
	rps    float64
	burst  int
	logger log.Logger

	mu      sync.Mutex
	perHost map[string]*rate.Limiter
}

func newHostLimiters(rps float64, burst int, logger log.Logger) *hostLimiters {
	return &hostLimiters{
		rps:     rps,
		burst:   burst,
		logger:  logger,
		perHost: map[string]*rate.Limiter{},
	}
}

func (l *hostLimiters) clip(limit float64) float64 {
	if limit < minLimit {
		return minLimit
	}
	if limit > l.rps {
		return l.rps
	}
	return limit
}

// limiter gives the limiter for host; l.mu must be held.
func (l *hostLimiters) limiter(host string) *rate.Limiter {
	rl, ok := l.perHost[host]
	if !ok {
		rl = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.perHost[host] = rl
	}
	return rl
}

func (l *hostLimiters) adjust(host string, by float64, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl := l.limiter(host)
	oldLimit := float64(rl.Limit())
	newLimit := l.clip(oldLimit * by)
	if newLimit != oldLimit {
		l.logger.Log("info", msg, "host", host, "limit", strconv.FormatFloat(newLimit, 'f', 2, 64))
		rl.SetLimit(rate.Limit(newLimit))
	}
}

func (l *hostLimiters) backOff(host string) {
	l.adjust(host, 1/backOffBy, "reducing rate limit")
}

// recover is called after a request to host went through without
// being told to slow down.
func (l *hostLimiters) recover(host string) {
	l.adjust(host, recoverBy, "increasing rate limit")
}

// roundTripper wraps rt so requests to host wait their turn.
func (l *hostLimiters) roundTripper(rt http.RoundTripper, host string) http.RoundTripper {
	l.mu.Lock()
	rl := l.limiter(host)
	l.mu.Unlock()

	var once sync.Once
	return &limitedRoundTripper{
		rl: rl,
		rt: rt,
		slowDown: func() {
			once.Do(func() { l.backOff(host) })
		},
	}
}

type limitedRoundTripper struct {
	rl       *rate.Limiter
	rt       http.RoundTripper
	slowDown func()
}

func (t *limitedRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	// Wait fails straight away if the context deadline would pass
	// before the request could go.
	if err := t.rl.Wait(r.Context()); err != nil {
		return nil, errors.Wrap(err, "rate limited")
	}
	resp, err := t.rt.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		t.slowDown()
	}
	return resp, nil
}
