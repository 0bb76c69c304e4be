// Package httppool provides round-robin proxy rotation for outbound venue
// HTTP calls. The venue blocks certain geolocations, so CLOB/Gamma/Data-API
// requests are routed through rotating proxies while internal calls (price
// feeds, relayer, storage HTTP) use the direct client (grounded on
// original_source/engine/src/proxy.rs's HttpPool).
package httppool

import (
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// Pool holds one direct resty client plus one client per configured proxy
// URL, so each proxied connection egresses through a distinct address.
type Pool struct {
	direct  *resty.Client
	proxied []*resty.Client
	counter atomic.Uint64
}

// New builds a pool from a list of proxy URLs. If proxyURLs is empty,
// Proxied falls back to the direct client.
func New(proxyURLs []string, timeout time.Duration) (*Pool, error) {
	p := &Pool{
		direct:  resty.New().SetTimeout(timeout),
		proxied: make([]*resty.Client, 0, len(proxyURLs)),
	}
	for _, raw := range proxyURLs {
		if _, err := url.Parse(raw); err != nil {
			return nil, fmt.Errorf("invalid proxy URL %s: %w", raw, err)
		}
		p.proxied = append(p.proxied, resty.New().SetTimeout(timeout).SetProxy(raw))
	}
	return p, nil
}

// Proxied returns the next client in round-robin order, falling back to
// the direct client when no proxies are configured.
func (p *Pool) Proxied() *resty.Client {
	if len(p.proxied) == 0 {
		return p.direct
	}
	idx := p.counter.Add(1) - 1
	return p.proxied[idx%uint64(len(p.proxied))]
}

// Direct returns the non-proxied client, for internal or non-geoblocked calls.
func (p *Pool) Direct() *resty.Client {
	return p.direct
}

// ProxyCount returns the number of proxies in the pool.
func (p *Pool) ProxyCount() int {
	return len(p.proxied)
}
