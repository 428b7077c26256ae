// Package steam implements the authenticated web client for one account:
// credential login, session cookie management, pending confirmations and
// trade offers.
package steam

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sdabot/internal/domain"
	"sdabot/internal/proxy"
)

const (
	defaultCommunityURL = "https://steamcommunity.com"
	defaultLoginURL     = "https://login.steampowered.com"
	defaultAPIURL       = "https://api.steampowered.com"
	defaultStoreURL     = "https://store.steampowered.com"

	userAgent = "Mozilla/5.0 (Linux; Android 12) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Mobile Safari/537.36"
)

// Client talks to the platform on behalf of a single account. All request
// methods apply the shared pacing delay and rotate through the proxy pool
// on transport failures and rate limits.
type Client struct {
	account domain.Account
	log     *zap.Logger

	httpClient *http.Client
	jar        http.CookieJar

	proxies  *proxy.Pool
	proxyTTL time.Duration

	minDelay     time.Duration
	retryDelay   time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu           sync.Mutex
	currentProxy *url.URL
	lastRequest  time.Time

	communityURL string
	loginURL     string
	apiURL       string
	storeURL     string
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithProxies routes requests through the pool, banning a proxy for banFor
// after a transport failure or rate limit.
func WithProxies(pool *proxy.Pool, banFor time.Duration) Option {
	return func(c *Client) {
		c.proxies = pool
		c.proxyTTL = banFor
	}
}

// WithMinDelay enforces a minimum spacing between consecutive requests.
func WithMinDelay(d time.Duration) Option {
	return func(c *Client) { c.minDelay = d }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient builds a client for one account. The logger must not be nil.
func NewClient(account domain.Account, log *zap.Logger, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		account:      account,
		log:          log,
		jar:          jar,
		now:          time.Now,
		retryDelay:   500 * time.Millisecond,
		pollInterval: 2 * time.Second,
		communityURL: defaultCommunityURL,
		loginURL:     defaultLoginURL,
		apiURL:       defaultAPIURL,
		storeURL:     defaultStoreURL,
	}
	c.httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Jar:     jar,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.proxies != nil {
		c.httpClient.Transport = &http.Transport{Proxy: c.proxyFunc}
		if next, err := c.proxies.Next(); err == nil {
			c.currentProxy = next
		}
	}
	return c
}

// Account returns the credentials this client was built with.
func (c *Client) Account() domain.Account { return c.account }

func (c *Client) proxyFunc(*http.Request) (*url.URL, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentProxy, nil
}

func (c *Client) rotateProxy() {
	if c.proxies == nil {
		return
	}
	c.mu.Lock()
	banned := c.currentProxy
	c.mu.Unlock()
	if banned != nil {
		c.proxies.Ban(banned, c.proxyTTL)
		c.log.Warn("proxy banned", zap.String("proxy", banned.Host), zap.Duration("cooldown", c.proxyTTL))
	}
	next, err := c.proxies.Next()
	if err != nil {
		c.log.Warn("no proxy available, continuing direct", zap.Error(err))
		next = nil
	}
	c.mu.Lock()
	c.currentProxy = next
	c.mu.Unlock()
}

func (c *Client) pace() {
	if c.minDelay <= 0 {
		return
	}
	c.mu.Lock()
	wait := c.minDelay - c.now().Sub(c.lastRequest)
	c.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
	c.mu.Lock()
	c.lastRequest = c.now()
	c.mu.Unlock()
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	c.pace()
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.rotateProxy()
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		c.rotateProxy()
		return nil, ErrTooManyRequests
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, rawurl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(req)
}

func (c *Client) postForm(ctx context.Context, rawurl string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawurl, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.communityURL+"/")
	req.Header.Set("Origin", c.communityURL)
	return c.roundTrip(req)
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("steam: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, ErrEmptyServerResponse
	}
	return body, nil
}

// importCookies loads a persisted session's cookies into the jar.
func (c *Client) importCookies(state domain.SessionState) {
	byDomain := make(map[string][]*http.Cookie)
	for _, ck := range state.Cookies {
		byDomain[ck.Domain] = append(byDomain[ck.Domain], &http.Cookie{
			Name:   ck.Name,
			Value:  ck.Value,
			Path:   ck.Path,
			Secure: ck.Secure,
		})
	}
	for domainName, cookies := range byDomain {
		u := &url.URL{Scheme: "https", Host: domainName, Path: "/"}
		c.jar.SetCookies(u, cookies)
	}
}

// exportCookies snapshots the jar for the known platform hosts.
func (c *Client) exportCookies() []domain.Cookie {
	var out []domain.Cookie
	for _, base := range []string{c.communityURL, c.storeURL, c.loginURL} {
		u, err := url.Parse(base)
		if err != nil {
			continue
		}
		for _, ck := range c.jar.Cookies(u) {
			out = append(out, domain.Cookie{
				Name:   ck.Name,
				Value:  ck.Value,
				Domain: u.Host,
				Path:   "/",
				Secure: true,
			})
		}
	}
	return out
}

func (c *Client) setCookie(base, name, value string) {
	u, err := url.Parse(base)
	if err != nil {
		return
	}
	c.jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

func (c *Client) cookieValue(base, name string) (string, bool) {
	u, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}
