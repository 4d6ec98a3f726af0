package tibia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "tibiabot/pkg/logx"
)

const (
	DefaultBaseURL     = "https://api.tibiadata.com/v4"
	DefaultWikiBaseURL = "https://tibia.fandom.com"
	DefaultUserAgent   = "TibiaBot/1.0 (+tibiabot)"
	DefaultRetries     = 3
	DefaultTimeout     = 30 * time.Second
	DefaultRatePerSec  = 2.0

	maxBodyBytes = 4 << 20
)

// Config for Client. Zero fields take the package defaults, except Retries
// which is used as-is (0 = single attempt); use DefaultConfig as a base.
type Config struct {
	BaseURL     string
	WikiBaseURL string
	UserAgent   string
	Retries     int
	Timeout     time.Duration
	RatePerSec  float64
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		WikiBaseURL: DefaultWikiBaseURL,
		UserAgent:   DefaultUserAgent,
		Retries:     DefaultRetries,
		Timeout:     DefaultTimeout,
		RatePerSec:  DefaultRatePerSec,
	}
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if strings.TrimSpace(c.WikiBaseURL) == "" {
		c.WikiBaseURL = DefaultWikiBaseURL
	}
	c.WikiBaseURL = strings.TrimRight(strings.TrimSpace(c.WikiBaseURL), "/")
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = DefaultRatePerSec
	}
	return c
}

// Observer is notified once per HTTP attempt with the endpoint label and outcome
// ("ok", "rate_limited", "http_error", "network_error", "parse_error").
type Observer func(endpoint, result string)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithSleep replaces the backoff wait (tests use it to record delays).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(c *Client) { c.observe = fn }
}

// Client talks to TibiaData and, as a fallback, TibiaWiki.
type Client struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	observe Observer
}

var _ DataSource = (*Client)(nil)

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	c := &Client{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

func (c *Client) Config() Config { return c.cfg }

// FetchBoosted reads today's boosted creature and boss.
//
// Both endpoints are queried; one failing does not hide the other's name.
func (c *Client) FetchBoosted(ctx context.Context) (Boosted, error) {
	var (
		out     Boosted
		errs    []error
		cr      creaturesResponse
		br      bossesResponse
		crFound bool
	)
	if err := c.getJSON(ctx, "creatures", "creatures", &cr); err != nil {
		errs = append(errs, err)
	} else {
		out.Creature = strings.TrimSpace(cr.Creatures.Boosted.Name)
		out.Timestamp = cr.Information.Timestamp
		crFound = true
	}
	if ctx.Err() != nil {
		return Boosted{}, ctx.Err()
	}
	if err := c.getJSON(ctx, "boostablebosses", "boostablebosses", &br); err != nil {
		errs = append(errs, err)
	} else {
		out.Boss = strings.TrimSpace(br.BoostableBosses.Boosted.Name)
		if !crFound {
			out.Timestamp = br.Information.Timestamp
		}
	}

	if out.Creature == "" && out.Boss == "" {
		if len(errs) > 0 {
			return Boosted{}, errors.Join(errs...)
		}
		return Boosted{}, ErrNoBoosted
	}
	for _, err := range errs {
		c.log.Warn("partial boosted fetch", logx.Err(err))
	}
	c.log.Debug("boosted fetched",
		logx.String("creature", out.Creature),
		logx.String("boss", out.Boss),
		logx.String("timestamp", out.Timestamp),
	)
	return out, nil
}

// FetchDetails never fails: API, then wiki, then a placeholder worded for k.
func (c *Client) FetchDetails(ctx context.Context, k Kind, name string) Details {
	name = strings.TrimSpace(name)
	if name == "" {
		return Details{Source: SourceNone}
	}

	var resp creatureResponse
	err := c.getJSON(ctx, "creature", "creature/"+url.PathEscape(apiSlug(name)), &resp)
	if err == nil && resp.Creature != nil && strings.TrimSpace(resp.Creature.Name) != "" {
		d := resp.Creature.details()
		if d.ImageURL == "" {
			d.ImageURL = c.ImageURL(name)
		}
		c.log.Debug("details from tibiadata", logx.String("name", name))
		return d
	}
	if err != nil {
		c.log.Info("tibiadata details unavailable; trying wiki", logx.String("name", name), logx.Err(err))
	} else {
		c.log.Info("tibiadata has no creature record; trying wiki", logx.String("name", name))
	}

	if ctx.Err() == nil {
		d, werr := c.fetchWiki(ctx, name)
		if werr == nil {
			return d
		}
		c.log.Warn("wiki fallback failed; using placeholder", logx.String("name", name), logx.Err(werr))
	}
	return c.placeholder(k, name)
}

// ImageURL is the TibiaWiki redirect to the creature's animated sprite.
func (c *Client) ImageURL(name string) string {
	return c.cfg.WikiBaseURL + "/wiki/Special:Redirect/file/" + url.PathEscape(wikiSlug(name)) + ".gif"
}

func (c *Client) placeholder(k Kind, name string) Details {
	desc := fmt.Sprintf("Today's boosted creature: %s. Enjoy 2x experience and loot!", name)
	if k == KindBoss {
		desc = fmt.Sprintf("Today's boosted boss: %s. Enjoy extra loot and boss points!", name)
	}
	return Details{
		Name:        name,
		Description: desc,
		ImageURL:    c.ImageURL(name),
		Source:      SourceNone,
	}
}

// getJSON performs GET {base}/{path} with the retry policy and decodes a 200 body into dst.
//
// Attempts = retries+1. Between attempts it waits 2^attempt seconds. 429,
// network errors and any other non-200 status are all retried the same way.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, dst any) error {
	u := c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	attempts := c.cfg.Retries + 1

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("tibia: rate limiter: %w", err)
		}

		body, status, err := c.get(ctx, u, "application/json")
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			c.record(endpoint, "network_error")
			c.log.Warn("request failed",
				logx.String("url", u),
				logx.Int("attempt", attempt+1),
				logx.Err(err),
			)
		case status == http.StatusOK:
			if err := json.Unmarshal(body, dst); err != nil {
				c.record(endpoint, "parse_error")
				return fmt.Errorf("%w: %s: %v", ErrParse, path, err)
			}
			c.record(endpoint, "ok")
			return nil
		case status == http.StatusTooManyRequests:
			lastStatus = status
			lastErr = errRateLimited
			c.record(endpoint, "rate_limited")
			c.log.Warn("rate limited by api",
				logx.String("url", u),
				logx.Int("attempt", attempt+1),
			)
		default:
			lastStatus = status
			lastErr = fmt.Errorf("unexpected status %d: %s", status, truncate(string(body), 200))
			c.record(endpoint, "http_error")
			c.log.Warn("api returned non-200",
				logx.String("url", u),
				logx.Int("status", status),
				logx.Int("attempt", attempt+1),
			)
		}

		if attempt < attempts-1 {
			delay := time.Duration(1<<attempt) * time.Second
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	c.log.Error("request failed after retries",
		logx.String("url", u),
		logx.Int("attempts", attempts),
		logx.Err(lastErr),
	)
	return &FetchError{Path: path, Attempts: attempts, LastStatus: lastStatus, Err: lastErr}
}

func (c *Client) get(ctx context.Context, u, accept string) ([]byte, int, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) record(endpoint, result string) {
	if c.observe != nil {
		c.observe(endpoint, result)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// apiSlug: "Dragon Lord" -> "dragon_lord".
func apiSlug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// wikiSlug: "Dragon Lord" -> "Dragon_Lord".
func wikiSlug(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
