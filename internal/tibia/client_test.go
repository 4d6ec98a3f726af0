package tibia

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tibiabot/pkg/logx"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) got() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestClient(t *testing.T, srv *httptest.Server, retries int, rec *sleepRecorder, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/v4"
	cfg.WikiBaseURL = srv.URL
	cfg.Retries = retries
	cfg.RatePerSec = 1000
	cfg.Timeout = 2 * time.Second
	all := append([]Option{WithHTTPClient(srv.Client()), WithSleep(rec.sleep)}, opts...)
	return New(cfg, logx.Nop(), all...)
}

func TestGetJSONRetriesOn429ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"creatures":{"boosted":{"name":"Dragon"}},"information":{"timestamp":"2025-07-16T08:00:00Z"}}`))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	c := newTestClient(t, srv, 3, rec)

	var out creaturesResponse
	err := c.getJSON(context.Background(), "creatures", "creatures", &out)
	require.NoError(t, err)
	assert.Equal(t, "Dragon", out.Creatures.Boosted.Name)
	assert.EqualValues(t, 4, calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.got())
}

func TestGetJSONExhaustsRetries(t *testing.T) {
	cases := []struct {
		name    string
		retries int
		status  int
		delays  []time.Duration
	}{
		{"server error", 3, http.StatusInternalServerError, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{"rate limited", 2, http.StatusTooManyRequests, []time.Duration{time.Second, 2 * time.Second}},
		{"single attempt", 0, http.StatusBadGateway, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			rec := &sleepRecorder{}
			c := newTestClient(t, srv, tc.retries, rec)
			err := c.getJSON(context.Background(), "creatures", "creatures", &creaturesResponse{})

			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tc.retries+1, fe.Attempts)
			assert.Equal(t, tc.status, fe.LastStatus)
			assert.EqualValues(t, tc.retries+1, calls.Load())
			assert.Equal(t, tc.delays, rec.got())
		})
	}
}

func TestGetJSONMalformedBodyIsParseFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"creatures":`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 3, &sleepRecorder{})
	err := c.getJSON(context.Background(), "creatures", "creatures", &creaturesResponse{})
	assert.ErrorIs(t, err, ErrParse)
	assert.EqualValues(t, 1, calls.Load(), "parse failures are not retried")
}

func TestGetJSONStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, srv, 3, &sleepRecorder{}, WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))
	err := c.getJSON(ctx, "creatures", "creatures", &creaturesResponse{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 0, &sleepRecorder{})
	require.NoError(t, c.getJSON(context.Background(), "creatures", "creatures", &creaturesResponse{}))
}

func boostedServer(t *testing.T, creatures, bosses http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/creatures", creatures)
	mux.HandleFunc("/v4/boostablebosses", bosses)
	return httptest.NewServer(mux)
}

func jsonBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) }
}

func TestFetchBoosted(t *testing.T) {
	srv := boostedServer(t,
		jsonBody(`{"creatures":{"boosted":{"name":"Dragon","image_url":"x"}},"information":{"timestamp":"ts-1"}}`),
		jsonBody(`{"boostable_bosses":{"boosted":{"name":"Ferumbras"}},"information":{"timestamp":"ts-2"}}`),
	)
	defer srv.Close()

	c := newTestClient(t, srv, 0, &sleepRecorder{})
	got, err := c.FetchBoosted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Boosted{Creature: "Dragon", Boss: "Ferumbras", Timestamp: "ts-1"}, got)
	assert.Equal(t, "Ferumbras", got.Name(KindBoss))
}

func TestFetchBoostedPartial(t *testing.T) {
	srv := boostedServer(t,
		jsonBody(`{"creatures":{"boosted":{"name":"Dragon"}}}`),
		status(http.StatusInternalServerError),
	)
	defer srv.Close()

	c := newTestClient(t, srv, 1, &sleepRecorder{})
	got, err := c.FetchBoosted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Dragon", got.Creature)
	assert.Empty(t, got.Boss)
}

func TestFetchBoostedNothing(t *testing.T) {
	srv := boostedServer(t, jsonBody(`{"creatures":{}}`), jsonBody(`{}`))
	defer srv.Close()

	c := newTestClient(t, srv, 0, &sleepRecorder{})
	_, err := c.FetchBoosted(context.Background())
	assert.ErrorIs(t, err, ErrNoBoosted)
}

func TestFetchBoostedBothFail(t *testing.T) {
	srv := boostedServer(t, status(http.StatusBadGateway), status(http.StatusBadGateway))
	defer srv.Close()

	c := newTestClient(t, srv, 0, &sleepRecorder{})
	_, err := c.FetchBoosted(context.Background())
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, errors.Is(err, ErrNoBoosted))
}

func TestFetchDetailsFromAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/creature/dragon_lord", jsonBody(`{"creature":{
		"name":"Dragon Lord","race":"dragonlord","hitpoints":1900,"experience_points":"2100",
		"description":"A mighty dragon.","loot_list":["gold coin","dragon scale mail"," "]}}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, 0, &sleepRecorder{})
	d := c.FetchDetails(context.Background(), KindCreature, "Dragon Lord")
	assert.Equal(t, SourcePrimaryAPI, d.Source)
	require.NotNil(t, d.HitPoints)
	require.NotNil(t, d.Experience)
	assert.EqualValues(t, 1900, *d.HitPoints)
	assert.EqualValues(t, 2100, *d.Experience)
	assert.Equal(t, []string{"gold coin", "dragon scale mail"}, d.Loot)
	assert.Equal(t, srv.URL+"/wiki/Special:Redirect/file/Dragon_Lord.gif", d.ImageURL)
}

func TestFetchDetailsLootObjects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/creature/rat", jsonBody(`{"creature":{"name":"Rat","hitpoints":"Unknown","loot":[{"name":"cheese"},{"name":"gold coin"}]}}`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, 0, &sleepRecorder{})
	d := c.FetchDetails(context.Background(), KindCreature, "Rat")
	assert.Nil(t, d.HitPoints)
	assert.Equal(t, []string{"cheese", "gold coin"}, d.Loot)
}

func TestFetchDetailsFallsBackToWiki(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/creature/grim_reaper", jsonBody(`{"creature":{"name":""}}`))
	mux.HandleFunc("/wiki/Grim_Reaper", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><p class="intro">The <b>Grim Reaper</b> roams the cursed halls of Drefia and collects the souls of careless adventurers.</p>
<table><tr><td>Hit Points</td><td>3900</td></tr><tr><td>Experience</td><td>5500</td></tr></table></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv, 0, &sleepRecorder{})
	d := c.FetchDetails(context.Background(), KindCreature, "Grim Reaper")
	assert.Equal(t, SourceWikiFallback, d.Source)
	require.NotNil(t, d.HitPoints)
	assert.EqualValues(t, 3900, *d.HitPoints)
	require.NotNil(t, d.Experience)
	assert.EqualValues(t, 5500, *d.Experience)
	assert.Contains(t, d.Description, "The Grim Reaper roams the cursed halls")
}

func TestFetchDetailsPlaceholderWhenEverythingFails(t *testing.T) {
	var observed []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv, 1, &sleepRecorder{}, WithObserver(func(endpoint, result string) {
		mu.Lock()
		observed = append(observed, endpoint+":"+result)
		mu.Unlock()
	}))
	d := c.FetchDetails(context.Background(), KindCreature, "Demon")
	assert.Equal(t, SourceNone, d.Source)
	assert.Equal(t, "Demon", d.Name)
	assert.Nil(t, d.HitPoints)
	assert.Equal(t, "Today's boosted creature: Demon. Enjoy 2x experience and loot!", d.Description)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"creature:http_error", "creature:http_error", "wiki:http_error"}, observed)
}

func TestBossPlaceholderNamesTheBoss(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv, 0, &sleepRecorder{})
	d := c.FetchDetails(context.Background(), KindBoss, "Ferumbras")
	assert.Equal(t, SourceNone, d.Source)
	assert.Equal(t, "Today's boosted boss: Ferumbras. Enjoy extra loot and boss points!", d.Description)
	assert.NotContains(t, d.Description, "creature")
}
