package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func countingServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGeolocateFormatsCountryAndCity(t *testing.T) {
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "8.8.8.8")
		fmt.Fprint(w, `{"country_name":"United States","city":"Mountain View"}`)
	})
	g := NewHTTPGeolocator(srv.URL+"/json/%s", time.Second, zaptest.NewLogger(t))

	assert.Equal(t, "United States, Mountain View", g.Geolocate(context.Background(), "8.8.8.8"))
	assert.EqualValues(t, 1, calls.Load())
}

func TestGeolocateMissingFieldsAreUnknown(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"country_name":"Germany"}`)
	})
	g := NewHTTPGeolocator(srv.URL+"/%s", time.Second, nil)

	assert.Equal(t, "Germany, Unknown", g.Geolocate(context.Background(), "1.2.3.4"))
}

func TestGeolocateInternalSkipsNetwork(t *testing.T) {
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	g := NewHTTPGeolocator(srv.URL+"/%s", time.Second, nil)

	for _, ip := range []string{"192.168.1.5", "10.0.0.1", "127.0.0.1", "not-an-ip"} {
		assert.Equal(t, LocalNetwork, g.Geolocate(context.Background(), ip), ip)
	}
	assert.EqualValues(t, 0, calls.Load())
}

func TestGeolocateFailuresFallBackToUnknown(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status 500": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>`)
		},
		"timeout": func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			fmt.Fprint(w, `{"country_name":"Late","city":"Late"}`)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := countingServer(t, h)
			g := NewHTTPGeolocator(srv.URL+"/%s", 100*time.Millisecond, nil)
			var failures atomic.Int32
			g.OnFailure = func(error) { failures.Add(1) }

			start := time.Now()
			assert.Equal(t, Unknown, g.Geolocate(context.Background(), "8.8.4.4"))
			assert.Less(t, time.Since(start), 250*time.Millisecond)
			assert.EqualValues(t, 1, failures.Load())
		})
	}
}

func TestReputationBlacklistedWhenAttacksPositive(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "203.0.113.9", r.URL.Query().Get("ip"))
		fmt.Fprint(w, `{"attacks":3,"reports":7}`)
	})
	r := NewHTTPReputation(srv.URL+"/api.php?ip=%s&format=json", time.Second, zaptest.NewLogger(t))

	got := r.CheckReputation(context.Background(), "203.0.113.9")
	assert.Equal(t, Reputation{Blacklisted: true, Attacks: 3, Reports: 7, Checked: true}, got)
}

func TestReputationAcceptsNumericStrings(t *testing.T) {
	srv, _ := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"attacks":"0","reports":"2"}`)
	})
	r := NewHTTPReputation(srv.URL+"/?ip=%s", time.Second, nil)

	got := r.CheckReputation(context.Background(), "198.51.100.1")
	assert.False(t, got.Blacklisted)
	assert.Equal(t, 2, got.Reports)
	assert.True(t, got.Checked)
}

func TestReputationFailsOpen(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status 502": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"status 500": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"attacks":`)
		},
		"timeout": func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			fmt.Fprint(w, `{"attacks":5,"reports":9}`)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := countingServer(t, h)
			r := NewHTTPReputation(srv.URL+"/?ip=%s", 100*time.Millisecond, nil)
			var failures atomic.Int32
			r.OnFailure = func(error) { failures.Add(1) }

			start := time.Now()
			got := r.CheckReputation(context.Background(), "198.51.100.1")
			assert.Less(t, time.Since(start), 250*time.Millisecond)
			assert.Equal(t, Reputation{}, got)
			assert.False(t, got.Blacklisted)
			assert.EqualValues(t, 1, failures.Load())
		})
	}
}

func TestReputationInternalSkipsNetwork(t *testing.T) {
	srv, calls := countingServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"attacks":99}`)
	})
	r := NewHTTPReputation(srv.URL+"/?ip=%s", time.Second, nil)

	assert.Equal(t, Reputation{}, r.CheckReputation(context.Background(), "172.16.0.4"))
	assert.EqualValues(t, 0, calls.Load())
}

type slowGeo struct{ d time.Duration }

func (s slowGeo) Geolocate(ctx context.Context, ip string) string {
	time.Sleep(s.d)
	return "Somewhere, Town"
}

type slowRep struct{ d time.Duration }

func (s slowRep) CheckReputation(ctx context.Context, ip string) Reputation {
	time.Sleep(s.d)
	return Reputation{Blacklisted: true, Attacks: 1, Checked: true}
}

func TestEnrichRunsLookupsInParallel(t *testing.T) {
	e := NewEnricher(slowGeo{d: 150 * time.Millisecond}, slowRep{d: 150 * time.Millisecond})

	start := time.Now()
	res := e.Enrich(context.Background(), "8.8.8.8")
	elapsed := time.Since(start)

	assert.Equal(t, "Somewhere, Town", res.CountryCity)
	assert.True(t, res.Blacklisted)
	assert.Less(t, elapsed, 280*time.Millisecond)
}

type countingRep struct {
	calls atomic.Int32
	rep   Reputation
}

func (c *countingRep) CheckReputation(ctx context.Context, ip string) Reputation {
	c.calls.Add(1)
	return c.rep
}

type countingGeo struct {
	calls atomic.Int32
	loc   string
}

func (c *countingGeo) Geolocate(ctx context.Context, ip string) string {
	c.calls.Add(1)
	return c.loc
}

func TestCachedReputationSkipsUncheckedResults(t *testing.T) {
	next := &countingRep{rep: Reputation{Blacklisted: true, Attacks: 4, Checked: true}}
	c := NewCachedReputation(next, 16, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, c.CheckReputation(context.Background(), "8.8.8.8").Blacklisted)
	}
	assert.EqualValues(t, 1, next.calls.Load())

	failing := &countingRep{}
	c = NewCachedReputation(failing, 16, time.Minute)
	c.CheckReputation(context.Background(), "8.8.8.8")
	c.CheckReputation(context.Background(), "8.8.8.8")
	assert.EqualValues(t, 2, failing.calls.Load())
}

func TestCachedGeolocatorSkipsUnknown(t *testing.T) {
	ok := &countingGeo{loc: "France, Paris"}
	c := NewCachedGeolocator(ok, 16, time.Minute)
	c.Geolocate(context.Background(), "1.1.1.1")
	assert.Equal(t, "France, Paris", c.Geolocate(context.Background(), "1.1.1.1"))
	assert.EqualValues(t, 1, ok.calls.Load())

	bad := &countingGeo{loc: Unknown}
	c = NewCachedGeolocator(bad, 16, time.Minute)
	c.Geolocate(context.Background(), "1.1.1.1")
	c.Geolocate(context.Background(), "1.1.1.1")
	assert.EqualValues(t, 2, bad.calls.Load())
}
