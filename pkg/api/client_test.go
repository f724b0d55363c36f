package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/breeze-rmm/procstatus/internal/health"
	"github.com/breeze-rmm/procstatus/internal/httputil"
	"github.com/breeze-rmm/procstatus/internal/poller"
	"github.com/breeze-rmm/procstatus/internal/procscan"
	"github.com/breeze-rmm/procstatus/internal/procstatus"
	"github.com/breeze-rmm/procstatus/internal/statusapi"
	"github.com/breeze-rmm/procstatus/pkg/api"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	d, err := procstatus.Initialise(procstatus.Options{Source: procscan.StaticSource{
		7: {"sshd", "-D"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	d.Configure(procstatus.PortConfig{Port: "SSH", Process: "sshd"})
	d.Configure(procstatus.PortConfig{Port: "OFF", Process: ""})

	mon := health.NewMonitor()
	p := poller.New(d, poller.Options{Monitor: mon})
	p.PollOnce()

	ts := httptest.NewServer(statusapi.New("", d, p, mon).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientAgainstServer(t *testing.T) {
	ts := newServer(t)
	c := api.NewClient(ts.URL+"/", api.WithRetry(httputil.NoRetry()))
	ctx := context.Background()

	ports, err := c.Ports(ctx)
	if err != nil {
		t.Fatalf("Ports: %v", err)
	}
	if len(ports) != 2 || ports[0].Port != "SSH" {
		t.Fatalf("ports = %+v", ports)
	}

	v, err := c.Read(ctx, "SSH", "PID", procstatus.AllBits)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n, err := v.Int(); err != nil || n != 7 {
		t.Fatalf("PID = %d, %v", n, err)
	}

	v, err = c.Read(ctx, "SSH", "STATUS", 0x2)
	if err != nil {
		t.Fatalf("Read STATUS: %v", err)
	}
	if v.Value != "2" || v.Mask != 0x2 {
		t.Fatalf("STATUS = %+v", v)
	}

	v, err = c.Read(ctx, "SSH", "DRVVER", 0)
	if err != nil || v.Value != procstatus.Version {
		t.Fatalf("DRVVER = %+v, %v", v, err)
	}
	if _, err := v.Int(); err == nil {
		t.Fatal("DRVVER should not parse as a number")
	}

	report, err := c.Report(ctx, "SSH", 1)
	if err != nil || !strings.Contains(report, "sshd") {
		t.Fatalf("Report = %q, %v", report, err)
	}

	h, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Ports["SSH"] != "healthy" || h.Ports["OFF"] != "unhealthy" {
		t.Fatalf("health = %+v", h)
	}
}

func TestClientStatusErrors(t *testing.T) {
	ts := newServer(t)
	c := api.NewClient(ts.URL, api.WithRetry(httputil.NoRetry()))

	_, err := c.Read(context.Background(), "OFF", "COUNT", procstatus.AllBits)
	var se *api.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusConflict {
		t.Fatalf("err = %v, want 409 StatusError", err)
	}
	if !strings.Contains(se.Message, "not initialised") {
		t.Fatalf("message = %q", se.Message)
	}

	_, err = c.Read(context.Background(), "MISSING", "COUNT", procstatus.AllBits)
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
}

func TestClientRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"cannot open /proc"}`))
			return
		}
		w.Write([]byte(`{"port":"SSH","signal":"COUNT","value":"1"}`))
	}))
	defer ts.Close()

	c := api.NewClient(ts.URL, api.WithRetry(httputil.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
	}))
	v, err := c.Read(context.Background(), "SSH", "COUNT", procstatus.AllBits)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v.Value != "1" || calls.Load() != 2 {
		t.Fatalf("value=%q calls=%d", v.Value, calls.Load())
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct{ base, want string }{
		{"http://host:5064", "ws://host:5064/v1/stream"},
		{"https://host/status/", "wss://host/status/v1/stream"},
	}
	for _, tt := range tests {
		got, err := api.NewClient(tt.base).StreamURL()
		if err != nil || got != tt.want {
			t.Errorf("StreamURL(%q) = %q, %v; want %q", tt.base, got, err, tt.want)
		}
	}
}
