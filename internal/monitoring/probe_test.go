package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hostwatch/internal/database"
)

func TestHTTPProber(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fine"))
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("<h1>maintenance</h1>" + strings.Repeat("x", 100)))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/down", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHTTPProber(200*time.Millisecond, nil, 16, "hostwatch-test")
	probe := func(path string) *Outcome {
		return p.Probe(context.Background(), &database.MonitorTarget{ID: "t", Domain: "example.test", URL: srv.URL + path})
	}

	t.Run("healthy", func(t *testing.T) {
		out := probe("/ok")
		if !out.Healthy || out.StatusCode != 200 || out.Err != nil {
			t.Fatalf("got %+v", out)
		}
		if out.Body != nil {
			t.Error("body captured for a healthy response")
		}
	})

	t.Run("unhealthy status captures bounded body", func(t *testing.T) {
		out := probe("/down")
		if out.Healthy || out.StatusCode != 503 || out.Err != nil {
			t.Fatalf("got %+v", out)
		}
		if len(out.Body) != 16 || !strings.HasPrefix(string(out.Body), "<h1>maintenance") {
			t.Errorf("body = %q", out.Body)
		}
	})

	t.Run("redirect is not followed", func(t *testing.T) {
		out := probe("/moved")
		if !out.Healthy || out.StatusCode != http.StatusFound {
			t.Fatalf("got %+v", out)
		}
	})

	t.Run("timeout is a transport failure", func(t *testing.T) {
		out := probe("/slow")
		if out.Healthy || out.Err == nil || out.StatusCode != 0 {
			t.Fatalf("got %+v", out)
		}
		if !strings.HasPrefix(out.Err.Error(), "timeout:") {
			t.Errorf("error = %v", out.Err)
		}
	})
}

func TestStatusPolicy(t *testing.T) {
	p, err := ParseStatusPolicy([]string{"2xx", "301-302", "404"})
	if err != nil {
		t.Fatal(err)
	}
	for code, want := range map[int]bool{200: true, 299: true, 301: true, 302: true, 303: false, 404: true, 500: false} {
		if got := p.Healthy(code); got != want {
			t.Errorf("Healthy(%d) = %v, want %v", code, got, want)
		}
	}

	def, _ := ParseStatusPolicy(nil)
	if !def.Healthy(304) || def.Healthy(400) {
		t.Error("default policy should accept 2xx/3xx only")
	}

	for _, bad := range []string{"9xx", "300-200", "abc"} {
		if _, err := ParseStatusPolicy([]string{bad}); err == nil {
			t.Errorf("ParseStatusPolicy(%q) should fail", bad)
		}
	}
}
