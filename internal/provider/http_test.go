package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/imdevinc/netinf-node/internal/transfer"
	"github.com/imdevinc/netinf-node/pkg/netinf"
)

func newHTTPProvider(publishURL string) *HTTPProvider {
	return NewHTTP("cache", HTTPConfig{
		Client:     netinf.Config{Timeout: 2 * time.Second},
		PublishURL: publishURL,
	})
}

func TestHTTPProviderFetch(t *testing.T) {
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.FormValue("URI")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("cached"))
	}))
	defer srv.Close()

	p := newHTTPProvider("")
	if !p.CanHandle(srv.URL) {
		t.Fatalf("Expected %s to be handled", srv.URL)
	}

	data, err := p.Fetch(context.Background(), srv.URL, testHandle)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "cached" {
		t.Errorf("Expected cached, got %q", data)
	}
	if gotURI != "ni:///sha-256;abc123" {
		t.Errorf("Expected ni URI, got %q", gotURI)
	}
}

func TestHTTPProviderErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }, transfer.ErrRemoteNotFound},
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, transfer.ErrProtocol},
		{"wrong type", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("nope"))
		}, transfer.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newHTTPProvider("").Fetch(context.Background(), srv.URL, testHandle)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestHTTPProviderConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newHTTPProvider("").Fetch(context.Background(), url, testHandle)
	if !errors.Is(err, transfer.ErrConnectFailed) {
		t.Errorf("Expected ErrConnectFailed, got %v", err)
	}
}

func TestHTTPProviderPublish(t *testing.T) {
	var gotHash string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		gotHash = r.FormValue("hash")
	}))
	defer srv.Close()

	p := newHTTPProvider(srv.URL)
	var _ Publisher = p

	ok, err := p.Publish(context.Background(), testHandle, []byte("data"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !ok {
		t.Error("Expected publish to succeed")
	}
	if gotHash != testHandle.Value {
		t.Errorf("Expected hash %q, got %q", testHandle.Value, gotHash)
	}
}

func TestHTTPProviderPublishUnconfigured(t *testing.T) {
	_, err := newHTTPProvider("").Publish(context.Background(), testHandle, []byte("data"))
	if !errors.Is(err, transfer.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestHTTPProviderOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain download"))
	}))
	defer srv.Close()

	var sp StreamProvider = newHTTPProvider("")
	body, err := sp.Open(context.Background(), srv.URL+"/file.bin")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if string(data) != "plain download" {
		t.Errorf("Expected plain download, got %q", data)
	}
}
