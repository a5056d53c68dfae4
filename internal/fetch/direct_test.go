package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		_, _ = w.Write([]byte(`<html><head><title>Acme Corp</title></head>
<body><script>var x = 1;</script><nav>menu</nav>
<h1>Welcome to Acme</h1><p>We build widgets for enterprise clients.</p>
<footer>footer stuff</footer></body></html>`))
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	result, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "direct_http", result.Source)
	assert.Equal(t, "Acme Corp", result.Page.Title)
	assert.Contains(t, result.Page.Text, "We build widgets")
	assert.NotContains(t, result.Page.Text, "var x = 1")
	assert.NotContains(t, result.Page.Text, "footer stuff")
}

func TestDirectFetcher_Fetch_BlockedOn403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	_, err := f.Fetch(context.Background(), srv.URL)

	assert.ErrorIs(t, err, ErrBlocked)
}

func TestDirectFetcher_Fetch_BlockedOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	_, err := f.Fetch(context.Background(), srv.URL)

	assert.ErrorIs(t, err, ErrBlocked)
}

func TestDirectFetcher_Fetch_NotFoundIsNotBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(strings.Repeat("not here ", 20)))
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	_, err := f.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBlocked)
	assert.Contains(t, err.Error(), "status 404")
}

func TestDirectFetcher_Fetch_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	_, err := f.Fetch(context.Background(), srv.URL)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty page")
}

func TestDirectFetcher_Fetch_CapsPageSize(t *testing.T) {
	big := "<html><body>" + strings.Repeat("lorem ipsum dolor sit amet ", 2000) + "</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(big))
	}))
	defer srv.Close()

	f := NewDirectFetcher(5 * time.Second)
	result, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Page.Text), maxPageBytes)
}

func TestStripHTML_Entities(t *testing.T) {
	text := StripHTML(`<p>Smith &amp; Sons &quot;award&quot;&nbsp;2024</p>`)
	assert.Equal(t, `Smith & Sons "award" 2024`, text)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))

	long := strings.Repeat("word ", 100)
	cut := Truncate(long, 52)
	assert.LessOrEqual(t, len(cut), 52)
	// Cuts at a word boundary.
	assert.False(t, strings.HasSuffix(cut, "wor"))
}
