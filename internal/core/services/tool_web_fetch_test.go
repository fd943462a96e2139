package services

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubResponse(req *http.Request, status int, contentType, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{contentType}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func TestIsSSRFTarget(t *testing.T) {
	blocked := []string{
		"http://localhost/foo",
		"http://127.0.0.1:8080/api",
		"http://0.0.0.0/path",
		"http://[::1]/bar",
		"http://169.254.169.254/latest/meta-data",
		"http://metadata.google.internal/computeMetadata",
		"ftp://example.com/file",
		"file:///etc/passwd",
		"http://10.0.0.1/internal",
		"http://192.168.1.1/admin",
		"http://172.16.0.1/internal",
	}
	for _, u := range blocked {
		t.Run("blocked_"+u, func(t *testing.T) {
			assert.True(t, isSSRFTarget(u), "should block: %s", u)
		})
	}

	allowed := []string{
		"https://example.com",
		"https://api.github.com/repos",
		"http://www.google.com/search?q=test",
	}
	for _, u := range allowed {
		t.Run("allowed_"+u, func(t *testing.T) {
			assert.False(t, isSSRFTarget(u), "should allow: %s", u)
		})
	}
}

func TestHTMLToText(t *testing.T) {
	doc := `<html><head><style>body{color:red}</style></head>
	<body>
	<script>alert('xss')</script>
	<h1>Hello World</h1>
	<p>This is a <b>test</b> paragraph.</p>
	<nav>Navigation links</nav>
	</body></html>`

	text, err := htmlToText(doc)
	require.NoError(t, err)

	assert.Contains(t, text, "Hello World")
	assert.Contains(t, text, "This is a test paragraph.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "Navigation")
	assert.NotContains(t, text, "<h1>")
}

func TestWebFetchTool(t *testing.T) {
	var gotURL string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotURL = r.URL.String()
		return stubResponse(r, http.StatusOK, "text/html; charset=utf-8", "<html><body><p>Release notes</p></body></html>"), nil
	})}
	tool := NewWebFetchTool(client)

	out, err := tool.Execute(context.Background(), testScope("job-1"), map[string]interface{}{"url": "example.com/notes"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/notes", gotURL)
	assert.Equal(t, "URL: https://example.com/notes\nStatus: 200\n\nRelease notes", out)
}

func TestWebFetchTool_Errors(t *testing.T) {
	calls := 0
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return stubResponse(r, http.StatusNotFound, "text/plain", "missing"), nil
	})}
	tool := NewWebFetchTool(client)

	_, err := tool.Execute(context.Background(), testScope("job-1"), map[string]interface{}{"url": "http://127.0.0.1:9000/admin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "URL denied")
	assert.Zero(t, calls)

	_, err = tool.Execute(context.Background(), testScope("job-1"), map[string]interface{}{"url": "https://example.com/gone"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")

	_, err = tool.Execute(context.Background(), testScope("job-1"), map[string]interface{}{})
	assert.EqualError(t, err, "missing required parameter: url")
}
