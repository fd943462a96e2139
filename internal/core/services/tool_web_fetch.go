package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

const (
	webFetchTimeout  = 30 * time.Second
	webFetchMaxBody  = 1024 * 1024
	webFetchMaxChars = 32000
)

var ssrfHosts = []string{
	"localhost",
	"0.0.0.0",
	"169.254.169.254",
	"metadata.google.internal",
	"metadata.google",
}

// isSSRFTarget reports whether rawURL points at a loopback, private or
// metadata address, or uses a scheme other than http(s).
func isSSRFTarget(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return true
	}

	host := parsed.Hostname()
	for _, b := range ssrfHosts {
		if strings.EqualFold(host, b) {
			return true
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return true
		}
	}
	return false
}

// NewWebFetchTool creates the web_fetch tool. client may be nil.
func NewWebFetchTool(client *http.Client) *domain.Tool {
	if client == nil {
		client = &http.Client{}
	}
	fetcher := *client
	fetcher.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if isSSRFTarget(req.URL.String()) {
			return fmt.Errorf("redirect to internal address denied")
		}
		if len(via) >= 5 {
			return fmt.Errorf("too many redirects")
		}
		return nil
	}

	return &domain.Tool{
		Name:        "web_fetch",
		Description: "Fetches a public web page and returns its readable text (scripts and styles stripped). Max 1MB response.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "The URL to fetch (e.g., 'https://example.com/article').",
				},
			},
			Required: []string{"url"},
		},
		MinAccess: domain.AccessCollaborator,
		Timeout:   webFetchTimeout,
		Execute: func(ctx context.Context, scope domain.CallerScope, params map[string]interface{}) (interface{}, error) {
			rawURL, err := stringParam(params, "url")
			if err != nil {
				return nil, err
			}
			rawURL = strings.TrimSpace(rawURL)
			if rawURL == "" {
				return nil, fmt.Errorf("url is required")
			}
			if !strings.Contains(rawURL, "://") {
				rawURL = "https://" + rawURL
			}
			if isSSRFTarget(rawURL) {
				return nil, fmt.Errorf("URL denied: cannot fetch internal/private addresses")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return nil, fmt.Errorf("invalid URL: %w", err)
			}
			req.Header.Set("User-Agent", "aule-agent/1.0 (web_fetch)")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,*/*")

			resp, err := fetcher.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBody))
			if err != nil {
				return nil, fmt.Errorf("failed to read response: %w", err)
			}

			content := string(body)
			if strings.Contains(resp.Header.Get("Content-Type"), "text/html") || strings.Contains(content, "<html") {
				content, err = htmlToText(content)
				if err != nil {
					return nil, fmt.Errorf("failed to parse html: %w", err)
				}
			}
			if len(content) > webFetchMaxChars {
				content = content[:webFetchMaxChars] + "\n\n... (content truncated at 32KB)"
			}
			if strings.TrimSpace(content) == "" {
				return "(page returned empty content)", nil
			}

			return fmt.Sprintf("URL: %s\nStatus: %d\n\n%s", rawURL, resp.StatusCode, content), nil
		},
	}
}

// htmlToText walks the parsed document and keeps visible text, one block
// element per line.
func htmlToText(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	collectText(root, &b, false)

	var lines []string
	for _, ln := range strings.Split(b.String(), "\n") {
		if ln = strings.Join(strings.Fields(ln), " "); ln != "" {
			lines = append(lines, ln)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func collectText(n *html.Node, b *strings.Builder, hidden bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "nav", "footer", "header":
			hidden = true
		case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n")
		}
	}
	if !hidden && n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b, hidden)
	}
}
