package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/uamm-go/uamm/internal/logging"
)

// SearchHit is one WEB_SEARCH result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchTool implements the WEB_SEARCH contract: query, k<=10 -> ordered
// hits. Uses DuckDuckGo's HTML interface, which requires no API key.
func WebSearchTool() *Tool {
	return &Tool{
		Name:        WebSearch,
		Description: "Search the web and return an ordered list of {title,url,snippet}",
		Schema: Schema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query": {Type: "string", Description: "search query"},
				"k":     {Type: "integer", Description: "max results, <=10", Default: 10},
			},
		},
		Execute: executeWebSearch,
	}
}

func executeWebSearch(ctx context.Context, args map[string]any) (*Outcome, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return Failed("parse_error", "query is required"), nil
	}
	k := 10
	if v, ok := args["k"].(int); ok && v > 0 {
		k = v
	}
	if k > 10 {
		k = 10
	}

	hits, err := searchDuckDuckGo(ctx, query, k)
	if err != nil {
		logging.Get(logging.CategoryTools).Warn("web_search network_error: %v", err)
		return Failed("network_error", err.Error()), nil
	}
	return OK(hits, map[string]any{"query": query, "count": len(hits)}), nil
}

func searchDuckDuckGo(ctx context.Context, query string, k int) ([]SearchHit, error) {
	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; uamm-agent/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGoResults(string(body), k)
}

func parseDuckDuckGoResults(htmlContent string, k int) ([]SearchHit, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var hits []SearchHit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(hits) >= k {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result", "results_links") {
			if hit := extractSearchHit(n); hit.URL != "" && hit.Title != "" {
				hits = append(hits, hit)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hits, nil
}

func hasClass(n *html.Node, substrings ...string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		ok := true
		for _, s := range substrings {
			if !strings.Contains(attr.Val, s) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func extractSearchHit(n *html.Node) SearchHit {
	var hit SearchHit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "class" {
					continue
				}
				switch {
				case strings.Contains(attr.Val, "result__a"):
					hit.URL = resolveDuckDuckGoRedirect(attrValue(n, "href"))
					hit.Title = textContent(n)
				case strings.Contains(attr.Val, "result__snippet"):
					hit.Snippet = textContent(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return hit
}

func resolveDuckDuckGoRedirect(href string) string {
	const prefix = "//duckduckgo.com/l/?uddg="
	if !strings.HasPrefix(href, prefix) {
		return href
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(href, prefix))
	if err != nil {
		return href
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
