package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/uamm-go/uamm/internal/logging"
	"github.com/uamm-go/uamm/internal/security"
)

var (
	multiNewlineRE = regexp.MustCompile(`\n{3,}`)
	multiSpaceRE   = regexp.MustCompile(`[ \t]{2,}`)
)

// FetchResult is the WEB_FETCH contract's OK value.
type FetchResult struct {
	Status          int    `json:"status"`
	ContentType     string `json:"content_type"`
	Bytes           int    `json:"bytes"`
	Text            string `json:"text"`
	InjectionBlocked bool  `json:"injection_blocked"`
}

// WebFetchTool implements the WEB_FETCH contract: a policy-gated GET that
// converts HTML to markdown and runs the prompt-injection heuristic over the
// result before returning it.
func WebFetchTool(policy security.EgressPolicy) *Tool {
	return &Tool{
		Name:        WebFetch,
		Description: "Fetch a URL under the egress policy and return sanitized text",
		Schema: Schema{
			Required: []string{"url"},
			Properties: map[string]Property{
				"url": {Type: "string", Description: "URL to fetch"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (*Outcome, error) {
			return executeWebFetch(ctx, args, policy)
		},
	}
}

func executeWebFetch(ctx context.Context, args map[string]any, policy security.EgressPolicy) (*Outcome, error) {
	rawURL, _ := args["url"].(string)
	if strings.TrimSpace(rawURL) == "" {
		return Failed("parse_error", "url is required"), nil
	}

	if err := security.CheckURLAllowed(ctx, rawURL, policy); err != nil {
		switch err {
		case security.ErrTLSRequired:
			return Failed("tls_required", err.Error()), nil
		case security.ErrPrivateIPBlocked:
			return Failed("private_ip_blocked", err.Error()), nil
		default:
			return Failed("policy_blocked", err.Error()), nil
		}
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= policy.AllowRedirects {
				return fmt.Errorf("redirect_limit exceeded")
			}
			return security.CheckURLAllowed(req.Context(), req.URL.String(), policy)
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Failed("parse_error", err.Error()), nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; uamm-agent/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		if strings.Contains(err.Error(), "redirect_limit") {
			return Failed("redirect_limit", err.Error()), nil
		}
		return Failed("network_error", err.Error()), nil
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, policy.MaxPayloadBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return Failed("network_error", err.Error()), nil
	}
	if int64(len(body)) > policy.MaxPayloadBytes {
		return Failed("too_large", fmt.Sprintf("body exceeds %d bytes", policy.MaxPayloadBytes)), nil
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		text = string(body)
	} else {
		text, err = htmlToMarkdown(string(body))
		if err != nil {
			return Failed("parse_error", err.Error()), nil
		}
	}

	findings := security.DetectPromptInjection(text)
	injectionBlocked := len(findings) > 0
	if injectionBlocked {
		logging.Get(logging.CategoryTools).Warn("web_fetch injection heuristic stripped %d finding(s) for %s", len(findings), rawURL)
		text = security.SanitizeFragment(text)
	}

	result := FetchResult{
		Status:           resp.StatusCode,
		ContentType:      contentType,
		Bytes:            len(body),
		Text:             text,
		InjectionBlocked: injectionBlocked,
	}
	return OK(result, map[string]any{
		"url":               rawURL,
		"status":            resp.StatusCode,
		"content_type":      contentType,
		"bytes":             len(body),
		"injection_blocked": injectionBlocked,
	}), nil
}

func htmlToMarkdown(content string) (string, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	extractMarkdown(doc, &sb, 0)
	return cleanMarkdown(sb.String()), nil
}

func extractMarkdown(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
			return
		case "title":
			sb.WriteString("# ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				extractMarkdown(c, sb, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "h1":
			sb.WriteString("\n\n# ")
		case "h2":
			sb.WriteString("\n\n## ")
		case "h3":
			sb.WriteString("\n\n### ")
		case "p", "div":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractMarkdown(c, sb, depth+1)
	}
}

func cleanMarkdown(s string) string {
	s = multiNewlineRE.ReplaceAllString(s, "\n\n")
	s = multiSpaceRE.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
