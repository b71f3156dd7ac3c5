package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/loopwire/turnroom/schema"
)

const defaultMaxFetchBytes = 5 * 1024 * 1024

// FetchTool fetches a URL and renders it to text or markdown, a second
// built-in tool alongside ShellTool. Grounded directly on the teacher's
// tools/builtin/fetch.go, narrowed to the Adapter interface toolexec uses.
type FetchTool struct {
	client      *http.Client
	maxBodySize int64
}

// NewFetchTool builds a FetchTool with a bounded response size.
func NewFetchTool(maxBodySize int64) *FetchTool {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxFetchBytes
	}
	return &FetchTool{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBodySize: maxBodySize,
	}
}

func (t *FetchTool) Name() string { return "fetch" }

type fetchArgs struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Timeout int    `json:"timeout,omitempty"`
}

// Execute fetches args.URL and converts the body to args.Format
// ("text", "markdown", or "html"), truncating to maxBodySize.
func (t *FetchTool) Execute(ctx context.Context, call schema.ToolCall) schema.ToolResult {
	var a fetchArgs
	if err := json.Unmarshal([]byte(call.Arguments), &a); err != nil {
		return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("invalid args: %v", err)}
	}
	if !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
		return schema.ToolResult{ID: call.ID, OK: false, Err: "url must start with http:// or https://"}
	}
	format := strings.ToLower(a.Format)
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "markdown" && format != "html" {
		return schema.ToolResult{ID: call.ID, OK: false, Err: "format must be one of: text, markdown, html"}
	}

	reqCtx := ctx
	if a.Timeout > 0 {
		if a.Timeout > 120 {
			a.Timeout = 120
		}
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(a.Timeout)*time.Second)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, a.URL, nil)
	if err != nil {
		return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("User-Agent", "turnroom-fetch/1.0")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("fetch: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize))
	if err != nil {
		return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("read body: %v", err)}
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")
	isHTML := strings.Contains(contentType, "text/html")

	switch format {
	case "text":
		if isHTML {
			text, err := extractText(content)
			if err != nil {
				return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("extract text: %v", err)}
			}
			content = text
		}
	case "markdown":
		if isHTML {
			markdown, err := convertToMarkdown(content)
			if err != nil {
				return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("convert markdown: %v", err)}
			}
			content = markdown
		}
	case "html":
		if isHTML {
			body, err := extractBody(content)
			if err != nil {
				return schema.ToolResult{ID: call.ID, OK: false, Err: fmt.Sprintf("extract body: %v", err)}
			}
			content = body
		}
	}

	truncated := false
	if int64(len(content)) > t.maxBodySize {
		content = content[:t.maxBodySize]
		truncated = true
	}

	out := content
	if truncated {
		out += fmt.Sprintf("\n\n[content truncated to %d bytes]", t.maxBodySize)
	}
	return schema.ToolResult{ID: call.ID, OK: true, Stdout: out}
}

func extractText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	text := doc.Find("body").Text()
	return strings.Join(strings.Fields(text), " "), nil
}

func convertToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	return converter.ConvertString(html)
}

func extractBody(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	body, err := doc.Find("body").Html()
	if err != nil {
		return "", err
	}
	return "<html>\n<body>\n" + body + "\n</body>\n</html>", nil
}
