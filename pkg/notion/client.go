// Package notion wraps the Notion API calls used to publish batch reports.
package notion

import (
	"context"
	"net/http"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// maxRichText is Notion's limit for a single rich text content string.
const maxRichText = 2000

// Client defines the Notion API operations used by this application.
type Client interface {
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// ClientOption configures the Notion client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	limiter    *rate.Limiter
	httpClient *http.Client
}

// WithRateLimit overrides the default Notion rate limit (3 req/s).
func WithRateLimit(rps float64) ClientOption {
	return func(o *clientOptions) {
		if rps > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			o.limiter = nil
		}
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = hc }
}

// notionClient implements Client by wrapping a *notionapi.Client.
type notionClient struct {
	inner   *notionapi.Client
	limiter *rate.Limiter
}

// NewClient creates a new Notion client with the given integration token.
// By default, API calls are throttled to 3 req/s (Notion's rate limit).
func NewClient(token string, opts ...ClientOption) Client {
	o := &clientOptions{limiter: rate.NewLimiter(3, 1)}
	for _, opt := range opts {
		opt(o)
	}
	var apiOpts []notionapi.ClientOption
	if o.httpClient != nil {
		apiOpts = append(apiOpts, notionapi.WithHTTPClient(o.httpClient))
	}
	return &notionClient{
		inner:   notionapi.NewClient(notionapi.Token(token), apiOpts...),
		limiter: o.limiter,
	}
}

func (c *notionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "notion: rate limit")
		}
	}
	page, err := c.inner.Page.Create(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "notion: create page")
	}
	return page, nil
}

// RichText returns s as plain rich text segments within Notion's length
// limit.
func RichText(s string) []notionapi.RichText {
	var out []notionapi.RichText
	for len(s) > 0 {
		n := len(s)
		if n > maxRichText {
			n = maxRichText
			// Do not split a multi-byte rune.
			for n > 0 && !utf8Start(s[n]) {
				n--
			}
		}
		out = append(out, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s[:n]},
		})
		s = s[n:]
	}
	return out
}

// Paragraphs converts text into one paragraph block per non-empty line.
func Paragraphs(text string) []notionapi.Block {
	var blocks []notionapi.Block
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		blocks = append(blocks, &notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeParagraph,
			},
			Paragraph: notionapi.Paragraph{RichText: RichText(line)},
		})
	}
	return blocks
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
