package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-catalog/internal/domain/product"
)

// Request is one paginated index query.
type Request struct {
	Query      *Query
	Start      int
	Size       int
	EntityType string
	Sort       string
}

// Response is a page of matching products.
type Response struct {
	Items []*product.Product
	Total int
}

// Client executes structured queries against the search index.
type Client interface {
	Search(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient talks to the index service over HTTP. The service answers
// POST {endpoint}/{entityType}/_search with {"items": [...], "total": n}.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	lg       *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an index client for the given base endpoint. A nil
// httpClient falls back to http.DefaultClient.
func NewHTTPClient(endpoint string, httpClient *http.Client, lg *zap.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &HTTPClient{endpoint: endpoint, http: httpClient, lg: lg}
}

// Search runs the query and decodes the result page.
func (c *HTTPClient) Search(ctx context.Context, req Request) (*Response, error) {
	entity := req.EntityType
	if entity == "" {
		entity = "product"
	}
	size := req.Size
	if size <= 0 {
		size = 50
	}
	q := req.Query
	if q == nil {
		q = NewQuery()
	}

	params := url.Values{}
	params.Set("from", strconv.Itoa(req.Start))
	params.Set("size", strconv.Itoa(size))
	if req.Sort != "" {
		params.Set("sort", req.Sort)
	}
	u := fmt.Sprintf("%s/%s/_search?%s", c.endpoint, url.PathEscape(entity), params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(q.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "build search request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "execute search")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("search index returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read search response")
	}

	out, err := decodeResponse(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode search response")
	}
	c.lg.Debug("search executed",
		zap.String("entity", entity),
		zap.Int("items", len(out.Items)),
		zap.Int("total", out.Total))
	return out, nil
}

func decodeResponse(body []byte) (*Response, error) {
	out := &Response{}
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				p := &product.Product{}
				if err := p.Decode(d); err != nil {
					return err
				}
				out.Items = append(out.Items, p)
				return nil
			})
		case "total":
			n, err := d.Int()
			out.Total = n
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if out.Total == 0 {
		out.Total = len(out.Items)
	}
	return out, nil
}
