// Package platform fetches authoritative, tax-inclusive price quotes from the
// commerce backend.
package platform

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-catalog/internal/catalog/pricing"
)

// Client implements pricing.PriceSource against the backend render-list
// endpoint, which returns current price quotes for a batch of SKUs.
type Client struct {
	endpoint string
	currency string
	http     *http.Client
	lg       *zap.Logger
}

var _ pricing.PriceSource = (*Client)(nil)

// NewClient creates a price quote client. A nil httpClient falls back to
// http.DefaultClient.
func NewClient(endpoint, currency string, httpClient *http.Client, lg *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Client{endpoint: endpoint, currency: currency, http: httpClient, lg: lg}
}

// Prices fetches quotes for the SKU batch in a single request. SKUs without a
// backend record are simply absent from the result.
func (c *Client) Prices(ctx context.Context, skus []string) ([]pricing.PriceRecord, error) {
	params := url.Values{}
	params.Set("skus", strings.Join(skus, ","))
	params.Set("currencyCode", c.currency)
	u := c.endpoint + "/render-list?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build prices request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "execute prices request")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("backend returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read prices response")
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode prices response")
	}
	c.lg.Debug("platform prices fetched",
		zap.Int("requested", len(skus)),
		zap.Int("returned", len(records)))
	return records, nil
}

func decodeRecords(body []byte) ([]pricing.PriceRecord, error) {
	var records []pricing.PriceRecord
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			rec, err := decodeRecord(d)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

func decodeRecord(d *jx.Decoder) (pricing.PriceRecord, error) {
	var rec pricing.PriceRecord
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			rec.ID, err = d.Int64()
		case "sgn":
			rec.Signature, err = d.Str()
		case "price_info":
			return d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "final_price":
					rec.FinalInclTax, err = decodeDecimal(d)
				case "regular_price":
					rec.RegularInclTax, err = decodeDecimal(d)
				case "special_price":
					rec.SpecialInclTax, err = decodeDecimal(d)
				case "extension_attributes":
					return d.Obj(func(d *jx.Decoder, key string) error {
						if key != "tax_adjustments" {
							return d.Skip()
						}
						return d.Obj(func(d *jx.Decoder, key string) error {
							var err error
							switch key {
							case "final_price":
								rec.FinalNet, err = decodeDecimal(d)
							case "regular_price":
								rec.RegularNet, err = decodeDecimal(d)
							case "special_price":
								rec.SpecialNet, err = decodeDecimal(d)
							default:
								return d.Skip()
							}
							return err
						})
					})
				default:
					return d.Skip()
				}
				return err
			})
		default:
			return d.Skip()
		}
		return err
	})
	return rec, err
}

// decodeDecimal reads a JSON number as a decimal; null decodes as zero, which
// is how the backend encodes "no special price".
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return decimal.Zero, d.Null()
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(strings.Trim(n.String(), `"`))
}
