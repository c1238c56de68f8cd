// Package api exposes the catalog operations over HTTP.
package api

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-catalog/internal/catalog"
	"github.com/xenking/storefront-catalog/internal/catalog/variant"
	"github.com/xenking/storefront-catalog/internal/domain/product"
	"github.com/xenking/storefront-catalog/internal/search"
)

// Handler serves the catalog HTTP API, delegating to the catalog service.
type Handler struct {
	catalog *catalog.Service
}

// NewHandler constructs a Handler around the catalog service.
func NewHandler(svc *catalog.Service) *Handler {
	return &Handler{catalog: svc}
}

// Register mounts the API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/catalog/products/{sku}", h.getProduct)
	mux.HandleFunc("POST /api/catalog/products/search", h.searchProducts)
	mux.HandleFunc("POST /api/catalog/products/{sku}/configure", h.configureProduct)
	mux.HandleFunc("GET /api/catalog/current", h.currentState)
	mux.HandleFunc("POST /api/catalog/reset", h.reset)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts := catalog.SingleBySKU(r.PathValue("sku"))
	opts.ChildSKU = r.URL.Query().Get("childSku")

	p, err := h.catalog.Single(ctx, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Enrichment side outputs: parent backfill, selector options, breadcrumbs.
	// All degrade internally; the product response does not depend on them.
	h.catalog.CheckConfigurableParent(ctx, p)
	h.catalog.SetupVariants(ctx, p)
	h.catalog.SetupBreadcrumbs(ctx, p)

	e := &jx.Encoder{}
	p.Encode(e)
	writeJSON(w, http.StatusOK, e.Bytes())
}

// searchRequest is the body of the search endpoint: an exact-match lookup
// plus pagination.
type searchRequest struct {
	Field      string
	Value      string
	Start      int
	Size       int
	Sort       string
	EntityType string
}

func (h *Handler) searchProducts(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "cannot read body")
		return
	}
	req, err := decodeSearchRequest(body)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed search request")
		return
	}

	q := search.NewQuery()
	if req.Field != "" {
		q.Match(req.Field, req.Value)
	}
	opts := catalog.NewListOptions(q)
	opts.Start = req.Start
	if req.Size > 0 {
		opts.Size = req.Size
	}
	opts.Sort = req.Sort
	opts.EntityType = req.EntityType

	resp, err := h.catalog.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, p := range resp.Items {
		p.Encode(e)
	}
	e.ArrEnd()
	e.FieldStart("total")
	e.Int(resp.Total)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) configureProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "cannot read body")
		return
	}
	cfg, err := decodeConfiguration(body)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed configuration")
		return
	}

	opts := catalog.SingleBySKU(r.PathValue("sku"))
	opts.SelectDefaultVariant = false
	p, err := h.catalog.Single(ctx, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resolved := h.catalog.Configure(ctx, p, cfg, true)
	e := &jx.Encoder{}
	resolved.Encode(e)
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) currentState(w http.ResponseWriter, r *http.Request) {
	state := h.catalog.State()

	e := &jx.Encoder{}
	e.ObjStart()

	writeProductField(e, "current", state.Current())
	writeProductField(e, "original", state.Original())
	writeProductField(e, "parent", state.Parent())

	e.FieldStart("configuration")
	e.ObjStart()
	for code, opt := range state.Configuration() {
		e.FieldStart(code)
		encodeOption(e, opt)
	}
	e.ObjEnd()

	e.FieldStart("options")
	e.ObjStart()
	for label, opts := range state.Options() {
		e.FieldStart(label)
		e.ArrStart()
		for _, opt := range opts {
			encodeOption(e, opt)
		}
		e.ArrEnd()
	}
	e.ObjEnd()

	crumbs := state.CurrentBreadcrumbs()
	e.FieldStart("breadcrumbs")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(crumbs.Name)
	e.FieldStart("routes")
	e.ArrStart()
	for _, route := range crumbs.Routes {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(route.Name)
		e.FieldStart("slug")
		e.Str(route.Slug)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	e.ObjEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	h.catalog.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func decodeSearchRequest(body []byte) (searchRequest, error) {
	var req searchRequest
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "field":
			req.Field, err = d.Str()
		case "value":
			req.Value, err = d.Str()
		case "start":
			req.Start, err = d.Int()
		case "size":
			req.Size, err = d.Int()
		case "sort":
			req.Sort, err = d.Str()
		case "entityType":
			req.EntityType, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	return req, err
}

func decodeConfiguration(body []byte) (variant.Configuration, error) {
	cfg := variant.Configuration{Attributes: map[string]variant.SelectedOption{}}
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "childSku":
			sku, err := d.Str()
			cfg.SKU = sku
			return err
		case "attributes":
			return d.Obj(func(d *jx.Decoder, code string) error {
				var opt variant.SelectedOption
				err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "id":
						opt.ID, err = d.Str()
					case "label":
						opt.Label, err = d.Str()
					default:
						return d.Skip()
					}
					return err
				})
				if err != nil {
					return err
				}
				cfg.Attributes[code] = opt
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return cfg, err
}

func writeProductField(e *jx.Encoder, field string, p *product.Product) {
	e.FieldStart(field)
	if p == nil {
		e.Null()
		return
	}
	p.Encode(e)
}

func encodeOption(e *jx.Encoder, opt variant.SelectedOption) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(opt.ID)
	e.FieldStart("label")
	e.Str(opt.Label)
	e.ObjEnd()
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *catalog.UpstreamError
	switch {
	case errors.Is(err, catalog.ErrInvalidArgument):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, product.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "product not found")
	case errors.As(err, &upstream):
		zctx.From(r.Context()).Error("upstream failure", zap.Error(err))
		writeErrorMessage(w, http.StatusBadGateway, "upstream unavailable")
	default:
		zctx.From(r.Context()).Error("internal error", zap.Error(err))
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, e.Bytes())
}
