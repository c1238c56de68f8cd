package product

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// The wire shape follows the denormalized index document: snake_case platform
// attributes next to the camelCase price fields the storefront adds on top.
// Unknown keys are skipped so richer index documents still decode.

// FromBytes decodes a single product document.
func FromBytes(data []byte) (*Product, error) {
	d := jx.DecodeBytes(data)
	p := &Product{}
	if err := p.Decode(d); err != nil {
		return nil, err
	}
	return p, nil
}

// ToBytes encodes the product as a JSON document.
func (p *Product) ToBytes() []byte {
	e := &jx.Encoder{}
	p.Encode(e)
	return e.Bytes()
}

// Decode reads a product object from the decoder.
func (p *Product) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = decodeInt64(d)
		case "sku":
			p.SKU, err = d.Str()
		case "type_id":
			var s string
			s, err = d.Str()
			p.Type = Type(s)
		case "name":
			p.Name, err = d.Str()
		case "slug":
			p.Slug, err = d.Str()
		case "image":
			p.Image, err = decodeScalarString(d)
		case "sgn":
			p.Signature, err = d.Str()
		case "price":
			p.Price, err = decodeNullDecimal(d)
		case "priceInclTax":
			p.PriceInclTax, err = decodeNullDecimal(d)
		case "originalPrice":
			p.OriginalPrice, err = decodeNullDecimal(d)
		case "originalPriceInclTax":
			p.OriginalPriceInclTax, err = decodeNullDecimal(d)
		case "special_price":
			p.SpecialPrice, err = decodeNullDecimal(d)
		case "specialPriceInclTax":
			p.SpecialPriceInclTax, err = decodeNullDecimal(d)
		case "priceTax":
			p.PriceTax, err = decodeNullDecimal(d)
		case "specialPriceTax":
			p.SpecialPriceTax, err = decodeNullDecimal(d)
		case "originalPriceTax":
			p.OriginalPriceTax, err = decodeNullDecimal(d)
		case "price_is_current":
			p.PriceIsCurrent, err = d.Bool()
		case "price_refreshed_at":
			p.PriceRefreshedAt, err = decodeNullTime(d)
		case "configurable_children":
			err = d.Arr(func(d *jx.Decoder) error {
				child := &Product{}
				if err := child.Decode(d); err != nil {
					return err
				}
				p.ConfigurableChildren = append(p.ConfigurableChildren, child)
				return nil
			})
		case "configurable_options":
			err = d.Arr(func(d *jx.Decoder) error {
				opt, err := decodeConfigurableOption(d)
				if err != nil {
					return err
				}
				p.ConfigurableOptions = append(p.ConfigurableOptions, opt)
				return nil
			})
		case "product_links":
			err = d.Arr(func(d *jx.Decoder) error {
				link, err := decodeLink(d)
				if err != nil {
					return err
				}
				p.ProductLinks = append(p.ProductLinks, link)
				return nil
			})
		case "custom_attributes":
			err = d.Arr(func(d *jx.Decoder) error {
				attr, err := decodeAttribute(d)
				if err != nil {
					return err
				}
				p.CustomAttributes = append(p.CustomAttributes, attr)
				return nil
			})
		case "category":
			err = d.Arr(func(d *jx.Decoder) error {
				ref, err := decodeCategoryRef(d)
				if err != nil {
					return err
				}
				p.Categories = append(p.Categories, ref)
				return nil
			})
		default:
			return d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	})
}

// Encode writes the product as an object to the encoder.
func (p *Product) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("sku")
	e.Str(p.SKU)
	e.FieldStart("type_id")
	e.Str(string(p.Type))
	if p.Name != "" {
		e.FieldStart("name")
		e.Str(p.Name)
	}
	if p.Slug != "" {
		e.FieldStart("slug")
		e.Str(p.Slug)
	}
	if p.Image != "" {
		e.FieldStart("image")
		e.Str(p.Image)
	}
	if p.Signature != "" {
		e.FieldStart("sgn")
		e.Str(p.Signature)
	}

	encodeNullDecimal(e, "price", p.Price)
	encodeNullDecimal(e, "priceInclTax", p.PriceInclTax)
	encodeNullDecimal(e, "originalPrice", p.OriginalPrice)
	encodeNullDecimal(e, "originalPriceInclTax", p.OriginalPriceInclTax)
	encodeNullDecimal(e, "special_price", p.SpecialPrice)
	encodeNullDecimal(e, "specialPriceInclTax", p.SpecialPriceInclTax)
	encodeNullDecimal(e, "priceTax", p.PriceTax)
	encodeNullDecimal(e, "specialPriceTax", p.SpecialPriceTax)
	encodeNullDecimal(e, "originalPriceTax", p.OriginalPriceTax)

	e.FieldStart("price_is_current")
	e.Bool(p.PriceIsCurrent)
	e.FieldStart("price_refreshed_at")
	if p.PriceRefreshedAt == nil {
		e.Null()
	} else {
		e.Str(p.PriceRefreshedAt.UTC().Format(time.RFC3339Nano))
	}

	if len(p.ConfigurableChildren) > 0 {
		e.FieldStart("configurable_children")
		e.ArrStart()
		for _, child := range p.ConfigurableChildren {
			child.Encode(e)
		}
		e.ArrEnd()
	}
	if len(p.ConfigurableOptions) > 0 {
		e.FieldStart("configurable_options")
		e.ArrStart()
		for _, opt := range p.ConfigurableOptions {
			encodeConfigurableOption(e, opt)
		}
		e.ArrEnd()
	}
	if len(p.ProductLinks) > 0 {
		e.FieldStart("product_links")
		e.ArrStart()
		for _, link := range p.ProductLinks {
			encodeLink(e, link)
		}
		e.ArrEnd()
	}
	if len(p.CustomAttributes) > 0 {
		e.FieldStart("custom_attributes")
		e.ArrStart()
		for _, attr := range p.CustomAttributes {
			e.ObjStart()
			e.FieldStart("attribute_code")
			e.Str(attr.Code)
			e.FieldStart("value")
			e.Str(attr.Value)
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	if len(p.Categories) > 0 {
		e.FieldStart("category")
		e.ArrStart()
		for _, ref := range p.Categories {
			e.ObjStart()
			e.FieldStart("category_id")
			e.Int64(ref.ID)
			if ref.Slug != "" {
				e.FieldStart("slug")
				e.Str(ref.Slug)
			}
			if ref.Name != "" {
				e.FieldStart("name")
				e.Str(ref.Name)
			}
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}

func decodeConfigurableOption(d *jx.Decoder) (ConfigurableOption, error) {
	var opt ConfigurableOption
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "attribute_id":
			opt.AttributeID, err = decodeInt64(d)
		case "label":
			opt.Label, err = d.Str()
		case "values":
			err = d.Arr(func(d *jx.Decoder) error {
				// Values arrive either as bare indexes or {"value_index": n}.
				if d.Next() != jx.Object {
					v, err := decodeScalarString(d)
					if err != nil {
						return err
					}
					opt.Values = append(opt.Values, v)
					return nil
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "value_index" {
						return d.Skip()
					}
					v, err := decodeScalarString(d)
					if err != nil {
						return err
					}
					opt.Values = append(opt.Values, v)
					return nil
				})
			})
		default:
			return d.Skip()
		}
		return err
	})
	return opt, err
}

func encodeConfigurableOption(e *jx.Encoder, opt ConfigurableOption) {
	e.ObjStart()
	e.FieldStart("attribute_id")
	e.Int64(opt.AttributeID)
	e.FieldStart("label")
	e.Str(opt.Label)
	e.FieldStart("values")
	e.ArrStart()
	for _, v := range opt.Values {
		e.ObjStart()
		e.FieldStart("value_index")
		e.Str(v)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func decodeLink(d *jx.Decoder) (*Link, error) {
	link := &Link{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "link_type":
			link.LinkType, err = d.Str()
		case "linked_product_type":
			var s string
			s, err = d.Str()
			link.LinkedProductType = Type(s)
		case "linked_product_sku":
			link.LinkedSKU, err = d.Str()
		case "qty":
			var n int64
			n, err = decodeInt64(d)
			link.Qty = int(n)
		case "product":
			if d.Next() == jx.Null {
				return d.Null()
			}
			link.Product = &Product{}
			err = link.Product.Decode(d)
		default:
			return d.Skip()
		}
		return err
	})
	return link, err
}

func encodeLink(e *jx.Encoder, link *Link) {
	e.ObjStart()
	e.FieldStart("link_type")
	e.Str(link.LinkType)
	e.FieldStart("linked_product_type")
	e.Str(string(link.LinkedProductType))
	e.FieldStart("linked_product_sku")
	e.Str(link.LinkedSKU)
	if link.Qty != 0 {
		e.FieldStart("qty")
		e.Int(link.Qty)
	}
	if link.Product != nil {
		e.FieldStart("product")
		link.Product.Encode(e)
	}
	e.ObjEnd()
}

func decodeAttribute(d *jx.Decoder) (Attribute, error) {
	var attr Attribute
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "attribute_code":
			attr.Code, err = d.Str()
		case "value":
			attr.Value, err = decodeScalarString(d)
		default:
			return d.Skip()
		}
		return err
	})
	return attr, err
}

func decodeCategoryRef(d *jx.Decoder) (CategoryRef, error) {
	var ref CategoryRef
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "category_id":
			ref.ID, err = decodeInt64(d)
		case "slug":
			ref.Slug, err = d.Str()
		case "name":
			ref.Name, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	return ref, err
}

// decodeScalarString reads a string, number, bool or null as its string form.
// Index documents are inconsistent about attribute value types.
func decodeScalarString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return strings.Trim(n.String(), `"`), nil
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s for scalar", d.Next())
	}
}

func decodeInt64(d *jx.Decoder) (int64, error) {
	s, err := decodeScalarString(d)
	if err != nil || s == "" {
		return 0, err
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrap(err, "parse integer")
	}
	return v.IntPart(), nil
}

func decodeNullDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	s, err := decodeScalarString(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, errors.Wrap(err, "parse decimal")
	}
	return Dec(v), nil
}

func decodeNullTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, errors.Wrap(err, "parse timestamp")
	}
	return &t, nil
}

func encodeNullDecimal(e *jx.Encoder, field string, v decimal.NullDecimal) {
	e.FieldStart(field)
	if !v.Valid {
		e.Null()
		return
	}
	e.RawStr(v.Decimal.String())
}
