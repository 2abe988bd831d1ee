package dysonapi

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/dyson-admin/internal/domain/product"
)

func decodeCategories(data []byte) ([]product.Category, error) {
	var out []product.Category
	d := jx.DecodeBytes(data)
	if err := d.Arr(func(d *jx.Decoder) error {
		var c product.Category
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "_id", "id":
				v, err := d.Str()
				c.ID = v
				return err
			case "name":
				v, err := d.Str()
				c.Name = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func decodePage(data []byte) (*product.Page, error) {
	page := &product.Page{}
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "items":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return err
				}
				page.Items = append(page.Items, p)
				return nil
			})
		case "count":
			v, err := d.Int()
			page.Count = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, err
	}
	return page, nil
}

// DecodeProduct decodes a single product in the catalog API format. It is
// also the line format of catalog feeds.
func DecodeProduct(data []byte) (product.Product, error) {
	return decodeProduct(jx.DecodeBytes(data))
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "_id", "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = optStr(d)
		case "description":
			p.Description, err = optStr(d)
		case "category":
			p.Category, err = decodeCategoryRef(d)
		case "price":
			p.Price, err = decodeDecimal(d)
		case "discount":
			p.Discount, err = decodeDecimal(d)
		case "quantity":
			p.Quantity, err = decodeInt(d)
		case "images":
			p.Images, err = decodeStrings(d)
		case "createdAt":
			var s string
			if s, err = optStr(d); err == nil && s != "" {
				p.CreatedAt, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			err = d.Skip()
		}
		return errors.Wrapf(err, "field %q", key)
	})
	return p, err
}

// decodeCategoryRef accepts either a plain category name or a populated
// category object.
func decodeCategoryRef(d *jx.Decoder) (string, error) {
	if d.Next() != jx.Object {
		return optStr(d)
	}
	var name string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "name" {
			return d.Skip()
		}
		v, err := d.Str()
		name = v
		return err
	})
	return name, err
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}

func decodeInt(d *jx.Decoder) (int, error) {
	v, err := decodeDecimal(d)
	if err != nil {
		return 0, err
	}
	return int(v.IntPart()), nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func encodeInput(in product.Input) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(in.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(in.Description) })
		e.Field("category", func(e *jx.Encoder) { e.Str(in.Category) })
		e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(in.Price.String())) })
		e.Field("discount", func(e *jx.Encoder) { e.Num(jx.Num(in.Discount.String())) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(in.Quantity) })
		e.Field("images", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, img := range in.Images {
					e.Str(img)
				}
			})
		})
	})
	return e.Bytes()
}

// errorMessage extracts {"message": "..."} from an error body, falling back
// to the truncated raw body.
func errorMessage(data []byte) string {
	var msg string
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "message" || d.Next() != jx.String {
			return d.Skip()
		}
		v, err := d.Str()
		msg = v
		return err
	}); err == nil && msg != "" {
		return msg
	}
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
