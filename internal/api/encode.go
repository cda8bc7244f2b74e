package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/jx"

	"github.com/veskor/bazaar/internal/domain/cart"
	"github.com/veskor/bazaar/internal/domain/order"
	"github.com/veskor/bazaar/internal/domain/product"
)

// writeJSON streams an encoded body with the given status.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := &jx.Encoder{}
	encode(e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("status")
		e.Str("error")
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

func (s *Server) imageURL(path string) string {
	if path == "" || s.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimSuffix(s.imageBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (s *Server) encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	e.Float64(p.Price.InexactFloat64())
	e.FieldStart("quantity")
	e.Int(p.Quantity)
	e.FieldStart("sold")
	e.Int(p.Sold)
	if p.ImageCover != "" {
		e.FieldStart("imageCover")
		e.Str(s.imageURL(p.ImageCover))
	}
	if len(p.Variants) > 0 {
		e.FieldStart("variants")
		e.ArrStart()
		for _, v := range p.Variants {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(v.ID)
			e.FieldStart("color")
			e.Str(v.Color)
			e.FieldStart("quantity")
			e.Int(v.Quantity)
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.ObjStart()
	encodeCartFields(e, c)
	e.ObjEnd()
}

func encodeCartFields(e *jx.Encoder, c *cart.Cart) {
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range c.Items {
		encodeItem(e, it)
	}
	e.ArrEnd()
	e.FieldStart("totalPrice")
	e.Float64(c.TotalPrice.InexactFloat64())
	if c.TotalAfterDiscount != nil {
		e.FieldStart("totalPriceAfterDiscount")
		e.Float64(c.TotalAfterDiscount.InexactFloat64())
	}
}

func encodeItem(e *jx.Encoder, it cart.Item) {
	e.ObjStart()
	encodeItemFields(e, it)
	e.ObjEnd()
}

func encodeItemFields(e *jx.Encoder, it cart.Item) {
	e.FieldStart("id")
	e.Str(it.ID)
	e.FieldStart("productId")
	e.Str(it.ProductID)
	if it.Color != "" {
		e.FieldStart("color")
		e.Str(it.Color)
	}
	e.FieldStart("quantity")
	e.Int(it.Quantity)
	e.FieldStart("price")
	e.Float64(it.Price.InexactFloat64())
}

// encodeView writes the reconciled cart. A view with drift flags gets
// status "warn" plus per-item diagnostics; a clean view is status "ok".
func (s *Server) encodeView(e *jx.Encoder, v *cart.View) {
	e.ObjStart()
	e.FieldStart("status")
	if v.ProductChanged || v.PriceChanged {
		e.Str("warn")
	} else {
		e.Str("ok")
	}
	if v.ProductChanged {
		e.FieldStart("productChanged")
		e.Bool(true)
	}
	if v.PriceChanged {
		e.FieldStart("priceChanged")
		e.Bool(true)
	}
	e.FieldStart("cart")
	e.ObjStart()
	e.FieldStart("id")
	e.Str(v.Cart.ID)
	e.FieldStart("items")
	e.ArrStart()
	for _, iv := range v.Items {
		s.encodeItemView(e, iv)
	}
	e.ArrEnd()
	e.FieldStart("totalPrice")
	e.Float64(v.Cart.TotalPrice.InexactFloat64())
	if v.Cart.TotalAfterDiscount != nil {
		e.FieldStart("totalPriceAfterDiscount")
		e.Float64(v.Cart.TotalAfterDiscount.InexactFloat64())
	}
	e.ObjEnd()
	e.ObjEnd()
}

func (s *Server) encodeItemView(e *jx.Encoder, iv cart.ItemView) {
	e.ObjStart()
	encodeItemFields(e, iv.Item)
	if iv.Exists {
		e.FieldStart("name")
		e.Str(iv.ProductName)
		if iv.ImageCover != "" {
			e.FieldStart("imageCover")
			e.Str(s.imageURL(iv.ImageCover))
		}
	} else {
		e.FieldStart("exists")
		e.Bool(false)
	}
	if iv.AvailabilityChanged {
		e.FieldStart("availabilityChanged")
		e.Bool(true)
		if iv.Exists {
			e.FieldStart("availableQuantity")
			e.Int(iv.AvailableQuantity)
		}
	}
	e.ObjEnd()
}

func (s *Server) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		if it.Name != "" {
			e.FieldStart("name")
			e.Str(it.Name)
		}
		if it.ImageCover != "" {
			e.FieldStart("imageCover")
			e.Str(s.imageURL(it.ImageCover))
		}
		e.FieldStart("price")
		e.Float64(it.Price.InexactFloat64())
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		if it.Color != "" {
			e.FieldStart("color")
			e.Str(it.Color)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("shippingAddress")
	encodeAddress(e, o.ShippingAddress)
	e.FieldStart("totalPrice")
	e.Float64(o.TotalPrice.InexactFloat64())
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	e.FieldStart("paid")
	e.Bool(o.Paid)
	encodeOptTime(e, "paidAt", o.PaidAt)
	e.FieldStart("delivered")
	e.Bool(o.Delivered)
	encodeOptTime(e, "deliveredAt", o.DeliveredAt)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.Format(time.RFC3339))
	e.ObjEnd()
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.ObjStart()
	if a.Alias != "" {
		e.FieldStart("alias")
		e.Str(a.Alias)
	}
	if a.Details != "" {
		e.FieldStart("details")
		e.Str(a.Details)
	}
	if a.Phone != "" {
		e.FieldStart("phone")
		e.Str(a.Phone)
	}
	if a.City != "" {
		e.FieldStart("city")
		e.Str(a.City)
	}
	if a.PostalCode != "" {
		e.FieldStart("postalCode")
		e.Str(a.PostalCode)
	}
	e.ObjEnd()
}

func encodeOptTime(e *jx.Encoder, field string, t *time.Time) {
	if t == nil {
		return
	}
	e.FieldStart(field)
	e.Str(t.Format(time.RFC3339))
}
