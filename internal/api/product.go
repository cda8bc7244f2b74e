package api

import (
	"net/http"

	"github.com/go-faster/jx"
)

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.products.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("results")
		e.Int(len(products))
		e.FieldStart("products")
		e.ArrStart()
		for _, p := range products {
			s.encodeProduct(e, p)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		s.encodeProduct(e, *p)
	})
}
