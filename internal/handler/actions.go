package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/dyson-admin/internal/domain/product"
	"github.com/xenking/dyson-admin/internal/producttable"
)

// filter handles the search box and both selectors. The form carries the
// changed field and its new value.
func (h *Handler) filter(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	value := r.PostForm.Get("value")
	var action producttable.Action
	switch field := r.PostForm.Get("field"); field {
	case "name":
		action = producttable.SetName{Name: value}
	case "category":
		var category *string
		if value != "" {
			category = &value
		}
		action = producttable.SetCategory{Category: category}
	case "sort":
		s, err := product.ParseSort(value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		action = producttable.SetSort{Sort: s}
	default:
		http.Error(w, "unknown filter field "+strconv.Quote(field), http.StatusBadRequest)
		return
	}

	screen, _ := h.sessions.Screen(w, r)
	screen.OnFilterChange(action)
	back(w, r)
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page, err := strconv.Atoi(r.PostForm.Get("page"))
	if err != nil {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	// An absent or malformed page size falls back to the default.
	limit, _ := strconv.Atoi(r.PostForm.Get("limit"))

	screen, _ := h.sessions.Screen(w, r)
	screen.OnPageChange(page, limit)
	back(w, r)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	screen, _ := h.sessions.Screen(w, r)

	// The outcome is reported to the admin through a toast.
	if err := screen.OnDeleteConfirmed(r.Context(), id); err != nil && !errors.Is(err, producttable.ErrDeleteInFlight) {
		zctx.From(r.Context()).Info("Delete rejected", zap.String("product_id", id), zap.Error(err))
	}
	back(w, r)
}

func (h *Handler) openAdd(w http.ResponseWriter, r *http.Request) {
	screen, _ := h.sessions.Screen(w, r)
	screen.OpenAdd()
	back(w, r)
}

func (h *Handler) openEdit(w http.ResponseWriter, r *http.Request) {
	screen, _ := h.sessions.Screen(w, r)
	if err := screen.OpenEdit(chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	back(w, r)
}

func (h *Handler) closeModal(w http.ResponseWriter, r *http.Request) {
	screen, _ := h.sessions.Screen(w, r)
	screen.CloseModal()
	back(w, r)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, err := parseInput(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	screen, _ := h.sessions.Screen(w, r)
	if err := screen.SaveAdd(r.Context(), in); errors.Is(err, producttable.ErrNoDialog) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	back(w, r)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	in, err := parseInput(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	screen, _ := h.sessions.Screen(w, r)
	if row, ok := screen.Modal().Editing(); !ok || row.Key != chi.URLParam(r, "id") {
		http.Error(w, producttable.ErrNoDialog.Error(), http.StatusConflict)
		return
	}
	// Failures are reported through a toast and keep the dialog open.
	_ = screen.SaveEdit(r.Context(), in)
	back(w, r)
}

// parseInput reads the add/edit dialog form. Images are one URL per line.
func parseInput(r *http.Request) (product.Input, error) {
	if err := r.ParseForm(); err != nil {
		return product.Input{}, err
	}
	f := r.PostForm

	in := product.Input{
		Name:        strings.TrimSpace(f.Get("name")),
		Description: f.Get("description"),
		Category:    f.Get("category"),
	}

	var err error
	if in.Price, err = formDecimal(f.Get("price")); err != nil {
		return in, errors.Wrap(err, "price")
	}
	if in.Discount, err = formDecimal(f.Get("discount")); err != nil {
		return in, errors.Wrap(err, "discount")
	}
	if q := strings.TrimSpace(f.Get("quantity")); q != "" {
		if in.Quantity, err = strconv.Atoi(q); err != nil {
			return in, errors.Wrap(err, "quantity")
		}
	}
	for _, line := range strings.Split(f.Get("images"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			in.Images = append(in.Images, line)
		}
	}
	return in, nil
}

func formDecimal(v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}
