package handler

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/dyson-admin/internal/producttable"
	"github.com/xenking/dyson-admin/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

// pageSizes are the options of the page size selector.
var pageSizes = []int{10, 20, 50, 100}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// LoadingRefresh is the auto-refresh interval of a page rendered while
	// the product query is still loading.
	LoadingRefresh time.Duration
	// PageMiddleware wraps the screen page, which opens sessions.
	PageMiddleware []func(http.Handler) http.Handler
	// MutationMiddleware wraps every state-changing route (rate limiting).
	MutationMiddleware []func(http.Handler) http.Handler
}

// Handler serves the product table screen.
type Handler struct {
	sessions *session.Store
	tmpl     *template.Template
	cfg      HandlerConfig
}

// NewHandler parses the embedded templates and returns a Handler.
func NewHandler(cfg HandlerConfig, sessions *session.Store) (*Handler, error) {
	if cfg.LoadingRefresh <= 0 {
		cfg.LoadingRefresh = time.Second
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"add":   func(a, b int) int { return a + b },
		"lines": func(v []string) string { return strings.Join(v, "\n") },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	return &Handler{
		sessions: sessions,
		tmpl:     tmpl,
		cfg:      cfg,
	}, nil
}

// RegisterRoutes mounts the screen routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(h.cfg.PageMiddleware...).Get("/", h.render)

	r.Group(func(r chi.Router) {
		r.Use(h.cfg.MutationMiddleware...)

		r.Post("/filter", h.filter)
		r.Post("/page", h.page)
		r.Post("/modal/add", h.openAdd)
		r.Post("/modal/edit/{id}", h.openEdit)
		r.Post("/modal/close", h.closeModal)
		r.Post("/products", h.create)
		r.Post("/products/{id}", h.update)
		r.Post("/products/{id}/delete", h.delete)
	})
}

// screenPage is the template model.
type screenPage struct {
	producttable.View
	PageNumbers []int
	PageSizes   []int
	Refresh     int
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request) {
	screen, _ := h.sessions.Screen(w, r)
	v := screen.View(r.Context())

	name := "screen.html"
	status := http.StatusOK
	if v.Failed {
		name = "error.html"
		status = http.StatusBadGateway
	}

	p := screenPage{View: v, PageSizes: pageSizes}
	for i := 1; i <= v.Pages; i++ {
		p.PageNumbers = append(p.PageNumbers, i)
	}
	if v.Loading {
		p.Refresh = max(int(h.cfg.LoadingRefresh/time.Second), 1)
	}

	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, name, p); err != nil {
		zctx.From(r.Context()).Error("Render failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// back answers a form post by redirecting to the screen.
func back(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
