package handler

import (
	"context"

	"slab-scout/internal/cache"
	"slab-scout/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// LookupService is the orchestrator surface the HTTP layer needs.
type LookupService interface {
	LookupByCert(ctx context.Context, certNumber string) (*domain.LookupResult, error)
	LookupPopulation(ctx context.Context, specID string) (*domain.PopulationLookup, error)
	ValidateCert(ctx context.Context, certNumber string) (*domain.CertValidation, error)
	CacheStats(ctx context.Context) (cache.Stats, error)
	ClearCache(ctx context.Context) error
}

type Handler struct {
	tracer trace.Tracer
	lookup LookupService
}

func New(tracer trace.Tracer, lookup LookupService) *Handler {
	return &Handler{
		tracer: tracer,
		lookup: lookup,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	g := r.Group("/psa-lookup")
	g.GET("/pop/:specId", h.GetPopulation)
	g.GET("/validate/:certNumber", h.ValidateCert)
	g.GET("/cache/stats", h.CacheStats)
	g.POST("/cache/clear", h.ClearCache)
	g.GET("/:certNumber", h.LookupCert)
}
