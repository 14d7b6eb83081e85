package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// LookupCert godoc
// @Summary      Look up a graded card by cert number
// @Description  Returns the certification record with scored sold, active and auction listings
// @Tags         psa-lookup
// @Produce      json
// @Param        certNumber  path  string  true  "Cert number (7-9 digits)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      429  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /psa-lookup/{certNumber} [get]
func (h *Handler) LookupCert(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.lookup-cert")
	defer span.End()

	certNumber := c.Param("certNumber")
	span.SetAttributes(attribute.String("cert.number", certNumber))

	result, err := h.lookup.LookupByCert(ctx, certNumber)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// GetPopulation godoc
// @Summary      Population report
// @Description  Returns the graded population for a spec id
// @Tags         psa-lookup
// @Produce      json
// @Param        specId  path  string  true  "Spec id"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /psa-lookup/pop/{specId} [get]
func (h *Handler) GetPopulation(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-population")
	defer span.End()

	specID := c.Param("specId")
	span.SetAttributes(attribute.String("spec.id", specID))

	pop, err := h.lookup.LookupPopulation(ctx, specID)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      pop.Population,
		"cached":    pop.Cached,
		"fetchedAt": pop.FetchedAt,
	})
}

// ValidateCert godoc
// @Summary      Validate a cert number
// @Description  Checks the format and whether the cert exists, without fetching market data
// @Tags         psa-lookup
// @Produce      json
// @Param        certNumber  path  string  true  "Cert number"
// @Success      200  {object}  map[string]interface{}
// @Failure      429  {object}  ErrorResponse
// @Failure      502  {object}  ErrorResponse
// @Router       /psa-lookup/validate/{certNumber} [get]
func (h *Handler) ValidateCert(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.validate-cert")
	defer span.End()

	out, err := h.lookup.ValidateCert(ctx, c.Param("certNumber"))
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"certNumber": out.CertNumber,
		"valid":      out.Valid,
		"exists":     out.Exists,
	})
}
