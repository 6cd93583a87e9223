package main

import (
	"errors"
	"net/http"
	"strconv"

	"interaction-pipeline/models"
	"interaction-pipeline/providers"
	"interaction-pipeline/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor bildet Service-Fehler auf HTTP-Status ab.
func statusFor(err error) int {
	var pe *services.PipelineError
	switch {
	case errors.Is(err, services.ErrRunInProgress), errors.Is(err, services.ErrDuplicateToken):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidPair), errors.Is(err, services.ErrEmptyToken),
		errors.Is(err, services.ErrInvalidBatchSize), errors.Is(err, providers.ErrInvalidSource):
		return http.StatusBadRequest
	case errors.As(err, &pe):
		switch pe.Kind {
		case services.KindUsage:
			return http.StatusBadRequest
		case services.KindValidation:
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func setupInteractionRoutes(router *gin.Engine, a *app) {
	rg := router.Group("/interactions")

	// Lookup über Wirkstoff-IDs, Reihenfolge egal
	rg.GET("/lookup", func(c *gin.Context) {
		view, err := a.lookup.LookupInteraction(c.Request.Context(), c.Query("a"), c.Query("b"))
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				a.log.Error("Interaction lookup failed", zap.Error(err))
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	})

	// Lookup über freie Namen
	rg.GET("/check", func(c *gin.Context) {
		view, err := a.lookup.LookupByNames(c.Request.Context(), c.Query("a"), c.Query("b"))
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				a.log.Error("Interaction check failed", zap.Error(err))
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	})
}

func setupSubstanceRoutes(router *gin.Engine, a *app) {
	rg := router.Group("/substances")

	rg.GET("/autocomplete", func(c *gin.Context) {
		typ := models.SubstanceType(c.Query("type"))
		if typ != "" && !typ.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be drug or supplement"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
		subs, err := a.lookup.Autocomplete(c.Request.Context(), c.Query("q"), typ, limit)
		if err != nil {
			a.log.Error("Autocomplete failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, subs)
	})
}

func setupIngestionRoutes(router *gin.Engine, a *app) {
	rg := router.Group("/ingestions")

	rg.GET("", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
		entries, err := a.audit.List(c.Request.Context(), limit)
		if err != nil {
			a.log.Error("Listing audit records failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, entries)
	})

	rg.GET("/:id", func(c *gin.Context) {
		entry, err := a.audit.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entry)
	})

	// CSV im Body, Optionen als Query-Parameter
	rg.POST("", apiKeyAuthMiddleware(a.cfg), func(c *gin.Context) {
		opts := services.RunOptions{}
		var err error
		if v := c.Query("dry_run"); v != "" {
			if opts.DryRun, err = strconv.ParseBool(v); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "dry_run must be a boolean"})
				return
			}
		}
		if v := c.Query("skip_verify"); v != "" {
			if opts.SkipVerify, err = strconv.ParseBool(v); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "skip_verify must be a boolean"})
				return
			}
		}
		if v := c.Query("batch_size"); v != "" {
			if opts.BatchSize, err = strconv.Atoi(v); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "batch_size must be an integer"})
				return
			}
			if err := services.ValidateBatchSize(opts.BatchSize); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		body := http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		opts.Source = providers.FromReader(c.DefaultQuery("filename", "upload.csv"), body)

		report, err := a.ingestion.Run(c.Request.Context(), opts)
		if err != nil {
			resp := gin.H{"error": err.Error(), "run": report}
			var pe *services.PipelineError
			if errors.As(err, &pe) && pe.Report != nil {
				resp["report"] = pe.Report
			}
			c.JSON(statusFor(err), resp)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func setupIntegrityRoutes(router *gin.Engine, a *app) {
	router.POST("/integrity/verify", apiKeyAuthMiddleware(a.cfg), func(c *gin.Context) {
		report := a.verifier.Verify(c.Request.Context())
		status := http.StatusOK
		if !report.Passed {
			status = http.StatusInternalServerError
		}
		c.JSON(status, report)
	})
}
