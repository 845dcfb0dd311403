package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/name-pipeline/internal/service"
)

func RegisterHandlers(r *gin.Engine, ingest *service.IngestService, query *service.QueryService) {
	api := r.Group("/api")
	{
		api.POST("/names", createNameHandler(ingest))
		api.GET("/entries", listEntriesHandler(query))
	}
}

func healthHandler(breaker interface{ State() string }) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{"status": "ok"}
		if breaker != nil {
			resp["publish"] = breaker.State()
		}
		c.JSON(http.StatusOK, resp)
	}
}

type createNameReq struct {
	LastName  string `json:"lastName" binding:"required"`
	FirstName string `json:"firstName" binding:"required"`
}

func createNameHandler(svc *service.IngestService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createNameReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		entry, err := svc.CreateName(c, req.LastName, req.FirstName)
		if err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

func listEntriesHandler(svc *service.QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := svc.ListEntries(c)
		if err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrPublish):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
