package api

import (
	"errors"
	"net/http"

	"kbserve/src/internal/kb"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "memories": s.KB.Size()})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"memories": s.KB.Size(), "dimension": s.KB.Dimension()})
}

type addRequest struct {
	Content  string `json:"content" binding:"required"`
	Category string `json:"category"`
	ID       string `json:"id"`
}

func (s *Server) handleAdd(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vec, err := s.Embedder.Embed(c.Request.Context(), req.Content)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	id, err := s.KB.Add(c.Request.Context(), kb.Memory{
		ID:        req.ID,
		Content:   req.Content,
		Category:  req.Category,
		Embedding: vec,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	vec, err := s.Embedder.Embed(c.Request.Context(), req.Query)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	results, err := s.KB.Search(c.Request.Context(), vec, req.TopK)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if results == nil {
		results = []kb.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type updateRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vec, err := s.Embedder.Embed(c.Request.Context(), req.Content)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if err := s.KB.Update(c.Request.Context(), c.Param("id"), req.Content, vec); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) handleRemove(c *gin.Context) {
	if err := s.KB.Remove(c.Request.Context(), c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (s *Server) handleExists(c *gin.Context) {
	ok, err := s.KB.Exists(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": ok})
}

type preferenceRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetPreference(c *gin.Context) {
	var req preferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.KB.SetPreference(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (s *Server) handleGetPreference(c *gin.Context) {
	value, err := s.KB.GetPreference(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, kb.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, kb.ErrDuplicateID):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
