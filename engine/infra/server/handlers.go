package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/askdocs/askdocs/engine/core"
	"github.com/askdocs/askdocs/engine/document"
	"github.com/askdocs/askdocs/engine/knowledge"
	"github.com/askdocs/askdocs/engine/knowledge/loader"
)

// maxUploadBytes caps a single uploaded file.
const maxUploadBytes = 20 << 20

type uploadResponse struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks_indexed"`
	Indexed  bool   `json:"indexed"`
}

type queryRequest struct {
	Question string `json:"question"`
	K        *int   `json:"k"`
}

type queryResponse struct {
	Answer      string                `json:"answer"`
	References  []knowledge.Reference `json:"references"`
	ContextUsed int                   `json:"context_used"`
}

func (s *Server) handleHealth(c *gin.Context) {
	infos, err := s.deps.Manager.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"documents": len(infos),
		"pending":   s.deps.Manager.PendingCount(),
	})
}

func (s *Server) handleListDocuments(c *gin.Context) {
	infos, err := s.deps.Manager.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": infos})
}

func (s *Server) handleGetDocument(c *gin.Context) {
	filename := c.Param("filename")
	data, contentType, err := s.deps.Manager.Read(c.Request.Context(), filename)
	if err != nil {
		respondError(c, err)
		return
	}
	// PDFs stream as raw bytes; text documents are returned as JSON so
	// browser clients can render them inline.
	if loader.IsBinary(filename) {
		c.Data(http.StatusOK, contentType, data)
		return
	}
	c.JSON(http.StatusOK, gin.H{"filename": filename, "content": string(data)})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	filename := c.Param("filename")
	if err := s.deps.Manager.Remove(c.Request.Context(), filename); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": filename})
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		core.RespondProblem(c, &core.Problem{
			Status: http.StatusBadRequest,
			Detail: "multipart form must include a \"file\" field",
		})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := s.deps.Manager.Add(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, uploadResponse{
		Filename: result.Filename,
		Chunks:   result.Chunks,
		Indexed:  result.Indexed,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		core.RespondProblem(c, &core.Problem{
			Status: http.StatusBadRequest,
			Detail: "request body must be JSON with a \"question\" field",
		})
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		core.RespondProblem(c, &core.Problem{
			Status: http.StatusBadRequest,
			Detail: "question must not be empty",
		})
		return
	}
	k := 0
	if req.K != nil {
		if *req.K < 1 {
			core.RespondProblem(c, &core.Problem{
				Status: http.StatusBadRequest,
				Detail: "k must be at least 1",
			})
			return
		}
		k = *req.K
	}
	ctx := c.Request.Context()
	chunks, err := s.deps.Retriever.Retrieve(ctx, req.Question, k)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := s.deps.Synthesizer.Answer(ctx, req.Question, chunks)
	if err != nil {
		respondError(c, err)
		return
	}
	refs := result.References
	if refs == nil {
		refs = []knowledge.Reference{}
	}
	c.JSON(http.StatusOK, queryResponse{
		Answer:      result.Answer,
		References:  refs,
		ContextUsed: len(chunks),
	})
}

// respondError maps domain errors to HTTP problem responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound):
		core.RespondProblem(c, &core.Problem{Status: http.StatusNotFound, Detail: err.Error()})
	case errors.Is(err, document.ErrInvalidFilename),
		errors.Is(err, loader.ErrUnsupportedFormat),
		errors.Is(err, loader.ErrCorruptDocument),
		errors.Is(err, document.ErrTooManyDocuments):
		core.RespondProblem(c, &core.Problem{Status: http.StatusBadRequest, Detail: err.Error()})
	default:
		core.RespondProblem(c, &core.Problem{
			Status: http.StatusInternalServerError,
			Detail: "an internal error occurred",
		})
	}
}
