package api

import (
	"context"
	"strings"

	"docrag/app/middleware"
	"docrag/service"
	"docrag/types"

	"github.com/gofiber/fiber/v2"
)

type DocumentService interface {
	Ingest(ctx context.Context, src types.Source, opts service.IngestOptions) (*service.IngestResult, error)
	ListDocuments(ctx context.Context, owner string) ([]types.DocumentInfo, error)
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

type DocumentHandler struct {
	documents DocumentService
}

func NewDocumentHandler(documents DocumentService) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
	}
}

// HandleUpload ingests a PDF sent as multipart field "file" or a web page
// given as JSON {"url": "..."}.
func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	opts := service.IngestOptions{
		Summarize: c.QueryBool("summarize"),
		Language:  c.Query("language"),
	}
	src := types.Source{Owner: middleware.Owner(c)}

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return NewValidationError(map[string]string{"file": "is required"})
		}
		file, err := fileHeader.Open()
		if err != nil {
			return err
		}
		defer file.Close()

		src.Kind = types.SourcePDF
		src.Name = fileHeader.Filename
		src.Reader = file
	} else {
		var params types.IngestURLParams
		if c.BodyParser(&params) != nil {
			return ErrBadRequest()
		}
		if errors := types.Validate(&params); len(errors) > 0 {
			return NewValidationError(errors)
		}
		src.Kind = types.SourceLink
		src.URL = params.URL
		opts.Summarize = opts.Summarize || params.Summarize
	}

	res, err := h.documents.Ingest(c.UserContext(), src, opts)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(types.IngestResponse{
		DocumentID: res.DocumentID,
		ChunkCount: res.ChunkCount,
		Summary:    res.Summary.Ptr(),
	})
}

func (h *DocumentHandler) HandleList(c *fiber.Ctx) error {
	docs, err := h.documents.ListDocuments(c.UserContext(), middleware.Owner(c))
	if err != nil {
		return err
	}
	return c.JSON(docs)
}

func (h *DocumentHandler) HandleGet(c *fiber.Ctx) error {
	doc, err := h.documents.GetDocument(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if doc.Owner != middleware.Owner(c) {
		return ErrNotFound(c.Params("id"), "document")
	}
	return c.JSON(doc)
}

func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	doc, err := h.documents.GetDocument(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if doc.Owner != middleware.Owner(c) {
		return ErrNotFound(c.Params("id"), "document")
	}
	if err := h.documents.DeleteDocument(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
