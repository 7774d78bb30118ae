package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type AskParams struct {
	DocumentID string `json:"document_id" validate:"required"`
	Query      string `json:"query" validate:"required"`
	Owner      string `json:"-"`
}

type IngestURLParams struct {
	URL       string `json:"url" validate:"required,http_url"`
	Summarize bool   `json:"summarize"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

// ValidateErr runs v's validation and wraps failures in a ValidationError.
func ValidateErr(v Validater) error {
	if errs := v.Validate(); len(errs) > 0 {
		return NewValidationError(errs)
	}
	return nil
}

func (params *AskParams) Validate() map[string]string {
	params.DocumentID = strings.TrimSpace(params.DocumentID)
	params.Query = strings.TrimSpace(params.Query)
	return structErrors(params)
}

func (params *IngestURLParams) Validate() map[string]string {
	params.URL = strings.TrimSpace(params.URL)
	return structErrors(params)
}

func structErrors(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return out
}

type IngestResponse struct {
	DocumentID string  `json:"document_id"`
	ChunkCount int     `json:"chunk_count"`
	Summary    *string `json:"summary"`
}

type AskResponse struct {
	Answer  string      `json:"answer"`
	Stage   string      `json:"stage"`
	Sources []SourceRef `json:"sources"`
}
