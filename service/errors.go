package service

import (
	"errors"

	"docrag/types"
)

// withDocument tags err with the document id. Errors that already carry a
// pipeline kind keep it; anything else gets kind.
func withDocument(kind error, op, documentID string, err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		if typed.DocumentID == "" {
			typed.DocumentID = documentID
		}
		return err
	}
	if types.KindOf(err) != nil {
		return err
	}
	return types.NewError(kind, op, err).WithDocument(documentID)
}
