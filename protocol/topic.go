package protocol

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/c360/eventgate/errors"
)

// ExtractTopic parses a subscription document and returns the name of its
// root field, which is the topic the subscription listens on. Documents with
// no subscription operation or with an empty selection set are rejected.
func ExtractTopic(query string) (string, error) {
	doc, gqlErr := parser.ParseQuery(&ast.Source{Input: query})
	if gqlErr != nil {
		return "", errors.WrapInvalid(gqlErr, "protocol", "ExtractTopic",
			"failed to parse subscription query")
	}

	for _, op := range doc.Operations {
		if op.Operation != ast.Subscription {
			continue
		}
		for _, sel := range op.SelectionSet {
			if field, ok := sel.(*ast.Field); ok {
				return field.Name, nil
			}
		}
		return "", errors.WrapInvalid(errors.ErrInvalidData, "protocol", "ExtractTopic",
			"subscription has no root field")
	}

	return "", errors.WrapInvalid(errors.ErrInvalidData, "protocol", "ExtractTopic",
		"document contains no subscription operation")
}
