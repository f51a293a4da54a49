package temporal

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"

	errorsx "github.com/instill-ai/x/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their wire name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a workflow input. Failures wrap errorsx.ErrInvalidArgument
// and carry an end-user message naming the offending fields.
func Validate(input any) error {
	if input == nil {
		return errorsx.AddMessage(
			fmt.Errorf("%w: nil workflow input", errorsx.ErrInvalidArgument),
			"Workflow input is required.",
		)
	}

	if err := validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", errorsx.ErrInvalidArgument, err)
		}

		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, describe(fe))
		}
		msg := strings.Join(fields, "; ")
		return errorsx.AddMessage(
			fmt.Errorf("%w: %s", errorsx.ErrInvalidArgument, msg),
			"Invalid workflow input: "+msg+".",
		)
	}

	if pdf, ok := input.(PdfEmbedInput); ok {
		return validatePages(pdf.Pages)
	}
	if pdf, ok := input.(*PdfEmbedInput); ok && pdf != nil {
		return validatePages(pdf.Pages)
	}
	return nil
}

// validatePages checks the constraints the tags can't express: a document
// belongs to one tenant and page numbers are unique.
func validatePages(pages []PageInput) error {
	seen := make(map[int]bool, len(pages))
	first := pages[0]
	for i, p := range pages {
		if p.Namespace != first.Namespace || p.UserID != first.UserID || p.OrgID != first.OrgID {
			return errorsx.AddMessage(
				fmt.Errorf("%w: page at index %d belongs to another tenant", errorsx.ErrInvalidArgument, i),
				"All pages of a document must belong to the same tenant.",
			)
		}
		if seen[p.PageNumber] {
			return errorsx.AddMessage(
				fmt.Errorf("%w: duplicate page number %d", errorsx.ErrInvalidArgument, p.PageNumber),
				"Page numbers must be unique.",
			)
		}
		seen[p.PageNumber] = true
	}
	return nil
}

func describe(fe validator.FieldError) string {
	// Drop the root type name: "PdfEmbedInput.pages[1].gcsUrl" -> "pages[1].gcsUrl".
	field := fe.Field()
	if _, rest, ok := strings.Cut(fe.Namespace(), "."); ok && rest != "" {
		field = rest
	}

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed on %s", field, fe.Tag())
}
