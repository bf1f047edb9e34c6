package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/yarkm13/ftpclient/pkg/expression"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Endpoint.Protocol == "ftp" && cfg.Endpoint.User == "" {
		return fmt.Errorf("endpoint.user: required for ftp")
	}

	names := make(map[string]bool)
	for i, p := range cfg.Polls {
		if names[p.Name] {
			return fmt.Errorf("polls[%d]: duplicate poll name %q", i, p.Name)
		}
		names[p.Name] = true

		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return fmt.Errorf("polls[%d].pattern: %w", i, err)
			}
		}
		for field, src := range map[string]string{
			"translated_name":                      p.TranslatedName,
			"archive.filename_expression":          p.Archive.FilenameExpression,
			"archive.original_filename_expression": p.Archive.OriginalFilenameExpression,
		} {
			if _, err := expression.Parse(src); err != nil {
				return fmt.Errorf("polls[%d].%s: %w", i, field, err)
			}
		}
		if p.Archive.Mode == "move" && p.Archive.MoveToDirectory == "" {
			return fmt.Errorf("polls[%d].archive: move_to_directory is required for mode move", i)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
