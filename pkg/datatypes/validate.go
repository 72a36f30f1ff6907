// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/AleutianAI/datalens/pkg/apierr"
	"github.com/go-playground/validator/v10"
)

// requestValidate is the validator instance for request datatypes.
// Field names in messages use the JSON tag so they match what the user
// sees on the wire.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	requestValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// Validate checks a request against its `validate` tags.
//
// # Description
//
// Runs go-playground/validator over req and converts the first failure
// into an apierr validation error attributed to op. A nil return means
// the request may be sent.
//
// # Inputs
//
//   - op: Operation name used as the error's Op (e.g. "session.login")
//   - req: Pointer to or value of a request struct from this package
//
// # Outputs
//
//   - error: *apierr.Error of KindValidation, or nil
//
// # Example
//
//	if err := datatypes.Validate("credits.topup", datatypes.TopUpRequest{Amount: 0}); err != nil {
//	    fmt.Println(err) // credits.topup: amount must be greater than 0
//	}
func Validate(op string, req any) error {
	err := requestValidate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apierr.New(apierr.KindValidation, op, 0, "invalid request", err)
	}
	return apierr.New(apierr.KindValidation, op, 0, describeFieldError(verrs[0]), err)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}
