package serverutils

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// ValidateRequest runs struct tag validation on a request DTO.
func ValidateRequest(req interface{}) error {
	return validate.Struct(req)
}
