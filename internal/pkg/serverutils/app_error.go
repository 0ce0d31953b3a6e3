package serverutils

// AppError carries an HTTP status alongside a user-facing message, so
// services can decide the status without importing fiber.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewAppError(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}
