package model

// ErrorResponse is the consistent JSON structure for all API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorResponse.Code
const (
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeTimeout            = "TIMEOUT"
	CodeRelayRejected      = "RELAY_REJECTED"
	CodeBundleFailed       = "BUNDLE_FAILED"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInternal           = "INTERNAL"
)
