package model

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Items []map[string]interface{} `json:"items"`
	Total int64                    `json:"total"`
	Skip  int                      `json:"skip"`
	Limit int                      `json:"limit"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}
