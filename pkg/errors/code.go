package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13300-13399: Code execution (safe_exec) errors
// 13400-13499: Remote execution service errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError      ErrorCode = 10200
	CacheSetFailed  ErrorCode = 10202
	CacheKeyTooLong ErrorCode = 10204

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301

	// ========== Code Execution Errors (13300-13399) ==========

	// SafeExecFailed means the jailed code ran and raised or hit a limit.
	SafeExecFailed          ErrorCode = 13300
	JailMisconfigured       ErrorCode = 13301
	NormalizerMisconfigured ErrorCode = 13302
	AdapterMisconfigured    ErrorCode = 13303

	// ========== Remote Execution Errors (13400-13499) ==========

	RemoteUnavailable ErrorCode = 13400
	RemoteStatusError ErrorCode = 13401
	RemoteParseError  ErrorCode = 13402
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError:      "Cache operation failed",
	CacheSetFailed:  "Failed to set cache",
	CacheKeyTooLong: "Cache key exceeds the store key length limit",

	// Validation
	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",

	// Code execution
	SafeExecFailed:          "Jailed code execution failed",
	JailMisconfigured:       "Local code jail is misconfigured",
	NormalizerMisconfigured: "Error message normalizer is misconfigured",
	AdapterMisconfigured:    "Remote exec adapter is misconfigured",

	// Remote execution
	RemoteUnavailable: "Code jail service is unreachable",
	RemoteStatusError: "Code jail service returned an error status",
	RemoteParseError:  "Code jail service returned a malformed response",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound:
		return 404
	case c == ServiceUnavailable, c == RemoteUnavailable:
		return 503
	case c == RemoteStatusError, c == RemoteParseError:
		return 502
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
