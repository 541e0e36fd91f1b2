package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidBracket       ErrorCode = 103
	ErrCodeInvalidPrice         ErrorCode = 104
	ErrCodeInvalidQuantity      ErrorCode = 105
	ErrCodeInsufficientData     ErrorCode = 106
	ErrCodeInvalidGranularity   ErrorCode = 107
	ErrCodeInvalidVersion       ErrorCode = 108
	ErrCodeMissingParameter     ErrorCode = 109

	// Market data errors (200-299)
	ErrCodeBarOutOfOrder        ErrorCode = 200
	ErrCodeBarDuplicate         ErrorCode = 201
	ErrCodeHistoricalDataFailed ErrorCode = 202
	ErrCodeMarketDataParse      ErrorCode = 203
	ErrCodeStreamClosed         ErrorCode = 204
	ErrCodeInvalidProvider      ErrorCode = 205

	// Signal errors (300-399)
	ErrCodeEntryRejected  ErrorCode = 300
	ErrCodeBiasSuppressed ErrorCode = 301
	ErrCodeSearchExpired  ErrorCode = 302

	// Risk errors (400-499)
	ErrCodeRiskDenied       ErrorCode = 400
	ErrCodePositionExists   ErrorCode = 401
	ErrCodePositionNotFound ErrorCode = 402
	ErrCodeDailyLossLimit   ErrorCode = 403
	ErrCodeAllocationLimit  ErrorCode = 404

	// Trading / order errors (500-599)
	ErrCodeOrderFailed     ErrorCode = 500
	ErrCodeOrderRejected   ErrorCode = 501
	ErrCodeOrderNotFilled  ErrorCode = 502
	ErrCodeExitLegFailed   ErrorCode = 503
	ErrCodeBrokerAuth      ErrorCode = 504
	ErrCodeBrokerCall      ErrorCode = 505
	ErrCodeOrderNotFound   ErrorCode = 506
	ErrCodeBracketRejected ErrorCode = 507

	// Session / state errors (600-699)
	ErrCodeStateLoadFailed    ErrorCode = 600
	ErrCodeStatePersistFailed ErrorCode = 601
	ErrCodeSessionClosed      ErrorCode = 602
	ErrCodeAuditWriteFailed   ErrorCode = 603

	// Rate limit / breaker errors (700-799)
	ErrCodeBreakerOpen      ErrorCode = 700
	ErrCodeRateLimitWait    ErrorCode = 701
	ErrCodeUnknownEndpoint  ErrorCode = 702
	ErrCodeAcquireCancelled ErrorCode = 703
)
