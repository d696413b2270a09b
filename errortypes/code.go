package errortypes

// Defines numeric codes for well-known errors.
const (
	UnknownErrorCode         = 999
	DependencyCycleErrorCode = iota
	AdapterContractViolationErrorCode
	AuctionTimeoutErrorCode
	AdapterRuntimeErrorCode
)

// Defines numeric codes for well-known warnings.
const (
	UnknownWarningCode        = 10999
	PartnerLinkageWarningCode = iota + 10000
	AdapterReplacedWarningCode
	LateResultWarningCode
)

// Coder provides an error or warning code.
type Coder interface {
	Code() int
}

// ReadCode returns the error or warning code, or UnknownErrorCode if unavailable.
func ReadCode(err error) int {
	if e, ok := err.(Coder); ok {
		return e.Code()
	}
	return UnknownErrorCode
}
