package errortypes

import (
	"fmt"
	"strings"
)

// DependencyCycle flags a partner dependency graph that loops back on itself.
// The timeout calculator treats the cyclic edge as contributing zero and keeps
// going, so this type only ever reaches logs and diagnostics, never callers.
type DependencyCycle struct {
	Partner string
}

func (err *DependencyCycle) Error() string {
	return fmt.Sprintf("partner dependency cycle detected at %q; cyclic edge contributes 0 to the critical path", err.Partner)
}

func (err *DependencyCycle) Code() int {
	return DependencyCycleErrorCode
}

// AdapterContractViolation is returned when a registering adapter is missing
// one or more required operations. Missing holds the enumerated field names.
type AdapterContractViolation struct {
	Adapter string
	Missing []string
}

func (err *AdapterContractViolation) Error() string {
	return fmt.Sprintf("adapter %q rejected: missing required operations [%s]", err.Adapter, strings.Join(err.Missing, ", "))
}

func (err *AdapterContractViolation) Code() int {
	return AdapterContractViolationErrorCode
}

// PartnerLinkage flags an adapter registered with no matching partner. The
// adapter stays registered and runs without readiness gating.
type PartnerLinkage struct {
	Adapter string
}

func (err *PartnerLinkage) Error() string {
	return fmt.Sprintf("adapter %q has no matching partner; registered without readiness gating", err.Adapter)
}

func (err *PartnerLinkage) Code() int {
	return PartnerLinkageWarningCode
}

// AuctionTimeout records that the fallback timer settled an adapter's bid
// request before the adapter did. It is recorded as a no-bid outcome, never
// surfaced as an error to the fan-out caller.
type AuctionTimeout struct {
	Adapter string
	UnitID  string
}

func (err *AuctionTimeout) Error() string {
	return fmt.Sprintf("adapter %q timed out on unit %q before returning a result", err.Adapter, err.UnitID)
}

func (err *AuctionTimeout) Code() int {
	return AuctionTimeoutErrorCode
}

// AdapterRuntime wraps an error or recovered panic raised by an adapter
// during a bid request. It is converted into a structured no-bid result at
// the fan-out boundary.
type AdapterRuntime struct {
	Adapter string
	Message string
}

func (err *AdapterRuntime) Error() string {
	return fmt.Sprintf("adapter %q failed: %s", err.Adapter, err.Message)
}

func (err *AdapterRuntime) Code() int {
	return AdapterRuntimeErrorCode
}
