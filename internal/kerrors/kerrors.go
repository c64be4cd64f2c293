// Package kerrors implements the closed failure-class taxonomy shared by
// every component that can reject a mutation, a transport dispatch, or a
// coherence obligation.
package kerrors

import (
	"errors"
	"fmt"
)

// FailureClass is a closed-vocabulary tag attached to every rejection.
type FailureClass string

// Lease failure classes.
const (
	LeaseInvalidAssignee  FailureClass = "lease_invalid_assignee"
	LeaseInvalidTTL       FailureClass = "lease_invalid_ttl"
	LeaseBindingAmbiguous FailureClass = "lease_binding_ambiguous"
	LeaseInvalidExpiresAt FailureClass = "lease_invalid_expires_at"
	LeaseNotFound         FailureClass = "lease_not_found"
	LeaseIssueClosed      FailureClass = "lease_issue_closed"
	LeaseContentionActive FailureClass = "lease_contention_active"
	LeaseMissing          FailureClass = "lease_missing"
	LeaseStale            FailureClass = "lease_stale"
	LeaseOwnerMismatch    FailureClass = "lease_owner_mismatch"
	LeaseIDMismatch       FailureClass = "lease_id_mismatch"
	LeaseInvalidPayload   FailureClass = "lease_invalid_payload"
	LeaseUnknownAction    FailureClass = "lease_unknown_action"
)

// Mutation-guard infrastructure failure classes.
const (
	LeaseMutationLockBusy  FailureClass = "lease_mutation_lock_busy"
	LeaseMutationLockIO    FailureClass = "lease_mutation_lock_io"
	LeaseMutationStoreIO   FailureClass = "lease_mutation_store_io"
)

// Transport failure classes.
const (
	TransportInvalidRequest              FailureClass = "transport_invalid_request"
	TransportUnknownAction                FailureClass = "transport_unknown_action"
	TransportRegistryEmptyField           FailureClass = "transport_registry_empty_field"
	TransportRegistryDuplicateAction      FailureClass = "transport_registry_duplicate_action"
	TransportRegistryDuplicateActionID    FailureClass = "transport_registry_duplicate_action_id"
	TransportRegistryMissingAction        FailureClass = "transport_registry_missing_action"
	TransportRegistryDigestMismatch       FailureClass = "transport_registry_digest_mismatch"
	TransportKernelContractUnavailable    FailureClass = "transport_kernel_contract_unavailable"
)

// Doctrine / world-registry failure classes.
const (
	WorldRouteIdentityMissing FailureClass = "world_route_identity_missing"
	WorldDescentDataMissing   FailureClass = "world_descent_data_missing"
	KcirHandoffIdentityMissing FailureClass = "kcir_handoff_identity_missing"
)

// Fiber failure classes, covering the fiber.* transport actions'
// synthetic envelopes.
const (
	FiberInvalidPayload FailureClass = "fiber_invalid_payload"
	FiberMissingField   FailureClass = "fiber_missing_field"
)

// Coherence-contract loading failure classes: raised by RunCoherenceCheck
// when the contract document or one of the repository surfaces it names
// cannot be read or parsed, before any obligation ever runs.
const (
	CoherenceContractLoadIO  FailureClass = "coherence_contract_load_io"
	CoherenceSurfaceLoadIO   FailureClass = "coherence_surface_load_io"
)

// Issue-graph check failure/warning classes.
const (
	GraphDependencyCycle    FailureClass = "graph_dependency_cycle"
	GraphDanglingDependency FailureClass = "graph_dangling_dependency"
	GraphEmptyTitle         FailureClass = "graph_empty_title"
	GraphLongNote           FailureClass = "graph_long_note"
)

// CoherenceClass builds a "coherence.<obligation>.<specific>" failure
// class, the only open-ended member of an otherwise closed taxonomy.
func CoherenceClass(obligation, specific string) FailureClass {
	return FailureClass(fmt.Sprintf("coherence.%s.%s", obligation, specific))
}

// KernelError is the concrete error type carrying a failure class and a
// human-readable diagnostic, optionally wrapping a cause. Every rejecting
// component in this module returns one of these (or a slice of failure
// classes embedded in a JSON envelope) rather than an opaque error.
type KernelError struct {
	Class      FailureClass
	Diagnostic string
	Cause      error
}

// New constructs a KernelError with no wrapped cause.
func New(class FailureClass, diagnostic string) *KernelError {
	return &KernelError{Class: class, Diagnostic: diagnostic}
}

// Newf constructs a KernelError with a formatted diagnostic.
func Newf(class FailureClass, format string, args ...any) *KernelError {
	return &KernelError{Class: class, Diagnostic: fmt.Sprintf(format, args...)}
}

// Wrap constructs a KernelError carrying an underlying cause; Diagnostic
// defaults to cause.Error() when not overridden by the caller via Newf.
func Wrap(class FailureClass, cause error) *KernelError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &KernelError{Class: class, Diagnostic: msg, Cause: cause}
}

func (e *KernelError) Error() string {
	if e.Diagnostic == "" {
		return string(e.Class)
	}
	return e.Diagnostic
}

func (e *KernelError) Unwrap() error { return e.Cause }

// ClassOf extracts the FailureClass from err if it is (or wraps) a
// KernelError, returning ("", false) otherwise.
func ClassOf(err error) (FailureClass, bool) {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Class, true
	}
	return "", false
}
