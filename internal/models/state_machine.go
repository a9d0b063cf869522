package models

import (
	ierr "billing-service/internal/errors"
)

// ValidInvoiceTransitions defines valid state transitions for InvoiceStatus
// Flow: draft → pending → partially_paid → paid
// failed is reachable from pending; expired is reachable from every
// non-terminal state via the expiration worker
var ValidInvoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceDraft:         {InvoicePending, InvoiceExpired},
	InvoicePending:       {InvoicePartiallyPaid, InvoicePaid, InvoiceFailed, InvoiceExpired},
	InvoicePartiallyPaid: {InvoicePaid, InvoiceExpired},
	InvoicePaid:          {}, // Terminal state
	InvoiceFailed:        {}, // Terminal state
	InvoiceExpired:       {}, // Terminal state
}

// ValidInstallmentTransitions defines valid state transitions for InstallmentStatus
var ValidInstallmentTransitions = map[InstallmentStatus][]InstallmentStatus{
	InstallmentUnpaid:  {InstallmentPaid, InstallmentOverdue},
	InstallmentOverdue: {InstallmentPaid},
	InstallmentPaid:    {}, // Terminal state
}

// CanTransitionInvoiceStatus checks if a transition from one invoice status to another is valid.
// Same-state transitions are idempotent and always allowed.
func CanTransitionInvoiceStatus(from, to InvoiceStatus) bool {
	if from == to {
		return true
	}
	validTransitions, exists := ValidInvoiceTransitions[from]
	if !exists {
		return false
	}
	for _, validTo := range validTransitions {
		if validTo == to {
			return true
		}
	}
	return false
}

// CanTransitionInstallmentStatus checks if a transition from one installment status to another is valid
func CanTransitionInstallmentStatus(from, to InstallmentStatus) bool {
	if from == to {
		return true
	}
	validTransitions, exists := ValidInstallmentTransitions[from]
	if !exists {
		return false
	}
	for _, validTo := range validTransitions {
		if validTo == to {
			return true
		}
	}
	return false
}

// ValidateInvoiceStatusTransition returns an error if the transition is invalid
func ValidateInvoiceStatusTransition(from, to InvoiceStatus) error {
	if !CanTransitionInvoiceStatus(from, to) {
		return ierr.NewError("invalid invoice status transition").
			WithHintf("Invalid invoice status transition from %s to %s", from, to).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ValidateInstallmentStatusTransition returns an error if the transition is invalid
func ValidateInstallmentStatusTransition(from, to InstallmentStatus) error {
	if !CanTransitionInstallmentStatus(from, to) {
		return ierr.NewError("invalid installment status transition").
			WithHintf("Invalid installment status transition from %s to %s", from, to).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsTerminalInvoiceStatus checks if an invoice status has no outbound transitions
func IsTerminalInvoiceStatus(status InvoiceStatus) bool {
	transitions, exists := ValidInvoiceTransitions[status]
	return exists && len(transitions) == 0
}

// IsValidInvoiceStatus checks if the value names a known invoice status
func IsValidInvoiceStatus(status InvoiceStatus) bool {
	_, exists := ValidInvoiceTransitions[status]
	return exists
}

// GetValidNextInvoiceStatuses returns the statuses reachable from the current one
func GetValidNextInvoiceStatuses(current InvoiceStatus) []InvoiceStatus {
	if transitions, exists := ValidInvoiceTransitions[current]; exists {
		return transitions
	}
	return []InvoiceStatus{}
}

// DisplayName returns a human-readable name for an invoice status
func (s InvoiceStatus) DisplayName() string {
	switch s {
	case InvoiceDraft:
		return "Draft"
	case InvoicePending:
		return "Pending Payment"
	case InvoicePartiallyPaid:
		return "Partially Paid"
	case InvoicePaid:
		return "Paid"
	case InvoiceFailed:
		return "Failed"
	case InvoiceExpired:
		return "Expired"
	default:
		return string(s)
	}
}

// DisplayName returns a human-readable name for an installment status
func (s InstallmentStatus) DisplayName() string {
	switch s {
	case InstallmentUnpaid:
		return "Unpaid"
	case InstallmentPaid:
		return "Paid"
	case InstallmentOverdue:
		return "Overdue"
	default:
		return string(s)
	}
}
