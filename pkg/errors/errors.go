package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Ledger domain codes.
	CodeWalletNotFound          Code = "WALLET_NOT_FOUND"
	CodeWalletInactive          Code = "WALLET_INACTIVE"
	CodeInsufficientFunds       Code = "INSUFFICIENT_FUNDS"
	CodeInsufficientFrozenFunds Code = "INSUFFICIENT_FROZEN_FUNDS"
	CodePayoutFailed            Code = "PAYOUT_FAILED"

	// Settlement domain codes.
	CodeInvalidReferralCode         Code = "INVALID_REFERRAL_CODE"
	CodeAlreadyReferred             Code = "ALREADY_REFERRED"
	CodeSelfReferral                Code = "SELF_REFERRAL"
	CodeCommissionNotFound          Code = "COMMISSION_NOT_FOUND"
	CodeInvalidCommissionTransition Code = "INVALID_COMMISSION_TRANSITION"
	CodeNoApprovedCommissions       Code = "NO_APPROVED_COMMISSIONS"
	CodeBelowMinimumPayout          Code = "BELOW_MINIMUM_PAYOUT"
	CodeWithdrawalNotFound          Code = "WITHDRAWAL_NOT_FOUND"
	CodeInvalidWithdrawalTransition Code = "INVALID_WITHDRAWAL_TRANSITION"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "authentication required",
		DetailsAllowed: false,
	},
	CodeForbidden: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "access denied",
		DetailsAllowed: false,
	},
	CodeNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: false,
	},
	CodeConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "conflict detected",
		DetailsAllowed: false,
	},
	CodeStateConflict: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeIdempotency: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "idempotency key reused",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "internal server error",
		DetailsAllowed: false,
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
	CodeWalletNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "wallet not found",
		DetailsAllowed: false,
	},
	CodeWalletInactive: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "wallet is not active",
		DetailsAllowed: true,
	},
	CodeInsufficientFunds: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "insufficient funds",
		DetailsAllowed: true,
	},
	CodeInsufficientFrozenFunds: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "insufficient frozen funds",
		DetailsAllowed: true,
	},
	CodePayoutFailed: {
		HTTPStatus:     http.StatusBadGateway,
		Retryable:      true,
		PublicMessage:  "payout failed",
		DetailsAllowed: true,
	},
	CodeInvalidReferralCode: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "referral code not recognized",
		DetailsAllowed: false,
	},
	CodeAlreadyReferred: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "user already referred",
		DetailsAllowed: false,
	},
	CodeSelfReferral: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "self referral not allowed",
		DetailsAllowed: false,
	},
	CodeCommissionNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "commission not found",
		DetailsAllowed: false,
	},
	CodeInvalidCommissionTransition: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "commission transition disallowed",
		DetailsAllowed: true,
	},
	CodeNoApprovedCommissions: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "no approved commissions",
		DetailsAllowed: false,
	},
	CodeBelowMinimumPayout: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "payout below configured minimum",
		DetailsAllowed: true,
	},
	CodeWithdrawalNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "withdrawal request not found",
		DetailsAllowed: false,
	},
	CodeInvalidWithdrawalTransition: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "withdrawal transition disallowed",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the given domain code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
