package protocol

import "errors"

// Precondition names the class of check that failed, so callers can tell
// user error apart from venue unavailability.
type Precondition string

const (
	PreconditionAmount        Precondition = "amount"
	PreconditionBalance       Precondition = "balance"
	PreconditionVenue         Precondition = "venue"
	PreconditionAuthorization Precondition = "authorization"
)

// VaultError is a sentinel failure of a vault operation
type VaultError struct {
	Code         string
	Precondition Precondition
	msg          string
}

func (e *VaultError) Error() string {
	return e.msg
}

// Errors
var (
	ErrInvalidAmount            = &VaultError{"InvalidAmount", PreconditionAmount, "invalid amount"}
	ErrInvalidAddress           = &VaultError{"InvalidAddress", PreconditionAmount, "invalid address"}
	ErrInsufficientBalance      = &VaultError{"InsufficientBalance", PreconditionBalance, "insufficient share balance"}
	ErrDivisionByZero           = &VaultError{"DivisionByZero", PreconditionBalance, "division by zero: no shares outstanding"}
	ErrInsufficientVenueBalance = &VaultError{"InsufficientVenueBalance", PreconditionVenue, "insufficient venue balance"}
	ErrVenueSupplyFailed        = &VaultError{"VenueSupplyFailed", PreconditionVenue, "venue supply failed"}
	ErrVenueWithdrawFailed      = &VaultError{"VenueWithdrawFailed", PreconditionVenue, "venue withdraw failed"}
	ErrNoProviderRegistered     = &VaultError{"NoProviderRegistered", PreconditionVenue, "no provider registered"}
	ErrVenueUnresolvable        = &VaultError{"VenueUnresolvable", PreconditionVenue, "venue unresolvable"}
	ErrVenueBalanceUnavailable  = &VaultError{"VenueBalanceUnavailable", PreconditionVenue, "venue balance unavailable"}
	ErrClaimFailed              = &VaultError{"ClaimFailed", PreconditionVenue, "reward claim failed"}
	ErrNotOwner                 = &VaultError{"NotOwner", PreconditionAuthorization, "caller is not the owner"}
)

// AsVaultError returns the first VaultError in err's chain.
func AsVaultError(err error) (*VaultError, bool) {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// PreconditionOf reports which precondition err failed, if it is a vault error.
func PreconditionOf(err error) (Precondition, bool) {
	ve, ok := AsVaultError(err)
	if !ok {
		return "", false
	}
	return ve.Precondition, true
}

var errorsByCode = func() map[string]*VaultError {
	m := make(map[string]*VaultError)
	for _, e := range []*VaultError{
		ErrInvalidAmount, ErrInvalidAddress, ErrInsufficientBalance, ErrDivisionByZero,
		ErrInsufficientVenueBalance, ErrVenueSupplyFailed, ErrVenueWithdrawFailed,
		ErrNoProviderRegistered, ErrVenueUnresolvable, ErrVenueBalanceUnavailable,
		ErrClaimFailed, ErrNotOwner,
	} {
		m[e.Code] = e
	}
	return m
}()

// ErrorByCode returns the sentinel with the given code, as carried in an
// ErrorResponse.
func ErrorByCode(code string) (*VaultError, bool) {
	e, ok := errorsByCode[code]
	return e, ok
}
