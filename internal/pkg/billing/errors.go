package billing

import "errors"

// Closed error taxonomy for entitlement operations. Callers discriminate with
// errors.Is and map each kind to its transport representation; anything else
// is treated as internal.
var (
	// ErrEntitlementNotFound is returned when a consume targets a user
	// without an entitlement record.
	ErrEntitlementNotFound = errors.New("entitlement record not found")

	// ErrOutOfTokens is returned when a consume would take the balance
	// negative. It is user-actionable: clients route to the purchase flow.
	ErrOutOfTokens = errors.New("out of tokens")
)

// OutOfTokensMessage is the user-facing message carried with ErrOutOfTokens.
const OutOfTokensMessage = "You are out of tokens. Please subscribe for more."
