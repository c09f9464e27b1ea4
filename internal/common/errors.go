package common

// Kind buckets an error for transport mapping. The Reason string is what
// clients render, so every guard failure carries a specific one.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindInvalid
	KindConflict      // action not valid for the deal's current status
	KindUnavailable   // external collaborator unreachable
	KindChainRejected // permanent on-chain validation failure
)

type Error struct {
	Kind   Kind   `json:"-"`
	Reason string `json:"reason"`
}

func (e *Error) Error() string {
	return e.Reason
}

func E(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code the transport layer responds
// with. Anything untyped is a 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindInvalid:
		return 400
	case KindConflict:
		return 409
	case KindUnavailable:
		return 503
	case KindChainRejected:
		return 422
	default:
		return 500
	}
}

var (
	ErrUnauthenticated = E(KindUnauthenticated, "no acting user supplied")

	// Unmatched users get a Forbidden, not a NotFound, so deal existence
	// does not leak to outsiders.
	ErrNotParty = E(KindForbidden, "you are not a party to this deal")

	ErrDealNotFound    = E(KindNotFound, "deal not found")
	ErrChannelNotFound = E(KindNotFound, "channel not found")

	ErrNotNegotiable  = E(KindConflict, "deal terms can no longer be changed")
	ErrDurationUnset  = E(KindInvalid, "set duration before negotiating price")
	ErrBadDuration    = E(KindInvalid, "duration must be a positive number of days")
	ErrBadPrice       = E(KindInvalid, "proposed price must be positive")
	ErrSelfAccept     = E(KindForbidden, "you cannot accept your own pending offer")
	ErrAdvertiserOnly = E(KindForbidden, "only the advertiser can do this")
	ErrPublisherOnly  = E(KindForbidden, "only the publisher side can do this")
	ErrNoLongerAdmin  = E(KindForbidden, "you are no longer an admin of this channel")

	ErrNoAdUnderReview = E(KindConflict, "no creative is awaiting review")
	ErrAdNotExpected   = E(KindConflict, "deal is not awaiting a creative submission")

	ErrNotAwaitingPayment = E(KindConflict, "deal is not awaiting payment")
	ErrZeroTotal          = E(KindInvalid, "deal total must be positive")
	ErrBadPostAt          = E(KindInvalid, "scheduled post time must be in the future")
	ErrAlreadyPaid        = E(KindConflict, "deal already has a confirmed payment")
)
