package model

// Method is a payment collection method offered on a request.
type Method string

const (
	MethodBankWire Method = "bank_wire"
	MethodCard     Method = "card"
)

// HasCard reports whether the method list includes card collection. A
// request with the card method gets a PSP payment link instead of bank
// details and starts in PENDING_SUBMISSION.
func HasCard(methods []Method) bool {
	for _, m := range methods {
		if m == MethodCard {
			return true
		}
	}
	return false
}

// VerificationType is the 3-D verification channel requested by review.
type VerificationType string

const (
	Verification3DSMS  VerificationType = "3d_sms"
	Verification3DPush VerificationType = "3d_push"
)

// CardSubmissionStatus is the sub-state of a submitted card.
type CardSubmissionStatus string

const (
	CardSubmitted             CardSubmissionStatus = "SUBMITTED"
	CardAwaiting3DSMS         CardSubmissionStatus = "AWAITING_3D_SMS"
	CardAwaiting3DPush        CardSubmissionStatus = "AWAITING_3D_PUSH"
	CardVerificationCompleted CardSubmissionStatus = "VERIFICATION_COMPLETED"
)
