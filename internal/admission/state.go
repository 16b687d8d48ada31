package admission

// State is a position in the admission state machine. States advance in
// declaration order; any state may end in StateRejected.
type State int

// Admission states.
const (
	StateStart State = iota
	StateAuthenticated
	StateIdempotencyChecked
	StateCreditsChecked
	StateURLPresenceChecked
	StateBlocklistChecked
	StateURLNormalized
	StateAccepted
	StateRejected
)

var stateNames = [...]string{
	StateStart:              "start",
	StateAuthenticated:      "authenticated",
	StateIdempotencyChecked: "idempotency_checked",
	StateCreditsChecked:     "credits_checked",
	StateURLPresenceChecked: "url_presence_checked",
	StateBlocklistChecked:   "blocklist_checked",
	StateURLNormalized:      "url_normalized",
	StateAccepted:           "accepted",
	StateRejected:           "rejected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateRejected
}
