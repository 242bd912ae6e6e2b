package pipeline

// State is a step of the per-connection state machine.
type State int

const (
	Idle State = iota
	ParsingRequest
	ResolvingHost
	ConnectingUpstream
	ForwardingRequest
	RelayingResponse
	Cleanup
	Done
	Failed
)

var stateNames = [...]string{
	Idle:               "idle",
	ParsingRequest:     "parsing_request",
	ResolvingHost:      "resolving_host",
	ConnectingUpstream: "connecting_upstream",
	ForwardingRequest:  "forwarding_request",
	RelayingResponse:   "relaying_response",
	Cleanup:            "cleanup",
	Done:               "done",
	Failed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == Done
}
