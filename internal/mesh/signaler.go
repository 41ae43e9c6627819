package mesh

import "encoding/json"

// Signaler is the mesh's view of the relay connection. Offers, answers and
// candidates travel as opaque JSON; the relay forwards them untouched.
type Signaler interface {
	Join(room string) error
	Leave(room string) error
	SendOffer(target string, sdp json.RawMessage) error
	SendAnswer(target string, sdp json.RawMessage) error
	SendCandidate(target string, candidate json.RawMessage) error
	ShareStarted(hasAudio bool) error
	ShareStopped() error
}
