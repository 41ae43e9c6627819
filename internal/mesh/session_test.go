package mesh

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/pkg/logger"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offerPayload(t *testing.T) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"})
	require.NoError(t, err)
	return data
}

func answerPayload(t *testing.T) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"})
	require.NoError(t, err)
	return data
}

func newTestSession(pc PeerConn, sig Signaler, polite bool, onTerminal func(domain.UserID)) *Session {
	return newSession("peer", pc, sig, polite, 8*time.Second, onTerminal, logger.Nop())
}

func TestOfferAnswerFlow(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newTestSession(pc, sig, false, nil)

	require.NoError(t, s.Offer())
	assert.Equal(t, 1, sig.offerCount())
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, pc.SignalingState())

	require.NoError(t, s.HandleAnswer(answerPayload(t)))
	assert.Equal(t, webrtc.SignalingStateStable, pc.SignalingState())
	assert.Equal(t, "remote-answer", pc.remoteDesc.SDP)
}

func TestAnswererFlow(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newTestSession(pc, sig, true, nil)

	require.NoError(t, s.HandleOffer(offerPayload(t)))
	assert.Equal(t, 1, sig.answerCount())
	assert.Equal(t, "peer", sig.answers[0].target)
	assert.Equal(t, webrtc.SignalingStateStable, pc.SignalingState())
}

func TestGlarePoliteRollsBackAndAnswers(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newTestSession(pc, sig, true, nil)

	require.NoError(t, s.Offer())
	require.NoError(t, s.HandleOffer(offerPayload(t)))

	rollbacks, _ := pc.stateCounts()
	assert.Equal(t, 1, rollbacks, "polite side rolls its own offer back")
	assert.Equal(t, 1, sig.answerCount(), "and answers the remote offer")
	assert.Equal(t, webrtc.SignalingStateStable, pc.SignalingState())
}

func TestGlareImpoliteIgnoresCollidingOffer(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newTestSession(pc, sig, false, nil)

	require.NoError(t, s.Offer())
	require.NoError(t, s.HandleOffer(offerPayload(t)))

	rollbacks, _ := pc.stateCounts()
	assert.Equal(t, 0, rollbacks)
	assert.Equal(t, 0, sig.answerCount())
	assert.Nil(t, pc.remoteDesc, "colliding offer is not applied")
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, pc.SignalingState(), "own offer still outstanding")
}

// Both sides offer at the same time; pumping each side's outbox into the
// other must leave both stable without manual intervention.
func TestGlareConvergence(t *testing.T) {
	pcA, pcB := newMockPeerConn(), newMockPeerConn()
	sigA, sigB := &mockSignaler{}, &mockSignaler{}
	a := newTestSession(pcA, sigA, false, nil) // impolite
	b := newTestSession(pcB, sigB, true, nil)  // polite

	require.NoError(t, a.Offer())
	require.NoError(t, b.Offer())

	// Cross-deliver the colliding offers.
	require.NoError(t, b.HandleOffer(sigA.offers[0].payload))
	require.NoError(t, a.HandleOffer(sigB.offers[0].payload))

	// B rolled back and answered; A ignored B's offer. Deliver B's answer.
	require.Equal(t, 1, sigB.answerCount())
	require.NoError(t, a.HandleAnswer(sigB.answers[0].payload))

	assert.Equal(t, webrtc.SignalingStateStable, pcA.SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, pcB.SignalingState())
	rollbacksA, _ := pcA.stateCounts()
	rollbacksB, _ := pcB.stateCounts()
	assert.Equal(t, 0, rollbacksA)
	assert.Equal(t, 1, rollbacksB)
}

func TestStaleAnswerDiscarded(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newTestSession(pc, sig, true, nil)

	// A rollback happened: no local offer is outstanding anymore.
	require.NoError(t, s.Offer())
	require.NoError(t, s.HandleOffer(offerPayload(t)))
	remoteAfterGlare := pc.remoteDesc

	require.NoError(t, s.HandleAnswer(answerPayload(t)))
	assert.Same(t, remoteAfterGlare, pc.remoteDesc, "stale answer must not touch the negotiation")
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newTestSession(pc, sig, true, nil)

	early, err := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:early"})
	require.NoError(t, err)
	require.NoError(t, s.HandleCandidate(early))
	assert.Empty(t, pc.candidates, "no remote description yet, candidate is buffered")

	require.NoError(t, s.HandleOffer(offerPayload(t)))
	require.Len(t, pc.candidates, 1, "buffered candidate flushed after the description lands")
	assert.Equal(t, "candidate:early", pc.candidates[0].Candidate)

	late, err := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:late"})
	require.NoError(t, err)
	require.NoError(t, s.HandleCandidate(late))
	assert.Len(t, pc.candidates, 2, "later candidates apply directly")
}

func TestTransientDisconnectSendsNoRestart(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newSession("peer", pc, sig, true, 80*time.Millisecond, nil, logger.Nop())

	s.handleConnectionState(webrtc.PeerConnectionStateDisconnected)
	time.Sleep(30 * time.Millisecond)
	s.handleConnectionState(webrtc.PeerConnectionStateConnected)

	time.Sleep(150 * time.Millisecond)
	_, restarts := pc.stateCounts()
	assert.Equal(t, 0, restarts, "reconnecting within the grace window cancels the restart")
	assert.Equal(t, 0, sig.offerCount())
}

func TestDisconnectedRestartsAfterGrace(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newSession("peer", pc, sig, true, 40*time.Millisecond, nil, logger.Nop())

	s.handleConnectionState(webrtc.PeerConnectionStateDisconnected)

	assert.Eventually(t, func() bool {
		_, restarts := pc.stateCounts()
		return restarts == 1 && sig.offerCount() == 1
	}, time.Second, 10*time.Millisecond, "grace elapsed, restart offer goes out")
}

func TestFailedRestartsImmediately(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newTestSession(pc, sig, true, nil)

	s.handleConnectionState(webrtc.PeerConnectionStateFailed)

	_, restarts := pc.stateCounts()
	assert.Equal(t, 1, restarts)
	assert.Equal(t, 1, sig.offerCount())
}

func TestRestartFailureIsTerminal(t *testing.T) {
	pc := newMockPeerConn()
	pc.offerErr = assert.AnError
	sig := &mockSignaler{}

	var gone atomic.Value
	s := newTestSession(pc, sig, true, func(id domain.UserID) { gone.Store(id) })

	s.handleConnectionState(webrtc.PeerConnectionStateFailed)

	assert.Equal(t, domain.UserID("peer"), gone.Load(), "exhausted recovery removes the session upstream")
}

func TestCloseCancelsPendingGrace(t *testing.T) {
	pc := newMockPeerConn()
	sig := &mockSignaler{}
	s := newSession("peer", pc, sig, true, 30*time.Millisecond, nil, logger.Nop())

	s.handleConnectionState(webrtc.PeerConnectionStateDisconnected)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	time.Sleep(80 * time.Millisecond)
	_, restarts := pc.stateCounts()
	assert.Equal(t, 0, restarts, "no restart fires after teardown")
	assert.True(t, pc.closed)
}
