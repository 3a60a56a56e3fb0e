package communicator

import (
	"sync"
	"testing"
	"time"

	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/channel"
	"github.com/user/blepeer/message"
	"github.com/user/blepeer/peer"
	"github.com/user/blepeer/simlink"
)

// pairedCommunicators starts alice advertising and bob discovering over a
// shared simlink.Medium, wires bob to connect to whatever it finds and
// alice to accept every request, extending both sides' callbacks with
// aliceExtra/bobExtra, and blocks until both report a completed handshake.
func pairedCommunicators(t *testing.T, aliceExtra, bobExtra Callbacks) (alice, bob *Communicator) {
	t.Helper()
	medium := simlink.NewMedium()
	aliceRadio := simlink.NewRadio(medium, 0)
	bobRadio := simlink.NewRadio(medium, 0)

	var wg sync.WaitGroup
	wg.Add(2)

	aliceCB := aliceExtra
	aliceCB.OnConnectionRequest = func(p *peer.Peer) { alice.AcceptConnection(p) }
	appSuccess := aliceExtra.OnConnectionSuccess
	aliceCB.OnConnectionSuccess = func(p *peer.Peer, role channel.Role) {
		wg.Done()
		if appSuccess != nil {
			appSuccess(p, role)
		}
	}

	bobCB := bobExtra
	bobCB.OnPeerFound = func(p *peer.Peer) { bob.Connect(p) }
	bobAppSuccess := bobExtra.OnConnectionSuccess
	bobCB.OnConnectionSuccess = func(p *peer.Peer, role channel.Role) {
		wg.Done()
		if bobAppSuccess != nil {
			bobAppSuccess(p, role)
		}
	}

	alice = New("alice", aliceRadio, aliceCB)
	bob = New("bob", bobRadio, bobCB)

	if code := alice.StartAdvertising(); code != ble.Success {
		t.Fatalf("alice.StartAdvertising() = %v, want Success", code)
	}
	if code := bob.StartDiscovery(); code != ble.Success {
		t.Fatalf("bob.StartDiscovery() = %v, want Success", code)
	}

	wg.Wait()
	return alice, bob
}

func TestStartAdvertisingAndDiscoveryConnectPeers(t *testing.T) {
	alice, bob := pairedCommunicators(t, Callbacks{}, Callbacks{})

	if !alice.IsAdvertising() {
		t.Error("alice should be advertising")
	}
	if !bob.IsDiscovering() {
		t.Error("bob should be discovering")
	}
	if peers := alice.GetConnectedPeers(); len(peers) != 1 || peers[0].UniqueName() != bob.UniqueName() {
		t.Errorf("alice connected peers = %v, want one peer named %s", peers, bob.UniqueName())
	}
	if peers := bob.GetConnectedPeers(); len(peers) != 1 || peers[0].UniqueName() != alice.UniqueName() {
		t.Errorf("bob connected peers = %v, want one peer named %s", peers, alice.UniqueName())
	}
}

func TestStartAdvertisingTwiceFails(t *testing.T) {
	alice, _ := pairedCommunicators(t, Callbacks{}, Callbacks{})
	if code := alice.StartAdvertising(); code != ble.AlreadyStarted {
		t.Errorf("second StartAdvertising() = %v, want AlreadyStarted", code)
	}
}

func TestStopAdvertisingWithoutStartingFails(t *testing.T) {
	medium := simlink.NewMedium()
	radio := simlink.NewRadio(medium, 0)
	c := New("solo", radio, Callbacks{})
	if code := c.StopAdvertising(); code != ble.AlreadyStopped {
		t.Errorf("StopAdvertising() = %v, want AlreadyStopped", code)
	}
}

func TestSendMessageDeliversBothDirections(t *testing.T) {
	type delivery struct {
		who     string
		payload string
	}
	deliveries := make(chan delivery, 2)

	alice, bob := pairedCommunicators(t,
		Callbacks{OnMessageReceived: func(m channel.ReceivedMessage, role channel.Role) {
			deliveries <- delivery{"alice", string(m.Payload)}
		}},
		Callbacks{OnMessageReceived: func(m channel.ReceivedMessage, role channel.Role) {
			deliveries <- delivery{"bob", string(m.Payload)}
		}},
	)

	alice.SendMessage(message.New("", []byte("hi bob"), nil))
	bob.SendMessage(message.New("", []byte("hi alice"), nil))

	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case d := <-deliveries:
			seen[d.who] = d.payload
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message delivery")
		}
	}

	if seen["alice"] != "hi alice" {
		t.Errorf("alice received %q, want %q", seen["alice"], "hi alice")
	}
	if seen["bob"] != "hi bob" {
		t.Errorf("bob received %q, want %q", seen["bob"], "hi bob")
	}
}

func TestDisconnectFromAllNotifiesRemotePeer(t *testing.T) {
	peersLeft := make(chan int, 1)

	alice, _ := pairedCommunicators(t,
		Callbacks{},
		Callbacks{OnDisconnected: func(p *peer.Peer, left int) { peersLeft <- left }},
	)

	alice.DisconnectFromAll()

	select {
	case left := <-peersLeft:
		if left != 0 {
			t.Errorf("peersLeft = %d, want 0", left)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect notification")
	}
}
