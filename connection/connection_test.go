package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/user/blepeer/channel"
	"github.com/user/blepeer/message"
	"github.com/user/blepeer/peer"
	"github.com/user/blepeer/simlink"
)

// pairedConnections wires one CENTRAL and one PERIPHERAL Connection over a
// fresh simlink.Link, auto-accepting the inbound request, and blocks until
// both sides report a completed handshake.
func pairedConnections(t *testing.T, onPeripheralMessage func(channel.ReceivedMessage)) (*Connection, *Connection, *simlink.Link) {
	t.Helper()
	link := simlink.NewLink(0)

	var wg sync.WaitGroup
	wg.Add(2)

	var peripheralConn *Connection
	peripheralConn = New(channel.RolePeripheral, "bobdevice02", channel.Callbacks{
		OnConnectionRequest: func(p *peer.Peer) {
			if ch := peripheralConn.FindChannel(p); ch != nil {
				ch.AcceptConnection()
			}
		},
		OnConnectionSuccess: func(p *peer.Peer, role channel.Role) { wg.Done() },
		OnMessageReceived: func(m channel.ReceivedMessage, role channel.Role) {
			if onPeripheralMessage != nil {
				onPeripheralMessage(m)
			}
		},
	})
	centralConn := New(channel.RoleCentral, "alicedevice01", channel.Callbacks{
		OnConnectionSuccess: func(p *peer.Peer, role channel.Role) { wg.Done() },
	})

	peripheralConn.AcceptInbound(peer.New(link.PeripheralHandle(), "", false), link.Peripheral())
	centralConn.Connect(peer.New(link.CentralHandle(), "bobdevice02", false), link.Central())

	wg.Wait()
	return centralConn, peripheralConn, link
}

func TestConnectCompletesHandshakeBothSides(t *testing.T) {
	centralConn, peripheralConn, _ := pairedConnections(t, nil)

	peers := centralConn.GetConnectedPeers()
	if len(peers) != 1 || peers[0].UniqueName() != "bobdevice02" {
		t.Fatalf("central connected peers = %v, want one peer named bobdevice02", peers)
	}
	if peers := peripheralConn.GetConnectedPeers(); len(peers) != 1 {
		t.Fatalf("peripheral connected peers = %d, want 1", len(peers))
	}
}

func TestSendMessageDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var received []string
	recvWG := sync.WaitGroup{}
	recvWG.Add(3)

	centralConn, _, _ := pairedConnections(t, func(m channel.ReceivedMessage) {
		mu.Lock()
		received = append(received, string(m.Payload))
		mu.Unlock()
		recvWG.Done()
	})

	sendWG := sync.WaitGroup{}
	sendWG.Add(3)
	for _, text := range []string{"a", "b", "c"} {
		m := message.New("T", []byte(text), nil)
		centralConn.SendMessage(m, func(err error) {
			if err != nil {
				t.Errorf("send error: %v", err)
			}
			sendWG.Done()
		})
	}
	sendWG.Wait()
	recvWG.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("received %v, want 3 messages", received)
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if received[i] != w {
			t.Errorf("received[%d] = %q, want %q (messages on one channel must stay in order)", i, received[i], w)
		}
	}
}

func TestDisconnectAllLeavesNoConnectedPeers(t *testing.T) {
	centralConn, _, _ := pairedConnections(t, nil)

	done := make(chan struct{})
	centralConn.DisconnectAll(func(err error) { close(done) })
	<-done

	if peers := centralConn.GetConnectedPeers(); len(peers) != 0 {
		t.Errorf("connected peers after DisconnectAll = %d, want 0", len(peers))
	}
}

func TestConnectQueuesSecondAttemptUntilFirstCompletes(t *testing.T) {
	linkA := simlink.NewLink(0)
	linkB := simlink.NewLink(0)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)

	centralConn := New(channel.RoleCentral, "alicedevice01", channel.Callbacks{
		OnConnectionSuccess: func(p *peer.Peer, role channel.Role) {
			mu.Lock()
			order = append(order, p.UniqueName())
			mu.Unlock()
			wg.Done()
		},
	})

	var peripheralA, peripheralB *Connection
	peripheralA = New(channel.RolePeripheral, "bobdevice02", channel.Callbacks{
		OnConnectionRequest: func(p *peer.Peer) {
			if ch := peripheralA.FindChannel(p); ch != nil {
				ch.AcceptConnection()
			}
		},
	})
	peripheralB = New(channel.RolePeripheral, "caroldevic3", channel.Callbacks{
		OnConnectionRequest: func(p *peer.Peer) {
			if ch := peripheralB.FindChannel(p); ch != nil {
				ch.AcceptConnection()
			}
		},
	})

	peripheralA.AcceptInbound(peer.New(linkA.PeripheralHandle(), "", false), linkA.Peripheral())
	peripheralB.AcceptInbound(peer.New(linkB.PeripheralHandle(), "", false), linkB.Peripheral())

	centralConn.Connect(peer.New(linkA.CentralHandle(), "bobdevice02", false), linkA.Central())
	centralConn.Connect(peer.New(linkB.CentralHandle(), "caroldevic3", false), linkB.Central())

	wg.Wait()

	if len(order) != 2 {
		t.Fatalf("completed connects = %d, want 2", len(order))
	}
	if order[0] != "bobdevice02" || order[1] != "caroldevic3" {
		t.Errorf("completion order = %v, want [bobdevice02 caroldevic3] (attempts must serialize)", order)
	}
}

func TestUpdateNamePushesToConnectedChannel(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var updated *peer.Peer

	centralConn, peripheralConn, _ := pairedConnectionsWithPeerUpdate(t, func(old, u *peer.Peer) {
		updated = u
		wg.Done()
	})

	centralConn.UpdateName("alicedevice99")
	wg.Wait()

	if updated == nil || updated.UniqueName() != "alicedevice99" {
		t.Errorf("peripheral's view of peer after UpdateName = %v, want unique name alicedevice99", updated)
	}
	if peers := peripheralConn.GetConnectedPeers(); len(peers) != 1 {
		t.Fatalf("peripheral connected peers = %d, want 1", len(peers))
	}
}

func pairedConnectionsWithPeerUpdate(t *testing.T, onPeerUpdated func(old, updated *peer.Peer)) (*Connection, *Connection, *simlink.Link) {
	t.Helper()
	link := simlink.NewLink(0)

	var wg sync.WaitGroup
	wg.Add(2)

	var peripheralConn *Connection
	peripheralConn = New(channel.RolePeripheral, "bobdevice02", channel.Callbacks{
		OnConnectionRequest: func(p *peer.Peer) {
			if ch := peripheralConn.FindChannel(p); ch != nil {
				ch.AcceptConnection()
			}
		},
		OnConnectionSuccess: func(p *peer.Peer, role channel.Role) { wg.Done() },
		OnPeerUpdated:       onPeerUpdated,
	})
	centralConn := New(channel.RoleCentral, "alicedevice01", channel.Callbacks{
		OnConnectionSuccess: func(p *peer.Peer, role channel.Role) { wg.Done() },
	})

	peripheralConn.AcceptInbound(peer.New(link.PeripheralHandle(), "", false), link.Peripheral())
	centralConn.Connect(peer.New(link.CentralHandle(), "bobdevice02", false), link.Central())

	wg.Wait()
	return centralConn, peripheralConn, link
}

func TestDestroyDropsEveryChannelWithoutProtocol(t *testing.T) {
	centralConn, _, _ := pairedConnections(t, nil)
	centralConn.Destroy()
	if peers := centralConn.GetConnectedPeers(); len(peers) != 0 {
		t.Errorf("connected peers after Destroy = %d, want 0", len(peers))
	}
}

func TestFindChannelReturnsNilForUnknownPeer(t *testing.T) {
	centralConn, _, _ := pairedConnections(t, nil)
	stranger := peer.New(&peer.DeviceHandle{Address: "nowhere"}, "strangerxx", true)
	if ch := centralConn.FindChannel(stranger); ch != nil {
		t.Error("expected nil channel for unknown peer")
	}
}

// pairedConnectionsForResume is pairedConnections but threads extra's
// OnConnectionLost/OnConnectionResumed/OnMessageReceived into both sides so
// a test can observe a reconnection in progress.
func pairedConnectionsForResume(t *testing.T, extra channel.Callbacks) (*Connection, *Connection, *simlink.Link) {
	t.Helper()
	link := simlink.NewLink(0)

	var wg sync.WaitGroup
	wg.Add(2)

	base := extra
	appSuccess := base.OnConnectionSuccess
	base.OnConnectionSuccess = func(p *peer.Peer, role channel.Role) {
		wg.Done()
		if appSuccess != nil {
			appSuccess(p, role)
		}
	}

	var peripheralConn *Connection
	periphCB := base
	periphCB.OnConnectionRequest = func(p *peer.Peer) {
		if ch := peripheralConn.FindChannel(p); ch != nil {
			ch.AcceptConnection()
		}
	}
	peripheralConn = New(channel.RolePeripheral, "bobdevice02", periphCB)
	centralConn := New(channel.RoleCentral, "alicedevice01", base)

	peripheralConn.AcceptInbound(peer.New(link.PeripheralHandle(), "", false), link.Peripheral())
	centralConn.Connect(peer.New(link.CentralHandle(), "bobdevice02", false), link.Central())

	wg.Wait()
	return centralConn, peripheralConn, link
}

// TestReconnectionResumesAndDrainsQueuedMessages drives the full CENTRAL-
// initiated reconnection path end to end: a hardware dropout puts both
// sides into the reconnecting state, a message sent while the link is down
// sits queued, and rediscovery on a fresh link resumes the existing
// channels (rather than starting a new connection) and delivers the queued
// message once the resume handshake completes.
func TestReconnectionResumesAndDrainsQueuedMessages(t *testing.T) {
	var lostWG, resumedWG, recvWG sync.WaitGroup
	lostWG.Add(2)
	resumedWG.Add(2)
	recvWG.Add(1)

	var mu sync.Mutex
	var received []string

	centralConn, peripheralConn, link := pairedConnectionsForResume(t, channel.Callbacks{
		OnConnectionLost:    func(p *peer.Peer) { lostWG.Done() },
		OnConnectionResumed: func(p *peer.Peer) { resumedWG.Done() },
		OnMessageReceived: func(m channel.ReceivedMessage, role channel.Role) {
			mu.Lock()
			received = append(received, string(m.Payload))
			mu.Unlock()
			recvWG.Done()
		},
	})

	link.SimulateHardwareLoss()
	lostWG.Wait()

	if peers := centralConn.GetReconnectingPeers(); len(peers) != 1 {
		t.Fatalf("central reconnecting peers = %d, want 1", len(peers))
	}
	if peers := peripheralConn.GetReconnectingPeers(); len(peers) != 1 {
		t.Fatalf("peripheral reconnecting peers = %d, want 1", len(peers))
	}

	sendDone := make(chan error, 1)
	centralConn.SendMessage(message.New("T", []byte("queued-during-outage"), nil), func(err error) {
		sendDone <- err
	})

	// The peer is rediscovered on a new link, the way a real scan result
	// after a hardware dropout hands back a fresh GATT connection to the
	// same remote device.
	newLink := simlink.NewLink(0)
	peripheralConn.AcceptInbound(peer.New(newLink.PeripheralHandle(), "", false), newLink.Peripheral())
	if resumed := centralConn.HandleScanResult("bobdevice02", newLink.CentralHandle(), newLink.Central()); !resumed {
		t.Fatal("HandleScanResult did not recognize the reconnecting peer")
	}

	resumedWG.Wait()
	recvWG.Wait()

	select {
	case err := <-sendDone:
		if err != nil {
			t.Errorf("queued send completed with err = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the message queued during the outage to be delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != "queued-during-outage" {
		t.Errorf("received = %v, want [queued-during-outage]", received)
	}

	if peers := centralConn.GetConnectedPeers(); len(peers) != 1 {
		t.Errorf("central connected peers after resume = %d, want 1", len(peers))
	}
	if peers := peripheralConn.GetConnectedPeers(); len(peers) != 1 {
		t.Errorf("peripheral connected peers after resume = %d, want 1", len(peers))
	}
}

// TestSendMessageWithReceiverOnlyReachesMatchingPeer connects one CENTRAL to
// three PERIPHERALs and sends one message addressed to the middle one via
// message.Message.Receiver, verifying filteredChannels fans the send out to
// exactly the matching channel rather than every connected one.
func TestSendMessageWithReceiverOnlyReachesMatchingPeer(t *testing.T) {
	linkB := simlink.NewLink(0)
	linkC := simlink.NewLink(0)
	linkD := simlink.NewLink(0)

	var wg sync.WaitGroup
	wg.Add(3)

	centralConn := New(channel.RoleCentral, "alicedevice01", channel.Callbacks{
		OnConnectionSuccess: func(p *peer.Peer, role channel.Role) { wg.Done() },
	})

	var recvMu sync.Mutex
	gotFor := map[string]int{}
	recvWG := sync.WaitGroup{}
	recvWG.Add(1)

	newPeripheral := func(name string) *Connection {
		var pc *Connection
		pc = New(channel.RolePeripheral, name, channel.Callbacks{
			OnConnectionRequest: func(p *peer.Peer) {
				if ch := pc.FindChannel(p); ch != nil {
					ch.AcceptConnection()
				}
			},
			OnMessageReceived: func(m channel.ReceivedMessage, role channel.Role) {
				recvMu.Lock()
				gotFor[name]++
				recvMu.Unlock()
				recvWG.Done()
			},
		})
		return pc
	}

	peripheralB := newPeripheral("bobdevice02")
	peripheralC := newPeripheral("caroldevic3")
	peripheralD := newPeripheral("davedevice4")

	peripheralB.AcceptInbound(peer.New(linkB.PeripheralHandle(), "", false), linkB.Peripheral())
	peripheralC.AcceptInbound(peer.New(linkC.PeripheralHandle(), "", false), linkC.Peripheral())
	peripheralD.AcceptInbound(peer.New(linkD.PeripheralHandle(), "", false), linkD.Peripheral())

	centralConn.Connect(peer.New(linkB.CentralHandle(), "bobdevice02", false), linkB.Central())
	centralConn.Connect(peer.New(linkC.CentralHandle(), "caroldevic3", false), linkC.Central())
	centralConn.Connect(peer.New(linkD.CentralHandle(), "davedevice4", false), linkD.Central())

	wg.Wait()

	receiver := peer.New(nil, "caroldevic3", true)
	sendDone := make(chan error, 1)
	centralConn.SendMessage(message.New("T", []byte("only-for-carol"), receiver), func(err error) {
		sendDone <- err
	})

	recvWG.Wait()
	if err := <-sendDone; err != nil {
		t.Errorf("SendMessage err = %v", err)
	}

	// Give a stray broadcast to B/D time to land, were the filter broken.
	time.Sleep(50 * time.Millisecond)

	recvMu.Lock()
	defer recvMu.Unlock()
	if gotFor["caroldevic3"] != 1 {
		t.Errorf("caroldevic3 received %d messages, want exactly 1", gotFor["caroldevic3"])
	}
	if gotFor["bobdevice02"] != 0 {
		t.Errorf("bobdevice02 received %d messages, want 0 (Receiver filter must exclude non-matching peers)", gotFor["bobdevice02"])
	}
	if gotFor["davedevice4"] != 0 {
		t.Errorf("davedevice4 received %d messages, want 0 (Receiver filter must exclude non-matching peers)", gotFor["davedevice4"])
	}
}
