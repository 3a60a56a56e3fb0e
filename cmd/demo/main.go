// Command demo runs two Communicators over a simulated in-process radio
// medium: one advertises, the other discovers and connects, both exchange
// a message in each direction, then disconnect.
package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/channel"
	"github.com/user/blepeer/communicator"
	"github.com/user/blepeer/message"
	"github.com/user/blepeer/peer"
	"github.com/user/blepeer/simlink"
)

func main() {
	fmt.Println("=== BLE peer communication demo ===")
	fmt.Println()

	medium := simlink.NewMedium()
	aliceRadio := simlink.NewRadio(medium, 5*time.Millisecond)
	bobRadio := simlink.NewRadio(medium, 5*time.Millisecond)

	var connected sync.WaitGroup
	connected.Add(2)

	var received sync.WaitGroup
	received.Add(2)

	var alice, bob *communicator.Communicator

	alice = communicator.New("alice", aliceRadio, communicator.Callbacks{
		OnAdvertiseStarted: func() { fmt.Println("alice: advertising started") },
		OnConnectionRequest: func(p *peer.Peer) {
			fmt.Printf("alice: connection request from %s, accepting\n", p.Name())
			alice.AcceptConnection(p)
		},
		OnConnectionSuccess: func(p *peer.Peer, role channel.Role) {
			fmt.Printf("alice: connected to %s as %s\n", p.Name(), role)
			connected.Done()
		},
		OnMessageReceived: func(m channel.ReceivedMessage, role channel.Role) {
			fmt.Printf("alice: received message %q from %s\n", string(m.Payload), m.Sender.Name())
			received.Done()
		},
		OnDisconnected: func(p *peer.Peer, peersLeft int) {
			fmt.Printf("alice: disconnected from %s (%d peers left)\n", p.Name(), peersLeft)
		},
	})

	bob = communicator.New("bob", bobRadio, communicator.Callbacks{
		OnPeerFound: func(p *peer.Peer) {
			fmt.Printf("bob: found peer %s, connecting\n", p.Name())
			bob.Connect(p)
		},
		OnConnectionSuccess: func(p *peer.Peer, role channel.Role) {
			fmt.Printf("bob: connected to %s as %s\n", p.Name(), role)
			connected.Done()
		},
		OnMessageReceived: func(m channel.ReceivedMessage, role channel.Role) {
			fmt.Printf("bob: received message %q from %s\n", string(m.Payload), m.Sender.Name())
			received.Done()
		},
		OnDisconnected: func(p *peer.Peer, peersLeft int) {
			fmt.Printf("bob: disconnected from %s (%d peers left)\n", p.Name(), peersLeft)
		},
	})

	if code := alice.StartAdvertising(); code != ble.Success {
		fmt.Printf("alice: StartAdvertising failed: %s\n", code)
		return
	}
	if code := bob.StartDiscovery(); code != ble.Success {
		fmt.Printf("bob: StartDiscovery failed: %s\n", code)
		return
	}

	connected.Wait()

	alice.SendMessage(message.New("", []byte("hello from alice"), nil))
	bob.SendMessage(message.New("", []byte("hello from bob"), nil))

	received.Wait()

	fmt.Println()
	fmt.Println("disconnecting")
	bob.DisconnectFromAll()

	time.Sleep(50 * time.Millisecond)
	fmt.Println("=== done ===")
}
