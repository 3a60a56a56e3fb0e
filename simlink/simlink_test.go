package simlink

import (
	"sync"
	"testing"
	"time"

	"github.com/user/blepeer/ble"
)

func TestWriteDeliversToPeripheral(t *testing.T) {
	link := NewLink(0)
	var got []byte
	var wg sync.WaitGroup
	wg.Add(1)
	link.Peripheral().SetWriteHandler(func(char ble.CharUUID, value []byte) {
		got = value
		wg.Done()
	})

	link.Central().WriteCharacteristic(ble.CharConnectionRequest, []byte("hello"), func(err error) {
		if err != nil {
			t.Errorf("write done err = %v", err)
		}
	})
	wg.Wait()
	if string(got) != "hello" {
		t.Errorf("peripheral received %q, want %q", got, "hello")
	}
}

func TestNotifyDeliversToCentral(t *testing.T) {
	link := NewLink(0)
	var got []byte
	var wg sync.WaitGroup
	wg.Add(1)
	link.Central().SetNotifyHandler(func(char ble.CharUUID, value []byte) {
		got = value
		wg.Done()
	})

	link.Peripheral().Notify(ble.CharConnectionResponse, []byte("ack"), nil)
	wg.Wait()
	if string(got) != "ack" {
		t.Errorf("central received %q, want %q", got, "ack")
	}
}

func TestDisconnectNotifiesOtherSideOnly(t *testing.T) {
	link := NewLink(0)
	var peripheralLost sync.WaitGroup
	centralLost := make(chan struct{}, 1)
	peripheralLost.Add(1)
	link.Peripheral().SetLinkLostHandler(func(err error) { peripheralLost.Done() })
	link.Central().SetLinkLostHandler(func(err error) { centralLost <- struct{}{} })

	done := make(chan struct{})
	link.Central().Disconnect(func(err error) { close(done) })
	<-done
	peripheralLost.Wait()
	select {
	case <-centralLost:
		t.Error("initiating central's link-lost handler fired, want only the peripheral's")
	default:
	}
}

func TestWriteAfterDisconnectFails(t *testing.T) {
	link := NewLink(0)
	done := make(chan struct{})
	link.Central().Disconnect(func(err error) { close(done) })
	<-done

	result := make(chan error, 1)
	link.Central().WriteCharacteristic(ble.CharMessageReceive, []byte("x"), func(err error) {
		result <- err
	})
	if err := <-result; err != ble.ErrConnectionLost {
		t.Errorf("write after disconnect err = %v, want %v", err, ble.ErrConnectionLost)
	}
}

func TestReconnectRestoresLink(t *testing.T) {
	link := NewLink(0)
	done := make(chan struct{})
	link.Peripheral().Disconnect(func(err error) { close(done) })
	<-done

	link.Reconnect()

	var wg sync.WaitGroup
	wg.Add(1)
	link.Peripheral().SetWriteHandler(func(char ble.CharUUID, value []byte) { wg.Done() })
	link.Central().WriteCharacteristic(ble.CharConnectionRequest, []byte("y"), nil)
	wg.Wait()
}

func TestRequestMTUCapsAtTargetMTU(t *testing.T) {
	link := NewLink(0)
	result := make(chan int, 1)
	link.Central().RequestMTU(500, func(negotiated int, err error) {
		result <- negotiated
	})
	if got := <-result; got != ble.TargetMTU {
		t.Errorf("negotiated MTU = %d, want %d", got, ble.TargetMTU)
	}
}

func TestLatencyDelaysDelivery(t *testing.T) {
	link := NewLink(20 * time.Millisecond)
	start := time.Now()
	done := make(chan struct{})
	link.Peripheral().SetWriteHandler(func(char ble.CharUUID, value []byte) { close(done) })
	link.Central().WriteCharacteristic(ble.CharConnectionRequest, []byte("z"), nil)
	<-done
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("delivery happened after %v, want at least 20ms", elapsed)
	}
}

func TestHandlesAreDistinctPerSide(t *testing.T) {
	link := NewLink(0)
	if link.CentralHandle().Address == link.PeripheralHandle().Address {
		t.Error("central and peripheral handles must not share an address")
	}
}
