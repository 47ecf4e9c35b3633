package serial

import (
	"net"
	"testing"
	"time"
)

func TestBaudRateToSpeed(t *testing.T) {
	if _, err := baudRateToSpeed(9600); err != nil {
		t.Errorf("baudRateToSpeed(9600) error: %v", err)
	}
	if _, err := baudRateToSpeed(12345); err == nil {
		t.Error("baudRateToSpeed(12345) should fail")
	}
}

func TestMatchHint(t *testing.T) {
	hints := []string{"cu.usbmodem1411", "cu.usbmodem1451", "ttyACM"}
	tests := []struct {
		device string
		want   bool
	}{
		{"/dev/cu.usbmodem1411", true},
		{"/dev/cu.usbmodem1451", true},
		{"/dev/ttyACM0", true},
		{"/dev/ttyUSB0", false},
		{"/dev/cu.usbmodem9999", false},
	}
	for _, tt := range tests {
		if got := MatchHint(tt.device, hints); got != tt.want {
			t.Errorf("MatchHint(%q) = %v, want %v", tt.device, got, tt.want)
		}
	}
}

func TestOpenRequiresDevice(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open with empty device should fail")
	}
	if _, err := OpenTCP("nocolon", time.Second); err == nil {
		t.Error("OpenTCP without port should fail")
	}
}

func TestTCPPortAvailableReadFlush(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	port, err := OpenTCP(ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("OpenTCP: %v", err)
	}
	defer port.Close()

	if !port.IsSocket() {
		t.Error("TCP port should report IsSocket")
	}

	peer := <-accepted
	defer peer.Close()

	if _, err := peer.Write([]byte("OK\r\n")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	waitAvailable(t, port, 4)

	buf := make([]byte, 4)
	if n, err := port.ReadFull(buf); err != nil || n != 4 {
		t.Fatalf("ReadFull = %d, %v", n, err)
	}
	if string(buf) != "OK\r\n" {
		t.Errorf("read %q, want %q", buf, "OK\r\n")
	}

	if _, err := peer.Write([]byte("stale")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	waitAvailable(t, port, 5)
	if err := port.FlushInput(); err != nil {
		t.Fatalf("FlushInput: %v", err)
	}
	if n, _ := port.Available(); n != 0 {
		t.Errorf("Available after flush = %d, want 0", n)
	}

	if _, err := port.Write([]byte("qc\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, 3)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := peer.Read(got); err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(got) != "qc\r" {
		t.Errorf("peer got %q, want %q", got, "qc\r")
	}

	port.Close()
	if _, err := port.Write([]byte("x")); err != ErrClosed {
		t.Errorf("Write after close = %v, want ErrClosed", err)
	}
}

func waitAvailable(t *testing.T, p *Port, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := p.Available()
		if err != nil {
			t.Fatalf("Available: %v", err)
		}
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d bytes", want)
}
