package netconn

import (
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/amrav/ncdc/internal/dcerr"
)

// syncPost runs callbacks synchronously, serialising them under a
// mutex the way a single dispatcher goroutine would, for deterministic
// tests.
func syncPost(mu *sync.Mutex) func(func()) {
	return func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}
}

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	var server net.Conn
	done := make(chan struct{})
	go func() {
		server, _ = ln.Accept()
		close(done)
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-done
	return client, server
}

func TestSendAndReceiveFrame(t *testing.T) {
	clientRaw, serverRaw := pipePair(t)
	defer clientRaw.Close()
	defer serverRaw.Close()

	var mu sync.Mutex
	received := make(chan []byte, 1)
	server := Wrap(serverRaw, '|', syncPost(&mu), Handlers{
		OnCommand: func(frame []byte) { received <- frame },
	})
	defer server.Disconnect()

	client := Wrap(clientRaw, '|', syncPost(&mu), Handlers{})
	defer client.Disconnect()

	if err := client.Send([]byte("$Lock foo Pk=bar")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case frame := <-received:
		if string(frame) != "$Lock foo Pk=bar" {
			t.Fatalf("got frame %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestSendFileStreamsExactRange(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "data")
	if err != nil {
		t.Fatal(err)
	}
	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i % 256)
	}
	if _, err := f.Write(content); err != nil {
		t.Fatal(err)
	}
	f.Close()

	clientRaw, serverRaw := pipePair(t)
	defer clientRaw.Close()
	defer serverRaw.Close()

	var mu sync.Mutex
	server := Wrap(serverRaw, '|', syncPost(&mu), Handlers{})
	defer server.Disconnect()
	client := Wrap(clientRaw, '|', syncPost(&mu), Handlers{})
	defer client.Disconnect()

	if err := client.SendFile(f.Name(), 100, 50); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	buf := make([]byte, 50)
	if _, err := io.ReadFull(serverRaw, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	want := content[100:150]
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, buf[i], want[i])
		}
	}
}

func TestOversizedFrameIsProtocolError(t *testing.T) {
	clientRaw, serverRaw := pipePair(t)
	defer clientRaw.Close()
	defer serverRaw.Close()

	var mu sync.Mutex
	errCh := make(chan *dcerr.Error, 1)
	server := Wrap(serverRaw, '|', syncPost(&mu), Handlers{
		OnError: func(err *dcerr.Error) { errCh <- err },
	})
	defer server.Disconnect()
	client := Wrap(clientRaw, '|', syncPost(&mu), Handlers{})
	defer client.Disconnect()

	huge := make([]byte, MaxFrameSize+1)
	if err := client.SendRaw(huge); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}

	select {
	case err := <-errCh:
		if err.Kind != dcerr.KindProtocol {
			t.Fatalf("got kind %v, want protocol", err.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for protocol error")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	clientRaw, serverRaw := pipePair(t)
	defer serverRaw.Close()
	var mu sync.Mutex
	client := Wrap(clientRaw, '|', syncPost(&mu), Handlers{})
	client.Disconnect()
	client.Disconnect()
}
