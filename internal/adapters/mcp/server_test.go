package mcpadapter

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestServeAnswersPingAndStopsOnCancel(t *testing.T) {
	srv := NewServer(answererFake{}, &rebuilderFake{}, inspectorFake{}, nil)
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	defer inW.Close()
	defer outR.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, inR, outW)
	}()

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(outR).ReadString('\n')
		lines <- line
	}()
	if _, err := io.WriteString(inW, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"); err != nil {
		t.Fatalf("write request: %v", err)
	}

	select {
	case line := <-lines:
		if !strings.Contains(line, `"id":1`) || !strings.Contains(line, `"result"`) {
			t.Fatalf("unexpected reply: %s", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply to ping")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve() did not stop after cancellation")
	}
}
