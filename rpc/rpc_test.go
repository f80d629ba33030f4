package rpc

import (
	"testing"
	"time"
)

const (
	serverAddress = "localhost:1234"
	testRegion    = 128 * 2 * 1024 * 1024 // 128 slabs' worth
)

func TestRPCClientServer(t *testing.T) {
	server, err := NewServer(0, testRegion)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := server.Start(serverAddress); err != nil {
			t.Errorf("Server error: %v", err)
		}
	}()

	time.Sleep(time.Second)

	numClients := 5
	clients := make([]*Client, numClients)

	for i := 0; i < numClients; i++ {
		client, err := NewClient(i, serverAddress)
		if err != nil {
			t.Fatalf("Failed to create client %d: %v", i, err)
		}
		clients[i] = client
		defer client.Close()
	}

	done := make(chan bool)
	for i, client := range clients {
		go func(id int, c *Client) {
			start, err := c.Allocate(2048)
			if err != nil {
				t.Errorf("Client %d allocation failed: %v", id, err)
				done <- true
				return
			}

			time.Sleep(time.Millisecond * 100)

			if err := c.Free(start); err != nil {
				t.Errorf("Client %d free failed: %v", id, err)
			}

			done <- true
		}(i, client)
	}

	for i := 0; i < numClients; i++ {
		<-done
	}

	stats, err := clients[0].Stats()
	if err != nil {
		t.Fatalf("Stats call failed: %v", err)
	}
	if stats.IndexedSlabs == 0 {
		t.Errorf("expected at least one indexed slab after allocations, got 0")
	}

	server.Close()
}
