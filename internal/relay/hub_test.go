package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/ame2e/mlsgov/internal/storage"
	"github.com/ame2e/mlsgov/internal/transport"
	"github.com/ame2e/mlsgov/internal/wire"
)

var upgrader = websocket.Upgrader{}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(NewStore(storage.Paths{Root: t.TempDir()}), zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(transport.NewConn(ws))
	}))
	return hub, srv
}

func dialTestConn(t *testing.T, srv *httptest.Server) *transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := transport.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func TestUnorderedMessagePushedToOnlineRecipient(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	aliceConn := dialTestConn(t, srv)
	defer aliceConn.Close()
	bobConn := dialTestConn(t, srv)
	defer bobConn.Close()

	// Bob announces himself so the Hub can bind his identity to his connection.
	sync, _ := wire.Wrap(wire.TypeUserSync, wire.UserSync{
		User:           "bob",
		NewKeyPackages: []wire.KeyPackage{{Identity: []byte("bob")}},
	})
	if err := bobConn.Send(sync); err != nil {
		t.Fatalf("Send sync: %v", err)
	}
	if _, err := bobConn.Recv(); err != nil {
		t.Fatalf("Recv sync ack: %v", err)
	}

	send, _ := wire.Wrap(wire.TypeUserStandardSend, wire.UserStandardSend{
		Recipients: []string{"bob"},
		UserMsg:    wire.GroupMessage{Sender: "alice", Ciphertext: []byte("hi")},
	})
	if err := aliceConn.Send(send); err != nil {
		t.Fatalf("Send standard: %v", err)
	}

	got, err := bobConn.Recv()
	if err != nil {
		t.Fatalf("Recv delivery: %v", err)
	}
	if got.Type != wire.TypeDSRelayedUserMsg {
		t.Fatalf("Type = %q, want %q", got.Type, wire.TypeDSRelayedUserMsg)
	}
	var relayed wire.DSRelayedUserMsg
	if err := wire.Unwrap(got, &relayed); err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if relayed.UserMsg.Sender != "alice" {
		t.Errorf("Sender = %q, want alice", relayed.UserMsg.Sender)
	}
}

func TestUnorderedMessageBufferedForOfflineRecipientAndDeliveredOnSync(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	aliceConn := dialTestConn(t, srv)
	defer aliceConn.Close()

	send, _ := wire.Wrap(wire.TypeUserStandardSend, wire.UserStandardSend{
		Recipients: []string{"bob"},
		UserMsg:    wire.GroupMessage{Sender: "alice", Ciphertext: []byte("hi")},
	})
	if err := aliceConn.Send(send); err != nil {
		t.Fatalf("Send standard: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	bobConn := dialTestConn(t, srv)
	defer bobConn.Close()
	sync, _ := wire.Wrap(wire.TypeUserSync, wire.UserSync{
		User:           "bob",
		NewKeyPackages: []wire.KeyPackage{{Identity: []byte("bob")}},
	})
	if err := bobConn.Send(sync); err != nil {
		t.Fatalf("Send sync: %v", err)
	}

	foundDelivery := false
	for i := 0; i < 2; i++ {
		got, err := bobConn.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if got.Type == wire.TypeDSRelayedUserMsg {
			foundDelivery = true
		}
	}
	if !foundDelivery {
		t.Fatal("expected the buffered message to be flushed on sync")
	}
}

func TestReliableSendRacesReturnPrecedingCommits(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	grp := testGrp()
	conn := dialTestConn(t, srv)
	defer conn.Close()

	first, _ := wire.Wrap(wire.TypeUserReliableSend, wire.UserReliableSend{
		Sender: "alice", UserMsg: wire.GroupMessage{CommGrp: grp, Sender: "alice", Epoch: 0},
	})
	if err := conn.Send(first); err != nil {
		t.Fatalf("Send first: %v", err)
	}
	if _, err := conn.Recv(); err != nil {
		t.Fatalf("Recv first ack: %v", err)
	}

	stale, _ := wire.Wrap(wire.TypeUserReliableSend, wire.UserReliableSend{
		Sender: "bob", UserMsg: wire.GroupMessage{CommGrp: grp, Sender: "bob", Epoch: 0},
	})
	if err := conn.Send(stale); err != nil {
		t.Fatalf("Send stale: %v", err)
	}
	got, err := conn.Recv()
	if err != nil {
		t.Fatalf("Recv stale ack: %v", err)
	}
	var res wire.DSResult
	if err := wire.Unwrap(got, &res); err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if res.Ok {
		t.Fatal("expected the racing commit at a stale epoch to be rejected")
	}
	if len(res.PrecedingAndSentOrderedMsgs) != 1 {
		t.Fatalf("len(PrecedingAndSentOrderedMsgs) = %d, want 1", len(res.PrecedingAndSentOrderedMsgs))
	}
}

func TestUnregisteredUserSyncRejected(t *testing.T) {
	_, srv := newTestHub(t)
	defer srv.Close()

	conn := dialTestConn(t, srv)
	defer conn.Close()

	sync, _ := wire.Wrap(wire.TypeUserSync, wire.UserSync{User: "mallory"})
	if err := conn.Send(sync); err != nil {
		t.Fatalf("Send sync: %v", err)
	}
	got, err := conn.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	var res wire.DSResult
	if err := wire.Unwrap(got, &res); err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if res.Ok {
		t.Fatal("expected a sync from an unregistered user to be rejected")
	}
	if res.Explanation == nil || *res.Explanation != "Unknown user" {
		t.Fatalf("Explanation = %v, want \"Unknown user\"", res.Explanation)
	}

	// The same user registers via UserKeyPackagesForDS, then UserSync succeeds.
	register, _ := wire.Wrap(wire.TypeUserKeyPackagesForDS, wire.UserKeyPackagesForDS{
		KeyPackages: []wire.KeyPackage{{Identity: []byte("mallory")}},
	})
	if err := conn.Send(register); err != nil {
		t.Fatalf("Send register: %v", err)
	}

	retry, _ := wire.Wrap(wire.TypeUserSync, wire.UserSync{User: "mallory"})
	if err := conn.Send(retry); err != nil {
		t.Fatalf("Send retry sync: %v", err)
	}
	got, err = conn.Recv()
	if err != nil {
		t.Fatalf("Recv retry: %v", err)
	}
	var retryRes wire.DSResult
	if err := wire.Unwrap(got, &retryRes); err != nil {
		t.Fatalf("Unwrap retry: %v", err)
	}
	if !retryRes.Ok {
		t.Fatal("expected sync to succeed once the user has registered key packages")
	}
}
