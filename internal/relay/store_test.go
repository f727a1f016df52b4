package relay

import (
	"testing"

	"github.com/ame2e/mlsgov/internal/storage"
	"github.com/ame2e/mlsgov/internal/wire"
)

func testGrp() wire.CommGroupId { return wire.CommGroupId{CommunityID: "c", GroupID: "g"} }

func TestSubmitOrderedAcceptsSequentialEpochs(t *testing.T) {
	s := NewStore(storage.Paths{Root: t.TempDir()})
	grp := testGrp()

	_, ok := s.SubmitOrdered(grp, wire.GroupMessage{CommGrp: grp, Epoch: 0})
	if !ok {
		t.Fatal("expected epoch 0 to be accepted as the first commit")
	}
	_, ok = s.SubmitOrdered(grp, wire.GroupMessage{CommGrp: grp, Epoch: 1})
	if !ok {
		t.Fatal("expected epoch 1 to be accepted after epoch 0")
	}
}

func TestSubmitOrderedRejectsStaleEpochAndReturnsPreceding(t *testing.T) {
	s := NewStore(storage.Paths{Root: t.TempDir()})
	grp := testGrp()
	s.SubmitOrdered(grp, wire.GroupMessage{CommGrp: grp, Epoch: 0})
	s.SubmitOrdered(grp, wire.GroupMessage{CommGrp: grp, Epoch: 1})

	preceding, ok := s.SubmitOrdered(grp, wire.GroupMessage{CommGrp: grp, Epoch: 0})
	if ok {
		t.Fatal("expected a stale epoch 0 resubmission to be rejected")
	}
	if len(preceding) != 2 {
		t.Fatalf("len(preceding) = %d, want 2", len(preceding))
	}
}

func TestSubmitOrderedRejectsFutureEpoch(t *testing.T) {
	s := NewStore(storage.Paths{Root: t.TempDir()})
	grp := testGrp()
	_, ok := s.SubmitOrdered(grp, wire.GroupMessage{CommGrp: grp, Epoch: 5})
	if ok {
		t.Fatal("expected an epoch far ahead of the log to be rejected")
	}
}

func TestKeyPackageInventoryIsFIFOAndCapped(t *testing.T) {
	s := NewStore(storage.Paths{Root: t.TempDir()})
	var kps []wire.KeyPackage
	for i := 0; i < keyPackageInventoryCap+5; i++ {
		kps = append(kps, wire.KeyPackage{InitPub: []byte{byte(i)}})
	}
	s.StoreKeyPackages("alice", kps)

	first, ok := s.TakeKeyPackage("alice")
	if !ok {
		t.Fatal("expected a key package to be available")
	}
	if first.InitPub[0] != 5 {
		t.Errorf("InitPub[0] = %d, want 5 (the oldest 5 should have been evicted)", first.InitPub[0])
	}
}

func TestMailboxDeliversExactlyOnce(t *testing.T) {
	s := NewStore(storage.Paths{Root: t.TempDir()})
	s.Enqueue("bob", wire.DSRelayedUserMsg{UserMsg: wire.GroupMessage{Sender: "alice"}})

	got := s.DrainMailbox("bob")
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if again := s.DrainMailbox("bob"); len(again) != 0 {
		t.Fatal("expected a second drain to return nothing")
	}
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	root := t.TempDir()
	paths := storage.Paths{Root: root}
	grp := testGrp()

	s1 := NewStore(paths)
	s1.SubmitOrdered(grp, wire.GroupMessage{CommGrp: grp, Epoch: 0})
	s1.StoreKeyPackages("alice", []wire.KeyPackage{{InitPub: []byte("k")}})

	s2 := NewStore(paths)
	if got := s2.CommitsSince(grp, 0); len(got) != 1 {
		t.Fatalf("CommitsSince after reload = %d commits, want 1", len(got))
	}
	if _, ok := s2.TakeKeyPackage("alice"); !ok {
		t.Fatal("expected key package inventory to survive a reload")
	}
}
