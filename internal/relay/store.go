// Package relay implements the Delivery Service collaborator: ordered
// per-group commit sequencing, per-recipient unordered exactly-once
// delivery, and a FIFO key-package inventory, all held in memory and
// best-effort persisted as an opaque blob.
package relay

import (
	"sync"

	"github.com/ame2e/mlsgov/internal/storage"
	"github.com/ame2e/mlsgov/internal/wire"
)

const keyPackageInventoryCap = 20

// groupLog is one group's append-only ordered-commit history, indexed by
// the position each commit was accepted at. The log's length is the
// Delivery Service's own view of how many commits a group has accepted,
// used to detect a sender racing an epoch it has not caught up to yet.
type groupLog struct {
	commits []wire.GroupMessage
}

// groupLogEntry pairs a group id with its commit history; snapshot uses a
// slice of these rather than a map keyed by CommGroupId, since that is a
// struct and cannot be a JSON object key directly.
type groupLogEntry struct {
	CommGrp wire.CommGroupId     `json:"comm_grp"`
	Commits []wire.GroupMessage  `json:"commits"`
}

// snapshot is the JSON-serialisable shape persisted to disk.
type snapshot struct {
	GroupLogs       []groupLogEntry                        `json:"group_logs"`
	Mailboxes       map[string][]wire.DSRelayedUserMsg     `json:"mailboxes"`
	PendingWelcomes map[string][]wire.DSRelayedUserWelcome `json:"pending_welcomes"`
	KeyPackages     map[string][]wire.KeyPackage           `json:"key_packages"`
	KnownUsers      map[string]bool                        `json:"known_users"`
}

// Store holds the Delivery Service's entire durable state: one goroutine
// per connection may call into it concurrently, so every access goes
// through mu.
type Store struct {
	mu sync.Mutex

	groupLogs       map[wire.CommGroupId]*groupLog
	mailboxes       map[string][]wire.DSRelayedUserMsg
	pendingWelcomes map[string][]wire.DSRelayedUserWelcome
	keyPackages     map[string][]wire.KeyPackage
	knownUsers      map[string]bool

	paths storage.Paths
}

// NewStore loads a persisted Store from paths, if any, or starts empty.
func NewStore(paths storage.Paths) *Store {
	s := &Store{
		groupLogs:       map[wire.CommGroupId]*groupLog{},
		mailboxes:       map[string][]wire.DSRelayedUserMsg{},
		pendingWelcomes: map[string][]wire.DSRelayedUserWelcome{},
		keyPackages:     map[string][]wire.KeyPackage{},
		knownUsers:      map[string]bool{},
		paths:           paths,
	}
	var snap snapshot
	if storage.LoadState(paths, &snap) {
		for _, entry := range snap.GroupLogs {
			s.groupLogs[entry.CommGrp] = &groupLog{commits: entry.Commits}
		}
		if snap.Mailboxes != nil {
			s.mailboxes = snap.Mailboxes
		}
		if snap.PendingWelcomes != nil {
			s.pendingWelcomes = snap.PendingWelcomes
		}
		if snap.KeyPackages != nil {
			s.keyPackages = snap.KeyPackages
		}
		if snap.KnownUsers != nil {
			s.knownUsers = snap.KnownUsers
		}
	}
	return s
}

// persistLocked snapshots and saves state; callers must hold mu.
func (s *Store) persistLocked() {
	snap := snapshot{
		Mailboxes:       s.mailboxes,
		PendingWelcomes: s.pendingWelcomes,
		KeyPackages:     s.keyPackages,
		KnownUsers:      s.knownUsers,
	}
	for g, log := range s.groupLogs {
		snap.GroupLogs = append(snap.GroupLogs, groupLogEntry{CommGrp: g, Commits: log.commits})
	}
	_ = storage.SaveState(s.paths, snap)
}

// RegisterUser marks identity as known, so a later UserSync from it is not
// rejected as unregistered. Called when identity's key packages are first
// filed with the Delivery Service.
func (s *Store) RegisterUser(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knownUsers[identity] = true
	s.persistLocked()
}

// IsKnownUser reports whether identity has ever registered key packages.
func (s *Store) IsKnownUser(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.knownUsers[identity]
}

// SubmitOrdered appends msg to grp's commit log if its epoch is exactly
// the next expected one. If the sender raced another commit and is
// behind, it returns the commits the sender is missing (from msg.Epoch
// onward) so the caller can echo them back per the DSResult contract
// instead of accepting a commit staged against a stale epoch.
func (s *Store) SubmitOrdered(grp wire.CommGroupId, msg wire.GroupMessage) (preceding []wire.GroupMessage, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, exists := s.groupLogs[grp]
	if !exists {
		log = &groupLog{}
		s.groupLogs[grp] = log
	}
	expected := uint64(len(log.commits))
	switch {
	case msg.Epoch == expected:
		log.commits = append(log.commits, msg)
		s.persistLocked()
		return nil, true
	case msg.Epoch < expected:
		return append([]wire.GroupMessage(nil), log.commits[msg.Epoch:]...), false
	default:
		return nil, false
	}
}

// CommitsSince returns grp's accepted commits starting at fromEpoch, for a
// client catching up after a reconnect.
func (s *Store) CommitsSince(grp wire.CommGroupId, fromEpoch uint64) []wire.GroupMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.groupLogs[grp]
	if !ok || fromEpoch >= uint64(len(log.commits)) {
		return nil
	}
	return append([]wire.GroupMessage(nil), log.commits[fromEpoch:]...)
}

// Enqueue buffers msg for recipient's mailbox, to be delivered exactly
// once the next time that recipient is online or syncs.
func (s *Store) Enqueue(recipient string, msg wire.DSRelayedUserMsg) {
	s.mu.Lock()
	s.mailboxes[recipient] = append(s.mailboxes[recipient], msg)
	s.persistLocked()
	s.mu.Unlock()
}

// DrainMailbox returns and clears everything buffered for recipient.
func (s *Store) DrainMailbox(recipient string) []wire.DSRelayedUserMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.mailboxes[recipient]
	delete(s.mailboxes, recipient)
	s.persistLocked()
	return out
}

// EnqueueWelcome buffers a welcome for invitee until they next sync.
func (s *Store) EnqueueWelcome(invitee string, w wire.DSRelayedUserWelcome) {
	s.mu.Lock()
	s.pendingWelcomes[invitee] = append(s.pendingWelcomes[invitee], w)
	s.persistLocked()
	s.mu.Unlock()
}

// DrainWelcomes returns and clears every welcome buffered for identity.
func (s *Store) DrainWelcomes(identity string) []wire.DSRelayedUserWelcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingWelcomes[identity]
	delete(s.pendingWelcomes, identity)
	s.persistLocked()
	return out
}

// StoreKeyPackages appends kps to identity's inventory, evicting the
// oldest entries first once the cap is exceeded (FIFO).
func (s *Store) StoreKeyPackages(identity string, kps []wire.KeyPackage) {
	if len(kps) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := append(s.keyPackages[identity], kps...)
	if len(inv) > keyPackageInventoryCap {
		inv = inv[len(inv)-keyPackageInventoryCap:]
	}
	s.keyPackages[identity] = inv
	s.persistLocked()
}

// TakeKeyPackage pops the oldest spare key package for identity, if any.
func (s *Store) TakeKeyPackage(identity string) (wire.KeyPackage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.keyPackages[identity]
	if len(inv) == 0 {
		return wire.KeyPackage{}, false
	}
	kp := inv[0]
	s.keyPackages[identity] = inv[1:]
	s.persistLocked()
	return kp, true
}
