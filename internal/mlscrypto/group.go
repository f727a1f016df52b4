package mlscrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ame2e/mlsgov/internal/mlserr"
	"github.com/ame2e/mlsgov/internal/wire"
)

// groupState is the serializable core of a group handle: the epoch ratchet
// plus the member roster. It does not include RBAC or governance state,
// which live one layer up in clientstate.
type groupState struct {
	CommGrp      wire.CommGroupId `json:"comm_grp"`
	Epoch        uint64           `json:"epoch"`
	EpochSecret  []byte           `json:"epoch_secret"`
	Members      []memberEntry    `json:"members"`
	OwnLeafIndex int              `json:"own_leaf_index"`
}

type memberEntry struct {
	Identity []byte `json:"identity"`
	SigPub   []byte `json:"sig_pub"`
	InitPub  []byte `json:"init_pub"`
	Active   bool   `json:"active"`
}

// welcomeData is the plaintext sealed into a Welcome for a joining member.
type welcomeData struct {
	CommGrp     wire.CommGroupId `json:"comm_grp"`
	Epoch       uint64           `json:"epoch"`
	EpochSecret []byte           `json:"epoch_secret"`
	Members     []memberEntry    `json:"members"`
	LeafIndex   int              `json:"leaf_index"`
}

// MessageKind distinguishes a handshake (commit) ciphertext from an
// application ciphertext once opened.
type MessageKind int

const (
	KindApplication MessageKind = iota
	KindCommit
)

// Opened is the result of processing an inbound GroupMessage: either an
// application payload or a staged commit awaiting Merge.
type Opened struct {
	Kind    MessageKind
	AppData []byte

	// OrderedPayload is the commit's single ordered application-message
	// payload, if any (nil for a pure membership commit).
	OrderedPayload []byte
	// AddedMembers / RemovedMembers list identities the staged commit
	// newly activates / deactivates relative to the handle's current
	// state.
	AddedMembers   []string
	RemovedMembers []string

	staged *groupState
}

// Handle is a client's view of one MLS group: epoch secret, roster, and own
// position, able to emit and absorb ordered (commit) and unordered
// (application) traffic.
type Handle struct {
	state          groupState
	sigKey         ed25519.PrivateKey
	pendingStaged  *groupState
	pendingPayload []byte
}

// Create starts a new group with the caller as its sole member.
func Create(commGrp wire.CommGroupId, identity string, keys MemberKeys) (*Handle, error) {
	epochSecret := make([]byte, 32)
	if _, err := rand.Read(epochSecret); err != nil {
		return nil, fmt.Errorf("mlscrypto: generate epoch secret: %w", err)
	}
	return &Handle{
		state: groupState{
			CommGrp:     commGrp,
			Epoch:       0,
			EpochSecret: epochSecret,
			Members: []memberEntry{{
				Identity: []byte(identity),
				SigPub:   keys.SigPub,
				InitPub:  keys.InitPub,
				Active:   true,
			}},
			OwnLeafIndex: 0,
		},
		sigKey: keys.SigPriv,
	}, nil
}

// NewFromWelcome decrypts and joins a group via a Welcome sealed with
// sealWelcome (ECIES over this member's init key).
func NewFromWelcome(sealed []byte, keys MemberKeys) (*Handle, error) {
	plaintext, err := openWelcome(keys.InitPriv, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: welcome: %v", mlserr.ErrMLSDecrypt, err)
	}
	var w welcomeData
	if err := json.Unmarshal(plaintext, &w); err != nil {
		return nil, fmt.Errorf("%w: welcome payload: %v", mlserr.ErrWireDecode, err)
	}
	return &Handle{
		state: groupState{
			CommGrp:      w.CommGrp,
			Epoch:        w.Epoch,
			EpochSecret:  w.EpochSecret,
			Members:      w.Members,
			OwnLeafIndex: w.LeafIndex,
		},
		sigKey: keys.SigPriv,
	}, nil
}

// Marshal serializes the handle's state for persistence. The signing key is
// not included; callers persist it separately.
func (h *Handle) Marshal() ([]byte, error) {
	return json.Marshal(h.state)
}

// Restore rebuilds a handle from a previously marshaled state and the
// member's signing key.
func Restore(data []byte, sigKey ed25519.PrivateKey) (*Handle, error) {
	var s groupState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: group state: %v", mlserr.ErrWireDecode, err)
	}
	return &Handle{state: s, sigKey: sigKey}, nil
}

// Epoch returns the current epoch number.
func (h *Handle) Epoch() uint64 { return h.state.Epoch }

// CommGrp returns the group's identifier.
func (h *Handle) CommGrp() wire.CommGroupId { return h.state.CommGrp }

// OwnLeafIndex returns this member's position in the roster.
func (h *Handle) OwnLeafIndex() int { return h.state.OwnLeafIndex }

// HasPendingStaged reports whether this handle has a commit staged and
// awaiting MergePending or ClearPending.
func (h *Handle) HasPendingStaged() bool { return h.pendingStaged != nil }

// ActiveMembers returns the identities of members currently in the group.
func (h *Handle) ActiveMembers() []string {
	out := make([]string, 0, len(h.state.Members))
	for _, m := range h.state.Members {
		if m.Active {
			out = append(out, string(m.Identity))
		}
	}
	return out
}

func exportSecret(epochSecret, info []byte, length int) []byte {
	r := hkdf.New(sha256.New, epochSecret, nil, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("mlscrypto: hkdf export: %v", err))
	}
	return out
}

// ExportEpochSecret derives the application secret used to seal/open
// ciphertexts at the current epoch.
func (h *Handle) ExportEpochSecret() []byte {
	return exportSecret(h.state.EpochSecret, []byte("mlsgov-epoch-app-secret"), 32)
}

// advanceEpoch ratchets the handle's own epoch secret forward and bumps
// the counter in place. Staging operations (AddMember, RemoveMember,
// SendOrderedApp) do not call it: they ratchet a staged copy with
// advanceEpochOf.
func (h *Handle) advanceEpoch() {
	epochBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(epochBytes, h.state.Epoch)
	r := hkdf.New(sha256.New, h.state.EpochSecret, epochBytes, []byte("mlsgov-epoch-advance"))
	next := make([]byte, 32)
	if _, err := io.ReadFull(r, next); err != nil {
		panic(fmt.Sprintf("mlscrypto: hkdf advance: %v", err))
	}
	h.state.EpochSecret = next
	h.state.Epoch++
}

// commitPayload carries the new authoritative state to existing members so
// they can merge it without recomputing the membership change themselves.
// OrderedPayload is the single ordered application-message payload the
// commit carries, if any; nil marks a pure membership change.
type commitPayload struct {
	State          groupState `json:"state"`
	OrderedPayload []byte     `json:"ordered_payload,omitempty"`
}

// diffMembers compares the active-member sets of two states, returning
// identities newly active and newly inactive in next relative to prev.
func diffMembers(prev, next groupState) (added, removed []string) {
	prevActive := map[string]bool{}
	for _, m := range prev.Members {
		if m.Active {
			prevActive[string(m.Identity)] = true
		}
	}
	nextActive := map[string]bool{}
	for _, m := range next.Members {
		if m.Active {
			nextActive[string(m.Identity)] = true
		}
	}
	for id := range nextActive {
		if !prevActive[id] {
			added = append(added, id)
		}
	}
	for id := range prevActive {
		if !nextActive[id] {
			removed = append(removed, id)
		}
	}
	return
}

// AddMember stages a membership addition: it produces the commit
// ciphertext to broadcast to current members and the Welcome to deliver to
// the joiner. The staged state carries the advanced epoch; the handle's
// own epoch is unchanged until the caller calls MergePending, mirroring
// the staged-commit flow used for every ordered action.
func (h *Handle) AddMember(identity string, kp wire.KeyPackage, recipientInitPub []byte) (commit []byte, sealedWelcome []byte, err error) {
	staged := h.cloneState()
	newLeaf := len(staged.Members)
	staged.Members = append(staged.Members, memberEntry{
		Identity: kp.Identity,
		SigPub:   kp.SigPub,
		InitPub:  kp.InitPub,
		Active:   true,
	})
	advanceEpochOf(&staged)

	welcome := welcomeData{
		CommGrp:     staged.CommGrp,
		Epoch:       staged.Epoch,
		EpochSecret: staged.EpochSecret,
		Members:     staged.Members,
		LeafIndex:   newLeaf,
	}
	plaintext, err := json.Marshal(welcome)
	if err != nil {
		return nil, nil, fmt.Errorf("mlscrypto: marshal welcome: %w", err)
	}
	sealedWelcome, err = sealWelcome(recipientInitPub, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("mlscrypto: seal welcome: %w", err)
	}

	commit, err = json.Marshal(commitPayload{State: staged})
	if err != nil {
		return nil, nil, fmt.Errorf("mlscrypto: marshal commit: %w", err)
	}
	h.pendingStaged = &staged
	return commit, sealedWelcome, nil
}

// RemoveMember stages a membership removal by leaf index.
func (h *Handle) RemoveMember(leafIndex int) (commit []byte, err error) {
	if leafIndex < 0 || leafIndex >= len(h.state.Members) {
		return nil, fmt.Errorf("%w: leaf index %d out of range", mlserr.ErrPrecondition, leafIndex)
	}
	if leafIndex == h.state.OwnLeafIndex {
		return nil, fmt.Errorf("%w: cannot remove self via RemoveMember", mlserr.ErrPrecondition)
	}
	staged := h.cloneState()
	staged.Members[leafIndex].Active = false
	advanceEpochOf(&staged)

	commit, err = json.Marshal(commitPayload{State: staged})
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: marshal commit: %w", err)
	}
	h.pendingStaged = &staged
	return commit, nil
}

// SendOrderedApp stages a commit carrying a single ordered
// application-message payload, the carrier for every ordered Action.
// It advances the epoch like any other commit, whether or not
// governance ultimately lets the payload's effect stand.
func (h *Handle) SendOrderedApp(payload []byte) (commit []byte, err error) {
	staged := h.cloneState()
	advanceEpochOf(&staged)
	commit, err = json.Marshal(commitPayload{State: staged, OrderedPayload: payload})
	if err != nil {
		return nil, fmt.Errorf("mlscrypto: marshal ordered commit: %w", err)
	}
	h.pendingStaged = &staged
	h.pendingPayload = payload
	return commit, nil
}

// PendingOrderedPayload returns the ordered application payload of the
// commit this handle currently has staged, or nil if there isn't one or
// it was a pure membership change.
func (h *Handle) PendingOrderedPayload() []byte {
	return h.pendingPayload
}

// ProcessIncoming opens an inbound ciphertext: an application message is
// decrypted and returned as Opened.AppData, a handshake is parsed into a
// staged commit awaiting MergeStaged.
func (h *Handle) ProcessIncoming(msg wire.GroupMessage) (Opened, error) {
	if msg.Handshake {
		var cp commitPayload
		if err := json.Unmarshal(msg.Ciphertext, &cp); err != nil {
			return Opened{}, fmt.Errorf("%w: commit: %v", mlserr.ErrWireDecode, err)
		}
		staged := cp.State
		added, removed := diffMembers(h.state, staged)
		return Opened{
			Kind:           KindCommit,
			staged:         &staged,
			OrderedPayload: cp.OrderedPayload,
			AddedMembers:   added,
			RemovedMembers: removed,
		}, nil
	}
	if msg.Epoch != h.state.Epoch {
		return Opened{}, fmt.Errorf("%w: have %d, got %d", mlserr.ErrEpochMismatch, h.state.Epoch, msg.Epoch)
	}
	secret := h.ExportEpochSecret()
	plaintext, err := openEpochApplication(secret, msg.Ciphertext)
	if err != nil {
		return Opened{}, fmt.Errorf("%w: %v", mlserr.ErrMLSDecrypt, err)
	}
	return Opened{Kind: KindApplication, AppData: plaintext}, nil
}

// SealApplication encrypts an application payload under the current epoch
// secret for unordered delivery.
func (h *Handle) SealApplication(plaintext []byte) (wire.GroupMessage, error) {
	secret := h.ExportEpochSecret()
	sealed, err := sealEpochApplication(secret, plaintext)
	if err != nil {
		return wire.GroupMessage{}, fmt.Errorf("mlscrypto: seal application: %w", err)
	}
	return wire.GroupMessage{
		CommGrp:    h.state.CommGrp,
		Ciphertext: sealed,
		Handshake:  false,
		Epoch:      h.state.Epoch,
	}, nil
}

// MergeStaged adopts a staged commit (from an operation the caller itself
// initiated, or one opened via ProcessIncoming) as the handle's new state.
// Membership-only commits always merge, per the coordination engine's
// policy: MLS-level membership changes are never blocked by governance,
// only the side effects layered on top of them are.
func (h *Handle) MergeStaged(o Opened) error {
	if o.Kind != KindCommit || o.staged == nil {
		return fmt.Errorf("%w: not a staged commit", mlserr.ErrPrecondition)
	}
	ownLeaf := h.state.OwnLeafIndex
	if ownLeaf < len(o.staged.Members) {
		o.staged.OwnLeafIndex = ownLeaf
	}
	h.state = *o.staged
	h.pendingStaged = nil
	h.pendingPayload = nil
	return nil
}

// MergePending adopts the commit this handle itself staged (via AddMember,
// RemoveMember or SendOrderedApp) once the relay has accepted it; the
// merge happens whatever governance decides about the payload's effect.
func (h *Handle) MergePending() error {
	if h.pendingStaged == nil {
		return fmt.Errorf("%w: no pending staged commit", mlserr.ErrPrecondition)
	}
	h.state = *h.pendingStaged
	h.pendingStaged = nil
	h.pendingPayload = nil
	return nil
}

// ClearPending discards a staged commit without applying it (the relay
// rejected it, or it turned out to be a stale self-commit).
func (h *Handle) ClearPending() {
	h.pendingStaged = nil
	h.pendingPayload = nil
}

func (h *Handle) cloneState() groupState {
	members := make([]memberEntry, len(h.state.Members))
	copy(members, h.state.Members)
	secret := make([]byte, len(h.state.EpochSecret))
	copy(secret, h.state.EpochSecret)
	return groupState{
		CommGrp:      h.state.CommGrp,
		Epoch:        h.state.Epoch,
		EpochSecret:  secret,
		Members:      members,
		OwnLeafIndex: h.state.OwnLeafIndex,
	}
}

func advanceEpochOf(s *groupState) {
	epochBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(epochBytes, s.Epoch)
	r := hkdf.New(sha256.New, s.EpochSecret, epochBytes, []byte("mlsgov-epoch-advance"))
	next := make([]byte, 32)
	if _, err := io.ReadFull(r, next); err != nil {
		panic(fmt.Sprintf("mlscrypto: hkdf advance: %v", err))
	}
	s.EpochSecret = next
	s.Epoch++
}
