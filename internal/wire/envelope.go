package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ame2e/mlsgov/internal/mlserr"
)

// ProtocolVersion is the wire format version advertised in every frame.
const ProtocolVersion = "0.3.0"

// MessageType discriminates the OnWireMessage union.
type MessageType string

const (
	TypeUserRegisterForAS    MessageType = "UserRegisterForAS"
	TypeUserCredentialLookup MessageType = "UserCredentialLookup"
	TypeUserSyncCredentials  MessageType = "UserSyncCredentials"
	TypeASResult             MessageType = "ASResult"
	TypeASCredentialResponse MessageType = "ASCredentialResponse"
	TypeASCredentialSyncResp MessageType = "ASCredentialSyncResponse"
	TypeUserKeyPackagesForDS MessageType = "UserKeyPackagesForDS"
	TypeUserSync             MessageType = "UserSync"
	TypeUserInvite           MessageType = "UserInvite"
	TypeUserStandardSend     MessageType = "UserStandardSend"
	TypeUserReliableSend     MessageType = "UserReliableSend"
	TypeUserKeyPackageLookup MessageType = "UserKeyPackageLookup"
	TypeDSRelayedUserWelcome MessageType = "DSRelayedUserWelcome"
	TypeDSRelayedUserMsg     MessageType = "DSRelayedUserMsg"
	TypeDSResult             MessageType = "DSResult"
	TypeDSKeyPackageResponse MessageType = "DSKeyPackageResponse"
)

// OnWireMessageWithMetaData wraps every frame with its send timestamp and
// protocol version.
type OnWireMessageWithMetaData struct {
	Type            MessageType     `json:"msg_type"`
	Msg             json.RawMessage `json:"msg"`
	SenderTimestamp time.Time       `json:"sender_timestamp"`
	Version         string          `json:"version"`
}

// Wrap builds a metadata envelope for a concrete payload.
func Wrap(t MessageType, payload any) (OnWireMessageWithMetaData, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OnWireMessageWithMetaData{}, fmt.Errorf("wire: marshal %s: %w", t, err)
	}
	return OnWireMessageWithMetaData{
		Type:            t,
		Msg:             raw,
		SenderTimestamp: time.Now(),
		Version:         ProtocolVersion,
	}, nil
}

// Unwrap decodes the payload of an envelope into dst.
func Unwrap(env OnWireMessageWithMetaData, dst any) error {
	if err := json.Unmarshal(env.Msg, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", mlserr.ErrWireDecode, env.Type, err)
	}
	return nil
}

// WriteFrame writes a length-prefixed JSON frame: a 4-byte big-endian
// length prefix followed by the JSON-encoded envelope.
func WriteFrame(w io.Writer, env OnWireMessageWithMetaData) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wire: marshal envelope: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and decodes its envelope.
func ReadFrame(r io.Reader) (OnWireMessageWithMetaData, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return OnWireMessageWithMetaData{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return OnWireMessageWithMetaData{}, fmt.Errorf("wire: read body: %w", err)
	}
	var env OnWireMessageWithMetaData
	if err := json.Unmarshal(body, &env); err != nil {
		return OnWireMessageWithMetaData{}, fmt.Errorf("%w: envelope: %v", mlserr.ErrWireDecode, err)
	}
	return env, nil
}

// EncodeFrame is the same codec as WriteFrame/ReadFrame but operating on a
// single in-memory buffer, for transports (e.g. a websocket message) that
// hand over whole frames rather than a byte stream.
func EncodeFrame(env OnWireMessageWithMetaData) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(data []byte) (OnWireMessageWithMetaData, error) {
	if len(data) < 4 {
		return OnWireMessageWithMetaData{}, fmt.Errorf("%w: frame too short", mlserr.ErrWireDecode)
	}
	n := binary.BigEndian.Uint32(data[:4])
	if uint32(len(data)-4) != n {
		return OnWireMessageWithMetaData{}, fmt.Errorf("%w: length mismatch", mlserr.ErrWireDecode)
	}
	var env OnWireMessageWithMetaData
	if err := json.Unmarshal(data[4:], &env); err != nil {
		return OnWireMessageWithMetaData{}, fmt.Errorf("%w: envelope: %v", mlserr.ErrWireDecode, err)
	}
	return env, nil
}
