package wire

import (
	"bytes"
	"testing"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	orig := UserRegisterForAS{
		Credential: Credential{Identity: []byte("alice"), VerifyKey: []byte("vk")},
		VerifyKey:  []byte("vk"),
	}
	env, err := Wrap(TypeUserRegisterForAS, orig)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if env.Version != ProtocolVersion {
		t.Fatalf("version = %q, want %q", env.Version, ProtocolVersion)
	}

	var got UserRegisterForAS
	if err := Unwrap(env, &got); err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if string(got.Credential.Identity) != "alice" {
		t.Fatalf("identity = %q, want alice", got.Credential.Identity)
	}
}

func TestFrameStreamRoundTrip(t *testing.T) {
	env, err := Wrap(TypeUserSyncCredentials, UserSyncCredentials{})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, env); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Type != TypeUserSyncCredentials {
		t.Fatalf("type = %q, want %q", got.Type, TypeUserSyncCredentials)
	}
}

func TestEncodeDecodeFrame(t *testing.T) {
	env, err := Wrap(TypeDSResult, DSResult{Ok: true, ProcessTime: 1.5})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	data, err := EncodeFrame(env)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	var res DSResult
	if err := Unwrap(got, &res); err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !res.Ok || res.ProcessTime != 1.5 {
		t.Fatalf("res = %+v, unexpected", res)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	if _, err := DecodeFrame([]byte{0, 1}); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestCommGroupIdOrdering(t *testing.T) {
	a := CommGroupId{CommunityID: "c1", GroupID: "g1"}
	b := CommGroupId{CommunityID: "c1", GroupID: "g2"}
	if !a.Less(b) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if a.String() != "c1/g1" {
		t.Fatalf("String() = %q", a.String())
	}
}
