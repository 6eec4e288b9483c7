package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return pub, priv
}

func TestProbeResponseValid(t *testing.T) {
	ok := ProbeResponse{PeerID: "pk:ed25519:x", ProtocolVersion: ProtocolVersion, Service: DefaultService}
	if !ok.Valid(DefaultService) {
		t.Fatalf("well-formed response rejected")
	}
	cases := []ProbeResponse{
		{PeerID: "", ProtocolVersion: ProtocolVersion, Service: DefaultService},
		{PeerID: "x", ProtocolVersion: ProtocolVersion + 1, Service: DefaultService},
		{PeerID: "x", ProtocolVersion: ProtocolVersion, Service: "other"},
	}
	for i, c := range cases {
		if c.Valid(DefaultService) {
			t.Fatalf("case %d: malformed response accepted: %+v", i, c)
		}
	}
}

func TestChallengeRoundTrip(t *testing.T) {
	pub, priv := genKey(t)

	req, err := NewChallenge(DefaultService)
	if err != nil {
		t.Fatalf("new challenge: %v", err)
	}
	if len(req.Nonce) != 16 {
		t.Fatalf("nonce length %d, want 16", len(req.Nonce))
	}

	resp := Answer(req, priv)
	got, err := VerifyAnswer(req, resp, 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.Equal(pub) {
		t.Fatalf("verified key is not the signer's key")
	}
}

func TestChallengeNoncesAreFresh(t *testing.T) {
	a, _ := NewChallenge(DefaultService)
	b, _ := NewChallenge(DefaultService)
	if string(a.Nonce) == string(b.Nonce) {
		t.Fatalf("two challenges produced the same nonce")
	}
}

func TestVerifyAnswerRejectsWrongNonce(t *testing.T) {
	_, priv := genKey(t)
	req, _ := NewChallenge(DefaultService)
	resp := Answer(req, priv)

	other, _ := NewChallenge(DefaultService)
	if _, err := VerifyAnswer(other, resp, 0); err == nil {
		t.Fatalf("answer replayed against a different nonce was accepted")
	}
}

func TestVerifyAnswerRejectsTamperedSignature(t *testing.T) {
	_, priv := genKey(t)
	req, _ := NewChallenge(DefaultService)
	resp := Answer(req, priv)
	resp.Sig[0] ^= 0xff
	if _, err := VerifyAnswer(req, resp, 0); err == nil {
		t.Fatalf("tampered signature accepted")
	}
}

func TestVerifyAnswerRejectsSubstitutedKey(t *testing.T) {
	_, priv := genKey(t)
	otherPub, _ := genKey(t)
	req, _ := NewChallenge(DefaultService)
	resp := Answer(req, priv)
	resp.PubKey = append([]byte(nil), otherPub...)
	if _, err := VerifyAnswer(req, resp, 0); err == nil {
		t.Fatalf("substituted public key accepted")
	}
}

func TestVerifyAnswerRejectsStaleTimestamp(t *testing.T) {
	_, priv := genKey(t)
	req, _ := NewChallenge(DefaultService)
	resp := Answer(req, priv)
	// A skewed-but-consistently-signed answer fails the freshness window
	// before the signature is even checked.
	resp.Timestamp -= (10 * time.Minute).Milliseconds()
	if _, err := VerifyAnswer(req, resp, 5*time.Minute); err == nil {
		t.Fatalf("stale answer accepted")
	}
}

func TestVerifyAnswerRejectsMalformedLengths(t *testing.T) {
	_, priv := genKey(t)
	req, _ := NewChallenge(DefaultService)
	resp := Answer(req, priv)

	short := resp
	short.PubKey = resp.PubKey[:10]
	if _, err := VerifyAnswer(req, short, 0); err == nil {
		t.Fatalf("short public key accepted")
	}
	badSig := resp
	badSig.Sig = resp.Sig[:10]
	if _, err := VerifyAnswer(req, badSig, 0); err == nil {
		t.Fatalf("short signature accepted")
	}
}
