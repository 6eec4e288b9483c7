package sign

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// ChallengeTranscript builds the canonical transcript a responder signs to
// prove key possession during secure discovery. Format:
//
//	skillmesh:challenge|v=1|svc=<service>|nonce=<b64url>|ts=<unix_ms>|pub=<b64url>
func ChallengeTranscript(service string, nonce []byte, tsUnixMS int64, pub []byte) []byte {
	b64 := base64.RawURLEncoding
	var sb strings.Builder
	sb.Grow(96 + len(service))
	sb.WriteString("skillmesh:challenge|v=1|svc=")
	sb.WriteString(strings.ToLower(strings.TrimSpace(service)))
	sb.WriteString("|nonce=")
	sb.WriteString(b64.EncodeToString(nonce))
	sb.WriteString("|ts=")
	sb.WriteString(strconv.FormatInt(tsUnixMS, 10))
	sb.WriteString("|pub=")
	sb.WriteString(b64.EncodeToString(pub))
	return []byte(sb.String())
}

// MessageTranscript builds the canonical transcript signed by the secure
// transports for one message envelope. The payload is included verbatim so a
// single flipped byte invalidates the signature. Format:
//
//	skillmesh:msg|v=1|id=<id>|type=<type>|from=<sender>|to=<recipient>|ts=<unix_ms>|payload=<raw>
func MessageTranscript(id, typ, sender, recipient string, tsUnixMS int64, payload []byte) []byte {
	var sb strings.Builder
	sb.Grow(96 + len(id) + len(typ) + len(sender) + len(recipient) + len(payload))
	sb.WriteString("skillmesh:msg|v=1|id=")
	sb.WriteString(id)
	sb.WriteString("|type=")
	sb.WriteString(typ)
	sb.WriteString("|from=")
	sb.WriteString(sender)
	sb.WriteString("|to=")
	sb.WriteString(recipient)
	sb.WriteString("|ts=")
	sb.WriteString(strconv.FormatInt(tsUnixMS, 10))
	sb.WriteString("|payload=")
	sb.Write(payload)
	return []byte(sb.String())
}
