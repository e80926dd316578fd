package packet

import (
	"encoding/hex"
	"strings"
	"time"
)

// PayloadType identifies the decoded payload class of a packet.
type PayloadType string

const (
	PayloadAdvert      PayloadType = "advert"
	PayloadGroupText   PayloadType = "grp_txt"
	PayloadGroupData   PayloadType = "grp_data"
	PayloadTextMessage PayloadType = "txt_msg"
	PayloadRequest     PayloadType = "req"
	PayloadResponse    PayloadType = "response"
	PayloadPath        PayloadType = "path"
	PayloadAck         PayloadType = "ack"
	PayloadTrace       PayloadType = "trace"
	PayloadRaw         PayloadType = "raw_custom"
)

// IsPointToPoint reports whether the payload carries 1-byte source and
// destination hashes.
func (p PayloadType) IsPointToPoint() bool {
	switch p {
	case PayloadTextMessage, PayloadRequest, PayloadResponse, PayloadPath:
		return true
	}
	return false
}

// IsGroup reports whether the payload is a channel broadcast.
func (p PayloadType) IsGroup() bool {
	return p == PayloadGroupText || p == PayloadGroupData
}

// RouteType is the routing mode recorded in the packet header.
type RouteType string

const (
	RouteFlood           RouteType = "flood"
	RouteDirect          RouteType = "direct"
	RouteTransportFlood  RouteType = "transport_flood"
	RouteTransportDirect RouteType = "transport_direct"
)

// Role is the advertised role of a sender.
type Role string

const (
	RoleUnknown  Role = ""
	RoleClient   Role = "client"
	RoleRepeater Role = "repeater"
	RoleRoom     Role = "room"
	RoleSensor   Role = "sensor"
)

// AddressInfo carries whatever addressing the decoder could recover for one
// endpoint. Any subset of the fields may be empty.
type AddressInfo struct {
	PublicKey string `json:"public_key,omitempty"` // full key, hex
	Prefix    string `json:"prefix,omitempty"`     // 1-byte hash, hex
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role,omitempty"`
}

// Packet is one decoded reception handed over by the upstream decoder.
type Packet struct {
	ID          string      `json:"id"`
	PayloadType PayloadType `json:"payload_type"`
	RouteType   RouteType   `json:"route_type"`
	Path        []string    `json:"path"`
	Source      AddressInfo `json:"source"`
	Destination AddressInfo `json:"destination"`
	Channel     string      `json:"channel,omitempty"`
	Payload     []byte      `json:"payload"`
	SNR         *float64    `json:"snr,omitempty"`
	ReceivedAt  time.Time   `json:"received_at"`
}

// NormalizeHex lower-cases a hex fragment and strips separators. It returns
// an empty string when the input is not valid hex.
func NormalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ":", "")
	s = strings.TrimPrefix(s, "0x")
	if s == "" || len(s)%2 != 0 {
		return ""
	}
	if _, err := hex.DecodeString(s); err != nil {
		return ""
	}
	return s
}
