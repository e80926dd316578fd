package engine

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/rmax-ai/meshflow/pkg/packet"
)

// Classification labels a logical transmission for rendering.
type Classification string

const (
	ClassAdvert Classification = "advert"
	ClassGroup  Classification = "group"
	ClassDirect Classification = "direct"
	ClassOther  Classification = "other"
)

var classColors = map[Classification]string{
	ClassAdvert: "#f5a623",
	ClassGroup:  "#4a90e2",
	ClassDirect: "#7ed321",
	ClassOther:  "#9b9b9b",
}

// Color returns the display colour of the class.
func (c Classification) Color() string {
	if color, ok := classColors[c]; ok {
		return color
	}
	return classColors[ClassOther]
}

// Classify returns the class of a packet.
func Classify(pkt *packet.Packet) Classification {
	switch {
	case pkt.PayloadType == packet.PayloadAdvert:
		return ClassAdvert
	case pkt.PayloadType.IsGroup():
		return ClassGroup
	case pkt.PayloadType.IsPointToPoint():
		return ClassDirect
	}
	return ClassOther
}

// ShortHash is the first 8 hex chars of the xxhash64 of b.
func ShortHash(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))[:8]
}

// GroupingKey derives the content identity of a packet. Receptions of the
// same logical transmission share a key whatever route they took.
func GroupingKey(pkt *packet.Packet) string {
	switch Classify(pkt) {
	case ClassAdvert:
		if origin := CanonicalID(pkt.Source.PublicKey); origin != "" {
			return "ad:" + origin
		}
		if prefix := packet.NormalizeHex(pkt.Source.Prefix); prefix != "" {
			return "ad:" + prefix
		}
	case ClassGroup:
		return strings.Join([]string{"gt", pkt.Channel, strings.TrimSpace(pkt.Source.Name), ShortHash(pkt.Payload)}, ":")
	case ClassDirect:
		return strings.Join([]string{
			"dm",
			endpointPrefix(pkt.Source),
			endpointPrefix(pkt.Destination),
			ShortHash(pkt.Payload),
		}, ":")
	}
	return "other:" + ShortHash(pkt.Payload)
}
