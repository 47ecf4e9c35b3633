package protocol

import (
	"strconv"
	"strings"
)

// Replies are recognised by concatenating the decimal values of selected
// bytes and comparing the result with a fixed string, e.g. "OK" is bytes
// 79 and 75, so "7975". The expected reply length is part of each match:
// a reply that arrives split across two reads, or merged with the next one,
// does not match and is retried by the caller.
const (
	okCodes   = "7975" // "OK"
	crlfCodes = "1310" // "\r\n"
	lowCode   = "48"   // '0'
	highCode  = "49"   // '1'
)

// Reply lengths the board produces for each query.
const (
	ConnectionReplyLen = 15 // "0394,0300\r\nOK\r\n"
	PairReplyLen       = 8  // "OK\r\nOK\r\n"
	SingleReplyLen     = 4  // "OK\r\n"
	PinReplyLen        = 6  // "PI,0\r\n"
)

// DecimalCodes concatenates the decimal byte values of resp at idx.
// Out of range indexes contribute nothing.
func DecimalCodes(resp []byte, idx ...int) string {
	var sb strings.Builder
	for _, i := range idx {
		if i >= 0 && i < len(resp) {
			sb.WriteString(strconv.Itoa(int(resp[i])))
		}
	}
	return sb.String()
}

// IsConnectionAck matches the reply to qc.
func IsConnectionAck(resp []byte) bool {
	return len(resp) == ConnectionReplyLen && DecimalCodes(resp, 11, 12) == okCodes
}

// IsPairAck matches two consecutive OK replies, as sent for a pair of PD or
// SC commands.
func IsPairAck(resp []byte) bool {
	return len(resp) == PairReplyLen &&
		DecimalCodes(resp, 0, 1) == okCodes &&
		DecimalCodes(resp, 4, 5) == okCodes
}

// IsSingleAck matches one OK reply.
func IsSingleAck(resp []byte) bool {
	return len(resp) == SingleReplyLen && DecimalCodes(resp, 0, 1) == okCodes
}

// IsMotorAck matches the reply to an SM command by its trailing CR LF.
func IsMotorAck(resp []byte) bool {
	return len(resp) == SingleReplyLen && DecimalCodes(resp, 2, 3) == crlfCodes
}

// PinLevel is the decoded reply to PI.
type PinLevel int

const (
	PinUnknown PinLevel = iota
	PinLow
	PinHigh
)

func (l PinLevel) String() string {
	switch l {
	case PinLow:
		return "low"
	case PinHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePinReply decodes the level digit at byte 3 of a PI reply.
func ParsePinReply(resp []byte) PinLevel {
	if len(resp) != PinReplyLen {
		return PinUnknown
	}
	switch DecimalCodes(resp, 3) {
	case lowCode:
		return PinLow
	case highCode:
		return PinHigh
	default:
		return PinUnknown
	}
}
