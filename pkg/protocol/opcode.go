package protocol

import (
	"strconv"
	"strings"
)

// Opcode is the 2-byte big-endian tag that starts every frame.
type Opcode uint16

// Client → Server opcodes
const (
	OpRegister Opcode = 1
	OpLogin    Opcode = 2
	OpLogout   Opcode = 3
	OpFollow   Opcode = 4
	OpPost     Opcode = 5
	OpPM       Opcode = 6
	OpUserList Opcode = 7
	OpStat     Opcode = 8
	OpBlock    Opcode = 12
)

// Server → Client opcodes
const (
	OpNotification Opcode = 9
	OpAck          Opcode = 10
	OpError        Opcode = 11
)

// clientVerbs maps the console verb to its opcode. Only the 9 client
// opcodes are reachable from user input.
var clientVerbs = map[string]Opcode{
	"REGISTER": OpRegister,
	"LOGIN":    OpLogin,
	"LOGOUT":   OpLogout,
	"FOLLOW":   OpFollow,
	"POST":     OpPost,
	"PM":       OpPM,
	"USERLIST": OpUserList,
	"STAT":     OpStat,
	"BLOCK":    OpBlock,
}

// LookupVerb resolves a console verb (case-insensitive, exact) to a client opcode.
func LookupVerb(verb string) (Opcode, bool) {
	op, ok := clientVerbs[strings.ToUpper(verb)]
	return op, ok
}

// ClientOpcodes returns the client opcodes in numeric order.
func ClientOpcodes() []Opcode {
	return []Opcode{OpRegister, OpLogin, OpLogout, OpFollow, OpPost, OpPM, OpUserList, OpStat, OpBlock}
}

// IsClient reports whether o may start a client-originated frame.
func (o Opcode) IsClient() bool {
	switch o {
	case OpRegister, OpLogin, OpLogout, OpFollow, OpPost, OpPM, OpUserList, OpStat, OpBlock:
		return true
	case OpNotification, OpAck, OpError:
		return false
	default:
		return false
	}
}

// IsServer reports whether o may start a server-originated frame.
func (o Opcode) IsServer() bool {
	switch o {
	case OpNotification, OpAck, OpError:
		return true
	default:
		return false
	}
}

func (o Opcode) String() string {
	switch o {
	case OpRegister:
		return "REGISTER"
	case OpLogin:
		return "LOGIN"
	case OpLogout:
		return "LOGOUT"
	case OpFollow:
		return "FOLLOW"
	case OpPost:
		return "POST"
	case OpPM:
		return "PM"
	case OpUserList:
		return "USERLIST"
	case OpStat:
		return "STAT"
	case OpNotification:
		return "NOTIFICATION"
	case OpAck:
		return "ACK"
	case OpError:
		return "ERROR"
	case OpBlock:
		return "BLOCK"
	default:
		return "OPCODE(" + strconv.Itoa(int(o)) + ")"
	}
}
