package protocol

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseCommand turns one console line into the client frame it describes.
//
// The verb is the first whitespace-delimited word, matched
// case-insensitively. The rest of the line is interpreted per verb:
//
//	REGISTER <username> <password>
//	LOGIN    <username> <password>
//	LOGOUT
//	FOLLOW   <0|1> <username>        (0 follows, anything else unfollows)
//	POST     <content...>
//	PM       <username> <content...>
//	USERLIST
//	STAT     <username>
//	BLOCK    <username>
//
// Only POST and PM content may contain spaces; it is kept verbatim and must
// not be empty. Other arguments are separated by any whitespace.
func ParseCommand(line string) (ClientMessage, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.IndexByte(line, 0) >= 0 {
		return nil, fmt.Errorf("%w: line contains a NUL byte", ErrMalformedArguments)
	}
	line = strings.TrimLeftFunc(line, unicode.IsSpace)

	verb, rest, _ := cutSpace(line)
	op, ok := LookupVerb(verb)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, verb)
	}

	switch op {
	case OpRegister:
		username, password, err := parseCredentials(op, rest)
		if err != nil {
			return nil, err
		}
		return &RegisterMessage{Username: username, Password: password}, nil
	case OpLogin:
		username, password, err := parseCredentials(op, rest)
		if err != nil {
			return nil, err
		}
		return &LoginMessage{Username: username, Password: password}, nil
	case OpLogout:
		return &LogoutMessage{}, nil
	case OpFollow:
		flag, rest, _ := cutSpace(rest)
		target, _, _ := cutSpace(rest)
		if flag == "" || target == "" {
			return nil, malformed(op, "expected FOLLOW <0|1> <username>")
		}
		return &FollowMessage{Unfollow: flag != "0", Usernames: []string{target}}, nil
	case OpPost:
		if rest == "" {
			return nil, malformed(op, "expected POST <content>")
		}
		return &PostMessage{Content: rest}, nil
	case OpPM:
		username, content, _ := cutSpace(rest)
		if username == "" || content == "" {
			return nil, malformed(op, "expected PM <username> <content>")
		}
		return &PMMessage{Username: username, Content: content}, nil
	case OpUserList:
		return &UserListMessage{}, nil
	case OpStat:
		if rest == "" {
			return nil, malformed(op, "expected STAT <username>")
		}
		return &StatMessage{Username: rest}, nil
	case OpBlock:
		if rest == "" {
			return nil, malformed(op, "expected BLOCK <username>")
		}
		return &BlockMessage{Username: rest}, nil
	case OpNotification, OpAck, OpError:
	}
	// LookupVerb only yields client opcodes.
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, verb)
}

// EncodeCommand parses line and returns the exact bytes to put on the wire.
func EncodeCommand(line string) ([]byte, error) {
	msg, err := ParseCommand(line)
	if err != nil {
		return nil, err
	}
	return msg.Encode()
}

func parseCredentials(op Opcode, rest string) (string, string, error) {
	username, rest, _ := cutSpace(rest)
	password, _, _ := cutSpace(rest)
	if username == "" || password == "" {
		return "", "", malformed(op, fmt.Sprintf("expected %s <username> <password>", op))
	}
	return username, password, nil
}

// cutSpace splits s around its first whitespace rune, which is dropped.
func cutSpace(s string) (before, after string, found bool) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, "", false
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return s[:i], s[i+size:], true
}

func malformed(op Opcode, usage string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedArguments, op, usage)
}

// Usage lists the console grammar, one verb per line.
func Usage() []string {
	return []string{
		"REGISTER <username> <password>",
		"LOGIN <username> <password>",
		"LOGOUT",
		"FOLLOW <0|1> <username>",
		"POST <content>",
		"PM <username> <content>",
		"USERLIST",
		"STAT <username>",
		"BLOCK <username>",
	}
}
