package protocol

// DecodeServerMessage reads one complete server frame.
//
// A read failure aborts the frame and is returned as is; bytes already
// consumed are lost and the stream is not resynchronized. An outer or
// resolved opcode outside the known set, or a string field longer than the
// transport allows, yields a *ProtocolViolationError.
func DecodeServerMessage(r Reader) (ServerMessage, error) {
	op, err := ReadOpcode(r)
	if err != nil {
		return nil, err
	}

	var msg ServerMessage
	switch op {
	case OpAck:
		msg = &AckMessage{}
	case OpError:
		msg = &ErrorMessage{}
	case OpNotification:
		msg = &NotificationMessage{}
	case OpRegister, OpLogin, OpLogout, OpFollow, OpPost, OpPM, OpUserList, OpStat, OpBlock:
		return nil, violation("opcode", uint16(op), "client opcode sent by server")
	default:
		return nil, violation("opcode", uint16(op), "unknown opcode")
	}

	if err := msg.DecodeFrom(r); err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodeClientMessage reads one complete client frame. The peer uses it to
// serve requests; it mirrors DecodeServerMessage for the other direction.
func DecodeClientMessage(r Reader) (ClientMessage, error) {
	op, err := ReadOpcode(r)
	if err != nil {
		return nil, err
	}

	var msg ClientMessage
	switch op {
	case OpRegister:
		msg = &RegisterMessage{}
	case OpLogin:
		msg = &LoginMessage{}
	case OpLogout:
		msg = &LogoutMessage{}
	case OpFollow:
		msg = &FollowMessage{}
	case OpPost:
		msg = &PostMessage{}
	case OpPM:
		msg = &PMMessage{}
	case OpUserList:
		msg = &UserListMessage{}
	case OpStat:
		msg = &StatMessage{}
	case OpBlock:
		msg = &BlockMessage{}
	case OpNotification, OpAck, OpError:
		return nil, violation("opcode", uint16(op), "server opcode sent by client")
	default:
		return nil, violation("opcode", uint16(op), "unknown opcode")
	}

	if err := msg.DecodeFrom(r); err != nil {
		return nil, err
	}
	return msg, nil
}
