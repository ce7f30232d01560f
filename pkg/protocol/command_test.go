package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommandLogin(t *testing.T) {
	got, err := EncodeCommand("LOGIN alice secret")
	require.NoError(t, err)
	want := []byte{0x00, 0x02, 'a', 'l', 'i', 'c', 'e', 0x00, 's', 'e', 'c', 'r', 'e', 't', 0x00}
	assert.Equal(t, want, got)
}

func TestEncodeCommandFollow(t *testing.T) {
	got, err := EncodeCommand("FOLLOW 0 bob")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x04, 0x00, 0x00, 0x01, 'b', 'o', 'b', 0x00}, got)
}

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []byte
	}{
		{
			name: "register",
			line: "REGISTER bob pw",
			want: []byte{0x00, 0x01, 'b', 'o', 'b', 0x00, 'p', 'w', 0x00},
		},
		{
			name: "lowercase verb",
			line: "login bob pw",
			want: []byte{0x00, 0x02, 'b', 'o', 'b', 0x00, 'p', 'w', 0x00},
		},
		{
			name: "password is one token",
			line: "LOGIN bob pw extra",
			want: []byte{0x00, 0x02, 'b', 'o', 'b', 0x00, 'p', 'w', 0x00},
		},
		{
			name: "logout ignores remainder",
			line: "LOGOUT now please",
			want: []byte{0x00, 0x03},
		},
		{
			name: "unfollow with flag 1",
			line: "FOLLOW 1 bob",
			want: []byte{0x00, 0x04, 0x01, 0x00, 0x01, 'b', 'o', 'b', 0x00},
		},
		{
			name: "any non-zero flag token unfollows",
			line: "FOLLOW x bob",
			want: []byte{0x00, 0x04, 0x01, 0x00, 0x01, 'b', 'o', 'b', 0x00},
		},
		{
			name: "post keeps spaces",
			line: "POST hello  @bob world",
			want: append([]byte{0x00, 0x05}, append([]byte("hello  @bob world"), 0x00)...),
		},
		{
			name: "pm keeps spaces in content",
			line: "PM bob hi there",
			want: append([]byte{0x00, 0x06, 'b', 'o', 'b', 0x00}, append([]byte("hi there"), 0x00)...),
		},
		{
			name: "pm content keeps leading space",
			line: "PM bob  hi",
			want: []byte{0x00, 0x06, 'b', 'o', 'b', 0x00, ' ', 'h', 'i', 0x00},
		},
		{
			name: "tab after verb",
			line: "login\talice secret",
			want: []byte{0x00, 0x02, 'a', 'l', 'i', 'c', 'e', 0x00, 's', 'e', 'c', 'r', 'e', 't', 0x00},
		},
		{
			name: "tabs between arguments",
			line: "FOLLOW\t0\tbob",
			want: []byte{0x00, 0x04, 0x00, 0x00, 0x01, 'b', 'o', 'b', 0x00},
		},
		{
			name: "userlist with trailing tab",
			line: "USERLIST\t",
			want: []byte{0x00, 0x07},
		},
		{
			name: "logout with trailing tab",
			line: "LOGOUT\t",
			want: []byte{0x00, 0x03},
		},
		{
			name: "logout with tab and extra words",
			line: "LOGOUT\textra",
			want: []byte{0x00, 0x03},
		},
		{
			name: "leading tab before verb",
			line: "\tUSERLIST",
			want: []byte{0x00, 0x07},
		},
		{
			name: "pm after tab keeps content verbatim",
			line: "PM\tbob\thi  there",
			want: append([]byte{0x00, 0x06, 'b', 'o', 'b', 0x00}, append([]byte("hi  there"), 0x00)...),
		},
		{
			name: "userlist",
			line: "USERLIST",
			want: []byte{0x00, 0x07},
		},
		{
			name: "stat",
			line: "STAT bob",
			want: []byte{0x00, 0x08, 'b', 'o', 'b', 0x00},
		},
		{
			name: "block",
			line: "BLOCK bob",
			want: []byte{0x00, 0x0C, 'b', 'o', 'b', 0x00},
		},
		{
			name: "trailing newline stripped",
			line: "STAT bob\r\n",
			want: []byte{0x00, 0x08, 'b', 'o', 'b', 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"empty line", "", ErrUnknownCommand},
		{"unknown verb", "HELLO world", ErrUnknownCommand},
		{"server verb", "ACK 3", ErrUnknownCommand},
		{"verb prefix only", "LOG alice", ErrUnknownCommand},
		{"register without password", "REGISTER alice", ErrMalformedArguments},
		{"login without args", "LOGIN", ErrMalformedArguments},
		{"login with empty username", "LOGIN  secret", ErrMalformedArguments},
		{"follow without target", "FOLLOW 0", ErrMalformedArguments},
		{"follow without args", "FOLLOW", ErrMalformedArguments},
		{"post without content", "POST", ErrMalformedArguments},
		{"pm without content separator", "PM bob", ErrMalformedArguments},
		{"pm with empty content", "PM bob ", ErrMalformedArguments},
		{"pm with empty content after tab", "PM bob\t", ErrMalformedArguments},
		{"verb glued to tab-separated junk", "USERLISTX\t", ErrUnknownCommand},
		{"pm without args", "PM", ErrMalformedArguments},
		{"stat without user", "STAT ", ErrMalformedArguments},
		{"block without user", "BLOCK", ErrMalformedArguments},
		{"nul in content", "POST a\x00b", ErrMalformedArguments},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseCommand(tt.line)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseCommandTypes(t *testing.T) {
	msg, err := ParseCommand("FOLLOW 0 bob")
	require.NoError(t, err)
	follow, ok := msg.(*FollowMessage)
	require.True(t, ok)
	assert.False(t, follow.Unfollow)
	assert.Equal(t, []string{"bob"}, follow.Usernames)

	msg, err = ParseCommand("pm carol see you at 5")
	require.NoError(t, err)
	assert.Equal(t, &PMMessage{Username: "carol", Content: "see you at 5"}, msg)
}

func TestUsageCoversEveryVerb(t *testing.T) {
	usage := Usage()
	require.Len(t, usage, len(ClientOpcodes()))
	for i, op := range ClientOpcodes() {
		assert.Contains(t, usage[i], op.String())
	}
}
