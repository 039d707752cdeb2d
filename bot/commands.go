// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"errors"
	"strings"
)

// Command is a parsed chat command. The concrete types are PingCommand,
// InviteCommand, OpAskCommand, OpCommand and CreateCommand.
type Command interface {
	command() string
}

// PingCommand is "!ping": reply "PONG!".
type PingCommand struct{}

// InviteCommand is "!invite <user>": invite user to the current room.
// An empty user is a no-op.
type InviteCommand struct{ User string }

// OpAskCommand is "?op": list the admins.
type OpAskCommand struct{}

// OpCommand is "!op [user]": optionally add user to the admins, then
// grant every admin and the bot full power in the current room.
type OpCommand struct{ User string }

// CreateCommand is "!create <alias> <name> [topic]": create a private
// room and invite the admins.
type CreateCommand struct {
	Alias string
	Name  string
	Topic string
}

func (PingCommand) command() string   { return "!ping" }
func (InviteCommand) command() string { return "!invite" }
func (OpAskCommand) command() string  { return "?op" }
func (OpCommand) command() string     { return "!op" }
func (CreateCommand) command() string { return "!create" }

// ErrNotCommand is returned for text that is not a recognized command
// or is a command with the wrong number of arguments. The bot stays
// silent on it.
var ErrNotCommand = errors.New("not a command")

// UsageError is returned for a recognized command whose arguments are
// wrong in a way worth telling the sender about. Reply is the chat reply.
type UsageError struct {
	Command string
	Reply   string
}

func (e *UsageError) Error() string {
	return e.Command + ": " + e.Reply
}

// Usage replies.
const (
	opUsage     = "Invalid. Require no or one argument."
	createUsage = "Need arguments: <room alias> <room name>"
)

// ParseCommand parses a chat message body. Returns ErrNotCommand or a
// *UsageError when the body is not an executable command.
func ParseCommand(body string) (Command, error) {
	tokens := Tokenize(body)
	if len(tokens) == 0 {
		return nil, ErrNotCommand
	}
	name, args := tokens[0], tokens[1:]

	switch name {
	case "!ping":
		if len(args) == 0 {
			return PingCommand{}, nil
		}
	case "!invite":
		if len(args) == 1 {
			return InviteCommand{User: args[0]}, nil
		}
	case "?op":
		if len(args) == 0 {
			return OpAskCommand{}, nil
		}
	case "!op":
		switch len(args) {
		case 0:
			return OpCommand{}, nil
		case 1:
			return OpCommand{User: args[0]}, nil
		}
		return nil, &UsageError{Command: name, Reply: opUsage}
	case "!create":
		switch len(args) {
		case 2:
			return CreateCommand{Alias: args[0], Name: args[1]}, nil
		case 3:
			return CreateCommand{Alias: args[0], Name: args[1], Topic: args[2]}, nil
		}
		return nil, &UsageError{Command: name, Reply: createUsage}
	}
	return nil, ErrNotCommand
}

// Tokenize splits a message on whitespace. Double quotes group words
// into one token and are removed; an unterminated quote runs to the end
// of the input. `!create lobby "Main Lobby"` yields three tokens.
func Tokenize(body string) []string {
	var tokens []string
	var current strings.Builder
	inToken, inQuotes := false, false

	for _, r := range body {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			inToken = true
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens
}
