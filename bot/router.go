// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/waasabi/waasabi-matrix/lib/ref"
	"github.com/waasabi/waasabi-matrix/messaging"
)

// CommandRouter turns admin chat messages into side effects.
//
// Handle runs on the sync loop. Roster changes happen there, before
// Handle returns, so the next message in the batch already sees them.
// Every homeserver call is submitted as a single task per command, which
// keeps a command's own effects in order (the !create confirmation goes
// out before the room is created).
type CommandRouter struct {
	session messaging.Session
	roster  *AdminRoster
	submit  Submitter
	logger  *slog.Logger
}

// NewCommandRouter returns a router acting as session.
func NewCommandRouter(session messaging.Session, roster *AdminRoster, submit Submitter, logger *slog.Logger) *CommandRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRouter{
		session: session,
		roster:  roster,
		submit:  submit,
		logger:  logger,
	}
}

// Handle processes a text message. Messages from non-admins and text
// that is not a command are ignored.
func (r *CommandRouter) Handle(roomID ref.RoomID, sender ref.UserID, body string) {
	if !r.roster.Contains(sender.String()) {
		return
	}

	command, err := ParseCommand(body)
	var usage *UsageError
	switch {
	case errors.As(err, &usage):
		r.logger.Info("command usage error", "room_id", roomID, "sender", sender, "command", usage.Command)
		r.reply(roomID, usage.Command, usage.Reply)
		return
	case err != nil:
		return
	}

	r.logger.Info("running command", "room_id", roomID, "sender", sender, "command", command.command())

	switch command := command.(type) {
	case PingCommand:
		r.reply(roomID, command.command(), "PONG!")
	case InviteCommand:
		r.invite(roomID, command)
	case OpAskCommand:
		r.reply(roomID, command.command(), "Current admins: "+r.roster.String())
	case OpCommand:
		r.op(roomID, command)
	case CreateCommand:
		r.create(roomID, command)
	default:
		r.logger.Warn("unhandled command type", "command", fmt.Sprintf("%T", command))
	}
}

func (r *CommandRouter) reply(roomID ref.RoomID, name, text string) {
	r.submit.Submit(name, func(ctx context.Context) error {
		_, err := r.session.SendMessage(ctx, roomID, messaging.NewTextMessage(text))
		return err
	})
}

func (r *CommandRouter) invite(roomID ref.RoomID, command InviteCommand) {
	user := strings.TrimSpace(command.User)
	if user == "" {
		return
	}
	userID, err := ref.ParseUserID(user)
	if err != nil {
		r.logger.Warn("cannot invite malformed user ID", "room_id", roomID, "user", user, "error", err)
		return
	}
	r.submit.Submit(command.command(), func(ctx context.Context) error {
		return r.session.InviteUser(ctx, roomID, userID)
	})
}

func (r *CommandRouter) op(roomID ref.RoomID, command OpCommand) {
	if command.User != "" && r.roster.Add(command.User) {
		r.logger.Info("admin added", "room_id", roomID, "user", command.User)
	}
	grants := r.adminGrants()

	r.submit.Submit(command.command(), func(ctx context.Context) error {
		if command.User != "" {
			if _, err := r.session.SendMessage(ctx, roomID, messaging.NewTextMessage("Added "+command.User)); err != nil {
				return err
			}
		}
		return messaging.GrantPowerLevels(ctx, r.session, roomID, grants)
	})
}

func (r *CommandRouter) create(roomID ref.RoomID, command CreateCommand) {
	localpart := AliasLocalpart(command.Alias)
	server := r.session.UserID().Server()
	reply := fmt.Sprintf("Will create a room named #%s:%s with the name: %s. You will be invited.",
		localpart, server, command.Name)
	spec := RoomSpec{
		Alias:  localpart,
		Name:   command.Name,
		Topic:  command.Topic,
		Invite: r.roster.UserIDs(r.logger),
	}

	r.submit.Submit(command.command(), func(ctx context.Context) error {
		if _, err := r.session.SendMessage(ctx, roomID, messaging.NewTextMessage(reply)); err != nil {
			return err
		}
		_, err := CreateRoom(ctx, r.session, spec)
		return err
	})
}

// adminGrants maps every parseable admin plus the bot to admin power.
func (r *CommandRouter) adminGrants() map[ref.UserID]int {
	grants := map[ref.UserID]int{r.session.UserID(): messaging.AdminPowerLevel}
	for _, userID := range r.roster.UserIDs(r.logger) {
		grants[userID] = messaging.AdminPowerLevel
	}
	return grants
}

// GrantAdmins submits a task granting every admin and the bot full power
// in roomID. Used when an admin joins a room the bot is in.
func (r *CommandRouter) GrantAdmins(roomID ref.RoomID) {
	grants := r.adminGrants()
	r.submit.Submit("grant-admins", func(ctx context.Context) error {
		return messaging.GrantPowerLevels(ctx, r.session, roomID, grants)
	})
}
