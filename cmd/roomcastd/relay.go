package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wavely/roomcast"
	"github.com/wavely/roomcast/internal/auth"
	"github.com/wavely/roomcast/internal/permission"
	"github.com/wavely/roomcast/ws"
)

// relayConsumer is the daemon's built-in business logic. Every inbound
// frame is decoded once: client replies are resolved into the correlation
// engine, everything else is relayed to the sender's room peers. The
// business segment of the entry path doubles as the permission page when
// a permission file is configured.
type relayConsumer struct {
	secret string
	perms  *permission.Group
	codec  roomcast.Codec
	log    *zap.Logger

	srv roomcast.Server
}

func newRelayConsumer(secret string, perms *permission.Group, log *zap.Logger) *relayConsumer {
	return &relayConsumer{secret: secret, perms: perms, codec: ws.DefaultCodec(), log: log}
}

// bind attaches the server handle. Must be called before Start; the
// consumer needs the server's commander and broadcast entry points.
func (c *relayConsumer) bind(srv roomcast.Server) {
	c.srv = srv
}

func (c *relayConsumer) Connect(_ context.Context, conn roomcast.ConnInfo, _ roomcast.Outbound) error {
	if c.perms != nil {
		token, err := auth.Decode(conn.Token, c.secret)
		if err != nil {
			return fmt.Errorf("permission check: %w", err)
		}
		if !c.perms.CheckUserAction(token.UserAccount, conn.Business, "join") {
			return fmt.Errorf("account %q may not join %q", token.UserAccount, conn.Business)
		}
	}
	c.log.Info("session joined",
		zap.String("session", conn.SessionID()),
		zap.String("room", conn.RoomID()))
	return nil
}

func (c *relayConsumer) Disconnect(_ context.Context, conn roomcast.ConnInfo) error {
	c.log.Info("session left", zap.String("session", conn.SessionID()))
	return nil
}

func (c *relayConsumer) Message(ctx context.Context, conn roomcast.ConnInfo, _ roomcast.Outbound, data []byte) error {
	kind, correlationID, payload, err := c.codec.Decode(data)
	if err != nil {
		return fmt.Errorf("decode from %s: %w", conn.SessionID(), err)
	}

	if kind == roomcast.KindClientCommand {
		c.srv.Commander().Resolve(correlationID, payload)
		return nil
	}

	sent, failed := c.srv.BroadcastRoom(ctx, conn.RoomID(), data)
	c.log.Debug("frame relayed",
		zap.String("room", conn.RoomID()),
		zap.Int("sent", sent),
		zap.Int("failed", failed))
	return nil
}
