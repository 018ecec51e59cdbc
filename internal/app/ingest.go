package app

import (
	"context"

	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// ingester turns channel posts into stored posts.
type ingester struct {
	cls *relay.Classifier
	bus eventbus.Bus
	log logx.Logger
}

func (in *ingester) handle(ctx context.Context, msg kit.Message) {
	ev := relay.Event{ChatID: msg.ChatID, MessageID: msg.ID, Text: msg.Text, Caption: msg.Caption}
	outcome, post, err := in.cls.Classify(ctx, ev)
	if err != nil {
		in.log.Error("classify channel post failed",
			logx.Int64("chat_id", msg.ChatID), logx.Int("message_id", msg.ID), logx.Err(err))
		return
	}
	switch outcome {
	case relay.OutcomeCreated:
		in.log.Info("post stored", logx.String("post", post.ID), logx.Int64("chat_id", post.SourceRef))
		if in.bus != nil {
			in.bus.Publish(eventbus.Event{Type: eventbus.PostCreated, Data: post})
		}
	case relay.OutcomeDuplicate:
		in.log.Debug("duplicate post ignored", logx.String("post", post.ID))
	default:
		in.log.Debug("channel post from unregistered chat", logx.Int64("chat_id", msg.ChatID))
	}
}
