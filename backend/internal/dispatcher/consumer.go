package dispatcher

import (
	"context"
	"encoding/json"
	"log"

	"github.com/IBM/sarama"
)

// RunConsumer 消费其它实例发出的事件，逐条交给 deliver。
// 自己发的事件（Origin 相同）跳过。阻塞到 ctx 取消。
func RunConsumer(ctx context.Context, brokers []string, group, topic, selfOrigin string, deliver func(Event)) error {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cg, err := sarama.NewConsumerGroup(brokers, group, cfg)
	if err != nil {
		return err
	}
	defer cg.Close()

	h := &eventHandler{self: selfOrigin, deliver: deliver}
	for {
		// Consume 在 rebalance 后返回，循环重进
		if err := cg.Consume(ctx, []string{topic}, h); err != nil {
			log.Printf("kafka consume error: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type eventHandler struct {
	self    string
	deliver func(Event)
}

func (h *eventHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *eventHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *eventHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var evt Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			log.Printf("dropping malformed event: %v", err)
			sess.MarkMessage(msg, "")
			continue
		}
		if evt.Origin != h.self {
			h.deliver(evt)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
