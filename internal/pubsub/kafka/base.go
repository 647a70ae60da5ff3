package kafka

import (
	"time"

	"github.com/Shopify/sarama"
	"github.com/agentmesh/billing/internal/config"
)

const clientID = "flexbill-billing"

// GetSaramaConfig returns the sarama settings shared by publisher and subscriber
func GetSaramaConfig(cfg *config.Configuration) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_1_0_0
	saramaConfig.ClientID = clientID

	// background billing steps must survive a consumer restart, start from the oldest offset
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Offsets.AutoCommit.Interval = 5 * time.Second
	saramaConfig.Consumer.Offsets.Retry.Max = 3

	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5

	return saramaConfig
}
