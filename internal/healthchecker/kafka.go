package healthchecker

import (
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var healthcheckerMsg = "healthchecker msg"

func CheckKafkaProducer() error {
	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("failed to create new kafka producer client", zap.String("error", err.Error()))
		return err
	}

	_, _, err = kafkaProducer.SendMessage(
		config.Conf.KafkaTaskTopic,
		[]byte(uuid.New().String()),
		[]byte(healthcheckerMsg),
	)

	return err
}
