package circuitbreak

import "git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"

var CircuitBreakChan chan string

const (
	DBService            = "database"
	MinioService         = "minio"
	KafkaProducerService = "kafka_producer"
	RecordingService     = "recording"
)

func Init() {
	CircuitBreakChan = make(chan string)
}

func TriggerError(service string) {
	if CircuitBreakChan == nil {
		logging.Logger.Fatal("kuiil app is not created")
	}

	CircuitBreakChan <- service
}
