package kuiil

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/campaign"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/dispatch"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/healthchecker"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/ingress"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/minio"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/operator"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/recording"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/retention"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Kuiil struct {
	DBConn               *gorm.DB
	MinioClient          *minio.MinioClient
	KafkaProducer        *kafka.Producer
	WorkerPool           *ants.Pool
	Tracker              *call.Tracker
	Dispatcher           *dispatch.Dispatcher
	WebhookServer        *ingress.Server
	RetentionWorker      *retention.RetentionWorker
	HealthCheckerService *healthchecker.Healthchecker
}

func NewApp(ctxCancelFun context.CancelFunc) (*Kuiil, error) {
	logging.Logger.Info("[NewApp] Initializing Kuiil application...")

	healthcheckerService := healthchecker.NewService(ctxCancelFun)

	logging.Logger.Info("[NewApp] Health checker service created")

	dbConn, err := database.NewDatabase()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to initialize database", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Database connection established")

	minioClient, err := minio.NewMinioClient(
		config.Conf.MinioAccessKey,
		config.Conf.MinioSecretKey,
		config.Conf.MinioBucketName,
		config.Conf.MinioPathPrefix,
		circuitbreak.MinioService,
	)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to initialize Minio client", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Minio client created")

	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create Kafka producer", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Kafka producer created")

	// Nonblocking: a saturated pool rejects the dispatch job instead of
	// holding the webhook handler hostage, and the retention worker's
	// redispatch sweep picks the call up later.
	workerPool, err := ants.NewPool(config.Conf.PoolSize, ants.WithPreAlloc(true), ants.WithNonblocking(true))
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create worker pool", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Worker pool created",
		zap.Int("pool_size", config.Conf.PoolSize),
	)

	callRepository := call.NewCallRepository(dbConn)
	tracker := call.NewTracker(callRepository)

	dispatcher := dispatch.NewDispatcher(
		callRepository,
		campaign.NewCampaignRepository(dbConn),
		operator.NewOperatorRepository(dbConn),
		recording.NewFetcher(),
		minioClient,
		dispatch.NewKafkaTaskQueue(kafkaProducer),
	)

	logging.Logger.Info("[NewApp] Dispatcher created")

	webhookHandler := ingress.NewWebhookHandler(tracker, dispatcher, workerPool)
	webhookServer := ingress.NewServer(webhookHandler)

	logging.Logger.Info("[NewApp] Webhook server created",
		zap.String("addr", config.Conf.HTTPListenAddr),
	)

	retentionWorker, err := retention.NewWorker(callRepository, dispatcher)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to create retention worker", zap.Error(err))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Retention worker created")

	circuitbreak.Init()

	logging.Logger.Info("[NewApp] Circuit breakers initialized")

	return &Kuiil{
		DBConn:               dbConn,
		MinioClient:          minioClient,
		KafkaProducer:        kafkaProducer,
		WorkerPool:           workerPool,
		Tracker:              tracker,
		Dispatcher:           dispatcher,
		WebhookServer:        webhookServer,
		RetentionWorker:      retentionWorker,
		HealthCheckerService: healthcheckerService,
	}, nil
}

func (app *Kuiil) Run(ctx context.Context) error {
	logging.Logger.Info("[Run] Starting app goroutines...")

	go app.HealthCheckerService.Monitor()
	go app.RetentionWorker.Run(ctx)

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- app.WebhookServer.Run()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logging.Logger.Error("[Run] Webhook server returned error", zap.Error(err))
			app.shutdown(ctx)

			return err
		}
	case <-ctx.Done():
		logging.Logger.Warn("[Run] Context canceled, beginning shutdown...")
	}

	app.shutdown(ctx)

	return nil
}

func (app *Kuiil) shutdown(ctx context.Context) {
	err := app.WebhookServer.Shutdown(context.WithoutCancel(ctx))
	if err != nil {
		logging.Logger.Error("[Run] Failed to shut down webhook server", zap.String("error", err.Error()))
	} else {
		logging.Logger.Info("[Run] Webhook server drained")
	}

	logging.Logger.Info("[Run] Releasing worker pool...",
		zap.Int("running_workers", app.WorkerPool.Running()),
		zap.Int("free_workers", app.WorkerPool.Free()),
	)
	app.WorkerPool.Release()
	app.RetentionWorker.WorkerPool.Release()
	logging.Logger.Info("[Run] Worker pools released")

	err = app.KafkaProducer.Close()
	if err != nil {
		logging.Logger.Error("[Run] Failed to close producer", zap.String("error", err.Error()))
	} else {
		logging.Logger.Info("[Run] Kafka producer closed successfully")
	}

	logging.Logger.Info("[Run] ===== App shutdown complete =====")
}
