package healthchecker

import (
	"bytes"
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/minio"
	"go.uber.org/zap"
)

var probeObjectKey = "healthcheck.txt"

func CheckMinio() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	minioClient, err := minio.NewMinioClient(
		config.Conf.MinioAccessKey,
		config.Conf.MinioSecretKey,
		config.Conf.MinioBucketName,
		config.Conf.MinioPathPrefix,
		circuitbreak.MinioService,
	)
	if err != nil {
		logging.Logger.Error("failed to create new minio client", zap.String("error", err.Error()))
		return err
	}

	_, err = minioClient.Upload(ctx, bytes.NewBufferString("kuiil healthcheck"), probeObjectKey)
	if err != nil {
		return err
	}

	_, err = minioClient.Download(ctx, probeObjectKey)

	return err
}
