package healthchecker

import (
	"context"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	"go.uber.org/zap"
)

// CheckRecording probes the PBX recording endpoint when one is
// configured. Without a probe URL the circuit only needs time to close.
func CheckRecording() error {
	probeURL := config.Conf.HealthCheckerProbeURL
	if probeURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.Conf.FetchTimeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logging.Logger.Info("recording endpoint probe failed", zap.String("error", err.Error()))
		return err
	}

	return resp.Body.Close()
}
