package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/logging"
	prometheusKuiil "git.mci.dev/mse/sre/phoenix/golang/kuiil/internal/prometheus"
	"github.com/avast/retry-go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrInvalidFetchResult = errors.New("invalid result type, it should be pointer to FetchResult struct")

type FetchResult struct {
	Body        *bytes.Buffer
	ContentType string
}

type Fetcher struct {
	HTTPClient     *http.Client
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewFetcher() *Fetcher {
	cbSettings := gobreaker.Settings{
		Name:     "recording",
		Interval: time.Duration(config.Conf.FetchIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Conf.FetchConsecutiveFailuresCB
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Warn("Circuit state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.RecordingService)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrTooLarge)
		},
	}

	return &Fetcher{
		HTTPClient:     &http.Client{},
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

// Fetch downloads the recording at recordingURL with bounded retries.
func (fetcher *Fetcher) Fetch(ctx context.Context, recordingURL, callID string) (*FetchResult, error) {
	logging.Logger.Info("Starting recording download",
		zap.String("call_id", callID),
		zap.String("url", recordingURL),
	)

	result, err := fetcher.CircuitBreaker.Execute(func() (any, error) {
		return fetcher.fetchWithRetry(ctx, recordingURL, callID)
	})
	if err != nil {
		return nil, err
	}

	fetchResult, ok := result.(*FetchResult)
	if !ok {
		return nil, ErrInvalidFetchResult
	}

	return fetchResult, nil
}

func (fetcher *Fetcher) fetchWithRetry(ctx context.Context, recordingURL, callID string) (*FetchResult, error) {
	timer := prometheus.NewTimer(prometheusKuiil.RecordingFetchDuration)
	defer timer.ObserveDuration()

	var result *FetchResult

	err := retry.Do(
		func() error {
			var err error

			result, err = fetcher.doFetch(ctx, recordingURL)
			if err != nil {
				logging.Logger.Error("Recording download attempt failed",
					zap.String("call_id", callID),
					zap.String("error", err.Error()),
				)
			}

			return err
		},
		retry.RetryIf(Retryable),
		retry.Attempts(config.Conf.FetchRetryMaxAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Duration(config.Conf.FetchRetryBackoffMin)*time.Second),
		retry.MaxDelay(time.Duration(config.Conf.FetchRetryBackoffMax)*time.Second),
	)
	if err != nil {
		logging.Logger.Error("Recording download failed after all retry attempts",
			zap.String("call_id", callID),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	logging.Logger.Info("Recording download completed successfully",
		zap.String("call_id", callID),
		zap.Int("size", result.Body.Len()),
		zap.String("content_type", result.ContentType),
	)

	return result, nil
}

func (fetcher *Fetcher) doFetch(ctx context.Context, recordingURL string) (*FetchResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(config.Conf.FetchTimeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	resp, err := fetcher.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	defer func() {
		cerr := resp.Body.Close()
		if cerr != nil {
			logging.Logger.Error("Failed to close response body", zap.String("error", cerr.Error()))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	maxBytes := config.Conf.FetchMaxBytes
	if resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: content length %d", ErrTooLarge, resp.ContentLength)
	}

	buf := new(bytes.Buffer)

	written, err := io.Copy(buf, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if written > maxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, maxBytes)
	}

	return &FetchResult{
		Body:        buf,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}
