package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/jyothri/detach/detach"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

// Google API calls share one budget per provider.
func newThrottler() *rate.Limiter {
	return rate.NewLimiter(50, 5)
}

func wait(ctx context.Context, throttler *rate.Limiter) error {
	if err := throttler.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}

// classify tags provider errors with the detach sentinels so callers can
// test them with errors.Is. Other errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) {
		switch googleErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", detach.ErrNotFound, err)
		case http.StatusForbidden, http.StatusTooManyRequests, http.StatusInsufficientStorage:
			slog.Warn("Google API rejected request", "code", googleErr.Code, "error", googleErr.Message)
			return fmt.Errorf("%w: %w", detach.ErrQuotaOrPermission, err)
		}
		return err
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return fmt.Errorf("%w: %w", detach.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "SlowDown":
			return fmt.Errorf("%w: %w", detach.ErrQuotaOrPermission, err)
		}
		return err
	}

	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %w", detach.ErrNotFound, err)
	}
	return err
}
