package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/AngelCh415/deepdive/internal/utils"
)

// GetJSONWithRetry fetches url into dst, retrying transport failures and
// temporary upstream statuses with exponential backoff.
func GetJSONWithRetry(ctx context.Context, c HTTPClient, url string, dst any) error {
	return utils.NewBackoff(100*time.Millisecond, 2).Do(ctx, func(int) error {
		err := getJSON(ctx, c, url, dst)
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return utils.Permanent(err)
		}
		return err
	})
}
