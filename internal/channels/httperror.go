package channels

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Channel    Name
	StatusCode int
	Body       string
	// RetryAfter is the provider supplied delay, zero when absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Channel, e.StatusCode, e.Body)
}

const maxErrorBody = 512

func newHTTPError(channel Name, resp *resty.Response) *HTTPError {
	body := resp.String()
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &HTTPError{
		Channel:    channel,
		StatusCode: resp.StatusCode(),
		Body:       body,
		RetryAfter: retryAfter(resp.Header(), resp.Body()),
	}
}

// retryAfter reads the Retry-After header (seconds or HTTP date) and falls
// back to Telegram's parameters.retry_after.
func retryAfter(h http.Header, body []byte) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}

	var tg struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if json.Unmarshal(body, &tg) == nil && tg.Parameters.RetryAfter > 0 {
		return time.Duration(tg.Parameters.RetryAfter) * time.Second
	}
	return 0
}
