package retrieval

import (
	"net/http"
)

// StatusFailure maps an HTTP status to a Failure. It returns nil for 1xx-3xx.
func StatusFailure(channel ChannelID, status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return Failf(KindNotFound, channel, "http status %d", status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Failf(KindBlocked, channel, "http status %d", status)
	case status == http.StatusPaymentRequired:
		return Failf(KindPaywalled, channel, "http status %d", status)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return Failf(KindTransient, channel, "http status %d", status)
	default:
		return Failf(KindBlocked, channel, "http status %d", status)
	}
}
