// Package push hands new-message notifications to the delivery pipeline.
// Delivery itself happens elsewhere; these relays only submit requests.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/metrics"
)

const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

// ExpoRelay posts notifications to an Expo-compatible push endpoint.
type ExpoRelay struct {
	url     string
	client  *fasthttp.Client
	timeout time.Duration
}

func NewExpoRelay(url string) *ExpoRelay {
	if url == "" {
		url = DefaultExpoURL
	}
	return &ExpoRelay{
		url: url,
		client: &fasthttp.Client{
			Name:         "chatsync-push",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		timeout: 5 * time.Second,
	}
}

type expoMessage struct {
	To    string            `json:"to"`
	Sound string            `json:"sound"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// Notify skips recipients that never registered a token.
func (e *ExpoRelay) Notify(ctx context.Context, n domain.Notification) error {
	if n.Token == "" {
		return nil
	}

	body, err := json.Marshal(expoMessage{
		To:    n.Token,
		Sound: "default",
		Title: n.Title,
		Body:  n.Body,
		Data:  n.Data.Map(),
	})
	if err != nil {
		return fmt.Errorf("encoding push: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(e.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBody(body)

	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	if err := e.client.DoTimeout(req, resp, timeout); err != nil {
		metrics.PushFailures.WithLabelValues("expo").Inc()
		return fmt.Errorf("posting push: %w", err)
	}
	if code := resp.StatusCode(); code >= fasthttp.StatusMultipleChoices {
		metrics.PushFailures.WithLabelValues("expo").Inc()
		return fmt.Errorf("push relay responded %d", code)
	}
	return nil
}
