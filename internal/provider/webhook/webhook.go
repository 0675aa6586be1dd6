// Package webhook provides a http handler that converts webhook requests of
// git hosting services to events.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/deploy"
	"github.com/simplesurance/deployd/internal/logfields"
	"github.com/simplesurance/deployd/internal/provider"
)

const loggerName = "webhook-event-provider"

// DefMaxBodySize is the default max. size of accepted request bodies.
const DefMaxBodySize = 5 * 1024 * 1024

const (
	hdrToken       = "X-Webhook-Token"
	hdrGitLabToken = "X-Gitlab-Token"
	hdrGiteaToken  = "X-Gitea-Token"

	hdrGitHubSignature256 = "X-Hub-Signature-256"
	hdrGitHubSignature    = "X-Hub-Signature"

	hdrGitLabEvent    = "X-Gitlab-Event"
	hdrGitLabDelivery = "X-Gitlab-Event-UUID"
	hdrGiteaEvent     = "X-Gitea-Event"
	hdrGiteaDelivery  = "X-Gitea-Delivery"

	tokenField   = "token"
	payloadField = "payload"
)

// Dispatcher processes received events.
type Dispatcher interface {
	Handle(context.Context, *provider.Event) (deploy.DispatchResult, error)
}

// Provider receives webhook http-requests, converts them to Events and
// passes them to a Dispatcher.
type Provider struct {
	logger      *zap.Logger
	dispatcher  Dispatcher
	maxBodySize int64
}

type Option func(*Provider)

// WithMaxBodySize sets the max. size of accepted request bodies.
func WithMaxBodySize(size int64) Option {
	return func(p *Provider) {
		p.maxBodySize = size
	}
}

func New(dispatcher Dispatcher, opts ...Option) *Provider {
	p := Provider{
		dispatcher:  dispatcher,
		maxBodySize: DefMaxBodySize,
	}

	for _, o := range opts {
		o(&p)
	}

	if p.logger == nil {
		p.logger = zap.L().Named(loggerName)
	}

	return &p
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (p *Provider) respond(resp http.ResponseWriter, statusCode int, r *response) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(statusCode)

	if err := json.NewEncoder(resp).Encode(r); err != nil {
		p.logger.Debug("sending http response failed", zap.Error(err))
	}
}

func isFormEncoded(req *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}

// eventFromRequest creates an Event from the request and it's already read
// body.
func eventFromRequest(req *http.Request, body []byte) (*provider.Event, error) {
	ev := provider.Event{
		RawBody: body,
		Payload: body,
		Token: firstNonEmpty(
			req.Header.Get(hdrToken),
			req.Header.Get(hdrGitLabToken),
			req.Header.Get(hdrGiteaToken),
			req.URL.Query().Get(tokenField),
		),
		Signature: firstNonEmpty(
			req.Header.Get(hdrGitHubSignature256),
			req.Header.Get(hdrGitHubSignature),
		),
	}

	switch {
	case github.WebHookType(req) != "":
		ev.Provider = provider.GitHub
		ev.EventType = github.WebHookType(req)
		ev.DeliveryID = github.DeliveryID(req)

	case req.Header.Get(hdrGitLabEvent) != "":
		ev.Provider = provider.GitLab
		ev.EventType = req.Header.Get(hdrGitLabEvent)
		ev.DeliveryID = req.Header.Get(hdrGitLabDelivery)

	case req.Header.Get(hdrGiteaEvent) != "":
		ev.Provider = provider.Gitea
		ev.EventType = req.Header.Get(hdrGiteaEvent)
		ev.DeliveryID = req.Header.Get(hdrGiteaDelivery)

	default:
		ev.Provider = provider.Generic
	}

	if isFormEncoded(req) {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}

		ev.Payload = []byte(form.Get(payloadField))
		if ev.Token == "" {
			ev.Token = form.Get(tokenField)
		}
	}

	return &ev, nil
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		resp.Header().Set("Allow", http.MethodPost)
		p.respond(resp, http.StatusMethodNotAllowed, &response{Status: "error", Message: "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(resp, req.Body, p.maxBodySize))
	if err != nil {
		p.logger.Info(
			"received invalid http request, reading body failed",
			logfields.Event("webhook_http_request_read_failed"),
			zap.Error(err),
		)
		p.respond(resp, http.StatusBadRequest, &response{Status: "error", Message: "reading request body failed"})
		return
	}

	ev, err := eventFromRequest(req, body)
	if err != nil {
		p.logger.Info(
			"received invalid http request, parsing form body failed",
			logfields.Event("webhook_http_request_parsing_failed"),
			zap.Error(err),
		)
		p.respond(resp, http.StatusBadRequest, &response{Status: "error", Message: "parsing request body failed"})
		return
	}

	logger := p.logger.With(ev.LogFields()...)
	logger.Debug(
		"received webhook event",
		logfields.Event("webhook_event_received"),
		zap.ByteString("http_body", ev.Payload),
	)

	_, err = p.dispatcher.Handle(req.Context(), ev)
	if err != nil {
		if errors.Is(err, deploy.ErrUnauthorized) {
			p.respond(resp, http.StatusUnauthorized, &response{Status: "error", Message: "invalid token"})
			return
		}

		logger.Warn(
			"processing webhook event failed",
			logfields.Event("webhook_event_processing_failed"),
			zap.Error(err),
		)
		p.respond(resp, http.StatusInternalServerError, &response{Status: "error", Message: "processing event failed"})
		return
	}

	p.respond(resp, http.StatusAccepted, &response{Status: "accepted"})
}
