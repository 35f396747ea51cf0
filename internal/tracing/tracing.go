// Package tracing links chat runs to the trace viewer and records
// OpenTelemetry spans for them.
package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/suPer8Hu/podflix/internal/logging"
)

const instrumentationName = "github.com/suPer8Hu/podflix"

var ErrBadCredentials = errors.New("tracing: trace server rejected credentials")

type Options struct {
	Host      string
	PublicKey string
	SecretKey string
	// ProjectID skips the project lookup when set.
	ProjectID  string
	HTTPClient *http.Client
}

// Tracer builds trace viewer links and starts spans.
type Tracer struct {
	host      string
	publicKey string
	secretKey string
	http      *http.Client
	otel      trace.Tracer
	log       *logrus.Entry

	mu        sync.Mutex
	projectID string
}

func New(o Options) *Tracer {
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Tracer{
		host:      strings.TrimRight(o.Host, "/"),
		publicKey: o.PublicKey,
		secretKey: o.SecretKey,
		projectID: o.ProjectID,
		http:      client,
		otel:      otel.Tracer(instrumentationName),
		log:       logging.New("tracing"),
	}
}

type projectsResp struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

// ProjectID returns the configured project or looks up the one owning the
// key pair. A successful lookup is cached.
func (t *Tracer) ProjectID(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.projectID != "" {
		return t.projectID, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.host+"/api/public/projects", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(t.publicKey, t.secretKey)
	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tracing: list projects: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrBadCredentials
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("tracing: list projects: status %d", resp.StatusCode)
	}

	var pr projectsResp
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("tracing: decode projects: %w", err)
	}
	if len(pr.Data) == 0 || pr.Data[0].ID == "" {
		return "", errors.New("tracing: no project for these keys")
	}
	t.projectID = pr.Data[0].ID
	return t.projectID, nil
}

// CheckCredentials fails when the trace server refuses the key pair.
func (t *Tracer) CheckCredentials(ctx context.Context) error {
	_, err := t.ProjectID(ctx)
	return err
}

func (t *Tracer) projectBase(ctx context.Context) string {
	pid, err := t.ProjectID(ctx)
	if err != nil {
		t.log.WithError(err).Warn("trace project unknown")
		return ""
	}
	return t.host + "/project/" + pid
}

// SessionURL links to every trace of a chat session. Empty when the project
// cannot be resolved.
func (t *Tracer) SessionURL(ctx context.Context, sessionID string) string {
	base := t.projectBase(ctx)
	if base == "" {
		return ""
	}
	return base + "/sessions/" + sessionID
}

// TraceURL links to one run.
func (t *Tracer) TraceURL(ctx context.Context, runID string) string {
	base := t.projectBase(ctx)
	if base == "" || runID == "" {
		return ""
	}
	return base + "/traces/" + runID
}

// Start opens a span tagged with the chat session.
func (t *Tracer) Start(ctx context.Context, name, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("session.id", sessionID))
	return t.otel.Start(ctx, name, trace.WithAttributes(attrs...))
}
