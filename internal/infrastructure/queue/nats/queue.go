package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/resilience"
)

const workerGroup = "rebuild-workers"

// Queue carries rebuild requests from the API to workers over a NATS subject.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("repo-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishRebuild(ctx context.Context, req domain.RebuildRequest) error {
	payload, err := encodeRequest(req)
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		return publishError(q.conn.Publish(q.subject, payload))
	}

	if q.executor == nil {
		return call(ctx)
	}
	err = q.executor.Execute(ctx, "nats.publish", call, resilience.TemporaryClassifier)
	return resilience.WrapCircuitOpen("nats publish", err)
}

// SubscribeRebuild delivers requests to handler until ctx is cancelled, then
// drains the subscription. Workers share one queue group so each request is
// handled once.
func (q *Queue) SubscribeRebuild(ctx context.Context, handler func(context.Context, domain.RebuildRequest) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		req, err := decodeRequest(msg.Data)
		if err != nil {
			q.logger.Warn("rebuild_request_rejected", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, req); err != nil {
			q.logger.Error("rebuild_request_failed",
				"request_id", req.RequestID,
				"project", req.ProjectID,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeRequest(req domain.RebuildRequest) ([]byte, error) {
	if req.ProjectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode rebuild request", errors.New("project id is required"))
	}
	if req.Ref == "" {
		req.Ref = domain.DefaultRef
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rebuild request: %w", err)
	}
	return payload, nil
}

func decodeRequest(data []byte) (domain.RebuildRequest, error) {
	var req domain.RebuildRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.RebuildRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode rebuild request", err)
	}
	if req.ProjectID == "" {
		return domain.RebuildRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode rebuild request", errors.New("project id is required"))
	}
	if req.Ref == "" {
		req.Ref = domain.DefaultRef
	}
	return req, nil
}
