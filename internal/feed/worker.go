// Package feed consumes patterns from a NATS subject and publishes analysis
// results.
//
// A request is either a JSON object
//
//	{"id": "42", "pattern": "NYC AA LON 250.00 NUC 250.00 END", "journey": "NYC AA LON"}
//
// or a bare pattern string. The response goes to the message's reply subject
// when it has one, otherwise to the configured result subject.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"fca_cleaner/internal/fca"
	"fca_cleaner/internal/logging"
	"fca_cleaner/internal/pipeline"
)

const source = "feed"

// Config configures the worker.
type Config struct {
	URL           string
	Subject       string
	Queue         string
	ResultSubject string
	Persist       bool
}

// Request is one pattern to analyse.
type Request struct {
	ID      string `json:"id,omitempty"`
	Pattern string `json:"pattern"`
	Journey string `json:"journey,omitempty"`
}

// Response carries the analysis for the request with the same ID.
type Response struct {
	ID       string              `json:"id,omitempty"`
	StoredID string              `json:"stored_id,omitempty"`
	Result   *fca.AnalysisResult `json:"result,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Publisher is the subset of *nats.Conn the worker publishes through.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Worker handles feed messages. HandleMessage is safe for concurrent use.
type Worker struct {
	proc   *pipeline.Processor
	pub    Publisher
	cfg    Config
	logger logging.Logger

	handled atomic.Int64
	failed  atomic.Int64
}

// NewWorker creates a worker that publishes through pub.
func NewWorker(proc *pipeline.Processor, pub Publisher, cfg Config, logger logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{proc: proc, pub: pub, cfg: cfg, logger: logger.Named("feed")}
}

// Handled returns how many messages were processed and how many of those
// could not be decoded, stored or answered.
func (w *Worker) Handled() (handled, failed int64) {
	return w.handled.Load(), w.failed.Load()
}

// DecodeRequest parses a message payload. Payloads that are not JSON
// objects are taken as a bare pattern.
func DecodeRequest(data []byte) (Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Request{}, errors.New("empty message")
	}
	if trimmed[0] != '{' {
		return Request{Pattern: string(trimmed)}, nil
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if req.Pattern == "" {
		return req, errors.New("request has no pattern")
	}
	return req, nil
}

// HandleMessage analyses one message and publishes the response.
func (w *Worker) HandleMessage(ctx context.Context, msg *nats.Msg) {
	w.handled.Add(1)

	resp := w.respond(ctx, msg.Data)
	if resp.Error != "" {
		w.failed.Add(1)
	}

	subject := msg.Reply
	if subject == "" {
		subject = w.cfg.ResultSubject
	}
	if subject == "" {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("encode response", logging.String("id", resp.ID), logging.Err(err))
		return
	}
	if err := w.pub.Publish(subject, data); err != nil {
		w.failed.Add(1)
		w.logger.Warn("publish response", logging.String("subject", subject), logging.Err(err))
	}
}

func (w *Worker) respond(ctx context.Context, data []byte) Response {
	req, err := DecodeRequest(data)
	if err != nil {
		w.logger.Warn("bad request", logging.Err(err))
		return Response{ID: req.ID, Error: err.Error()}
	}

	out, err := w.proc.Process(ctx, source, pipeline.Input{Pattern: req.Pattern, Journey: req.Journey}, w.cfg.Persist)
	resp := Response{ID: req.ID, StoredID: out.ID, Result: out.Result}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// Connect dials the NATS server with reconnects enabled.
func Connect(cfg Config, logger logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("fca-worker"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", logging.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", logging.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// handler binds HandleMessage to a context that keeps ctx's values but not
// its cancellation, so messages delivered while draining are still stored.
func (w *Worker) handler(ctx context.Context) nats.MsgHandler {
	hctx := context.WithoutCancel(ctx)
	return func(msg *nats.Msg) { w.HandleMessage(hctx, msg) }
}

// Run subscribes on the configured subject (as a queue group member when a
// queue is set) and handles messages until ctx is cancelled. The
// subscription is drained before Run returns.
func (w *Worker) Run(ctx context.Context, nc *nats.Conn) error {
	if w.cfg.Subject == "" {
		return errors.New("feed subject is required")
	}

	handler := w.handler(ctx)

	var sub *nats.Subscription
	var err error
	if w.cfg.Queue != "" {
		sub, err = nc.QueueSubscribe(w.cfg.Subject, w.cfg.Queue, handler)
	} else {
		sub, err = nc.Subscribe(w.cfg.Subject, handler)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.cfg.Subject, err)
	}
	w.logger.Info("consuming",
		logging.String("subject", w.cfg.Subject),
		logging.String("queue", w.cfg.Queue),
		logging.String("result_subject", w.cfg.ResultSubject))

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain subscription: %w", err)
	}
	handled, failed := w.Handled()
	w.logger.Info("feed stopped", logging.Int64("handled", handled), logging.Int64("failed", failed))
	return nil
}
