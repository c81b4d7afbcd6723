// Package natsrpc exposes the gearbox commit, query and resync operations
// over NATS request/reply.
package natsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
	"gearboxd/internal/gearbox"
	"gearboxd/internal/service"
)

// Subjects names the request subjects
type Subjects struct {
	Commit string `yaml:"commit"`
	Query  string `yaml:"query"`
	Resync string `yaml:"resync"`
}

// DefaultSubjects returns the subjects used when none are configured
func DefaultSubjects() Subjects {
	return Subjects{
		Commit: "gearbox.commit",
		Query:  "gearbox.query",
		Resync: "gearbox.resync",
	}
}

// Service is the part of the gearbox service reachable over NATS
type Service interface {
	Commit(ctx context.Context, changes []datastore.Change) (*service.CommitResult, error)
	Query(ctx context.Context, path string) (*gearbox.Document, error)
	Resync(ctx context.Context) error
}

// CommitRequest is the payload of a commit request
type CommitRequest struct {
	Changes []datastore.Change `json:"changes"`
}

// QueryRequest is the payload of a query request
type QueryRequest struct {
	Path string `json:"path"`
}

// Response is the reply envelope for every subject
type Response struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Class string          `json:"class,omitempty"`
}

// Server answers requests on the configured subjects
type Server struct {
	nc       *nats.Conn
	svc      Service
	subjects Subjects
	timeout  time.Duration
	logger   *slog.Logger
	subs     []*nats.Subscription
}

// NewServer creates a new request/reply server
func NewServer(nc *nats.Conn, svc Service, subjects Subjects, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		nc:       nc,
		svc:      svc,
		subjects: subjects,
		timeout:  30 * time.Second,
		logger:   logger.With("component", "natsrpc"),
	}
}

// Start subscribes to every subject
func (s *Server) Start() error {
	handlers := map[string]func(context.Context, []byte) (any, error){
		s.subjects.Commit: s.commit,
		s.subjects.Query:  s.query,
		s.subjects.Resync: s.resync,
	}
	for subject, handle := range handlers {
		if subject == "" {
			continue
		}
		sub, err := s.nc.Subscribe(subject, s.responder(handle))
		if err != nil {
			s.Stop()
			return errors.WrapFatal(err, "natsrpc", "Start", fmt.Sprintf("subscribe to %s", subject))
		}
		s.subs = append(s.subs, sub)
		s.logger.Debug("Subscribed to request subject", "subject", subject)
	}
	s.logger.Info("NATS request handlers initialized", "subjects", len(s.subs))
	return nil
}

// Stop drains every subscription
func (s *Server) Stop() {
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Warn("Failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	s.subs = nil
}

func (s *Server) responder(handle func(context.Context, []byte) (any, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		data, err := handle(ctx, msg.Data)
		respData, merr := json.Marshal(encodeResponse(data, err))
		if merr != nil {
			s.logger.Error("Failed to marshal response", "subject", msg.Subject, "error", merr)
			return
		}
		if err := msg.Respond(respData); err != nil {
			s.logger.Error("Failed to send response", "subject", msg.Subject, "error", err)
		}
	}
}

func (s *Server) commit(ctx context.Context, data []byte) (any, error) {
	var req CommitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.WrapInvalid(err, "natsrpc", "commit", "decode request")
	}
	return s.svc.Commit(ctx, req.Changes)
}

func (s *Server) query(ctx context.Context, data []byte) (any, error) {
	var req QueryRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, errors.WrapInvalid(err, "natsrpc", "query", "decode request")
		}
	}
	return s.svc.Query(ctx, req.Path)
}

func (s *Server) resync(ctx context.Context, _ []byte) (any, error) {
	if err := s.svc.Resync(ctx); err != nil {
		return nil, err
	}
	return map[string]string{"status": "reconciled"}, nil
}

func encodeResponse(data any, err error) Response {
	if err != nil {
		return Response{Error: err.Error(), Class: errors.Classify(err).String()}
	}
	raw, merr := json.Marshal(data)
	if merr != nil {
		return Response{Error: merr.Error(), Class: errors.ErrorFatal.String()}
	}
	return Response{Data: raw}
}

// decodeResponse unpacks a reply into out, turning a remote error back into
// a classified error
func decodeResponse(data []byte, out any) error {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return errors.WrapFatal(err, "natsrpc", "decodeResponse", "decode reply")
	}
	if resp.Error != "" {
		return &errors.ClassifiedError{
			Class: parseClass(resp.Class),
			Err:   errors.New(resp.Error),
		}
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return errors.WrapFatal(err, "natsrpc", "decodeResponse", "decode data")
	}
	return nil
}

func parseClass(s string) errors.ErrorClass {
	switch s {
	case errors.ErrorInvalid.String():
		return errors.ErrorInvalid
	case errors.ErrorResolution.String():
		return errors.ErrorResolution
	default:
		return errors.ErrorFatal
	}
}

// Client sends requests to a remote Server
type Client struct {
	nc       *nats.Conn
	subjects Subjects
}

// NewClient creates a new request/reply client
func NewClient(nc *nats.Conn, subjects Subjects) *Client {
	return &Client{nc: nc, subjects: subjects}
}

// Commit sends a batch of changes
func (c *Client) Commit(ctx context.Context, changes []datastore.Change) (*service.CommitResult, error) {
	var res service.CommitResult
	if err := c.request(ctx, c.subjects.Commit, CommitRequest{Changes: changes}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Query fetches operational state for a path
func (c *Client) Query(ctx context.Context, path string) (*gearbox.Document, error) {
	var doc gearbox.Document
	if err := c.request(ctx, c.subjects.Query, QueryRequest{Path: path}, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Resync asks the server to reconcile again
func (c *Client) Resync(ctx context.Context) error {
	return c.request(ctx, c.subjects.Resync, struct{}{}, nil)
}

func (c *Client) request(ctx context.Context, subject string, req, out any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.WrapInvalid(err, "natsrpc", "request", "encode request")
	}
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return errors.WrapFatal(err, "natsrpc", "request", fmt.Sprintf("request %s", subject))
	}
	return decodeResponse(msg.Data, out)
}
