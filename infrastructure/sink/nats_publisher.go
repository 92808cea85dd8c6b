package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"drivesync/domain/contracts"
	"drivesync/domain/drive"
	"drivesync/logging"
)

const (
	opUpdate = "update"
	opDelete = "delete"
	opSweep  = "sweep"
)

// Config holds the JetStream settings of the sink.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	BatchSize     int
	Duplicates    time.Duration
	MaxAge        time.Duration
}

// DefaultConfig returns the defaults used when the environment sets nothing.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Stream:        "SECURITY_INDEX",
		SubjectPrefix: "drivesync",
		BatchSize:     100,
		Duplicates:    10 * time.Minute,
		MaxAge:        7 * 24 * time.Hour,
	}
}

// jetStream is the subset of nats.JetStreamContext the publisher uses.
type jetStream interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Envelope is the message body published for every sink operation.
type Envelope struct {
	Op       string                 `json:"op"`
	TenantID string                 `json:"tenantId"`
	SiteID   string                 `json:"siteId"`
	DriveID  string                 `json:"driveId"`
	Objects  []drive.SecurityObject `json:"objects,omitempty"`
	IDs      []string               `json:"ids,omitempty"`
	Cutoff   *time.Time             `json:"cutoff,omitempty"`
}

// publishAttempts bounds the retries of one message after an ack timeout.
const publishAttempts = 3

// NATSPublisher publishes sink operations to a JetStream stream. Every message gets a fresh
// id that is reused only when the same message is retried after a lost ack, so the
// duplicate window absorbs retries but never a later operation with the same body.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetStream
	config Config
	logger *logging.Logger
}

// NewNATSPublisher connects to NATS and ensures the stream exists.
func NewNATSPublisher(ctx context.Context, cfg Config) (*NATSPublisher, error) {
	cfg = withDefaults(cfg)
	nc, err := nats.Connect(cfg.URL, nats.Name("drivesync"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	p := newPublisher(js, cfg)
	p.nc = nc
	if err := p.EnsureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(js jetStream, cfg Config) *NATSPublisher {
	return &NATSPublisher{
		js:     js,
		config: withDefaults(cfg),
		logger: logging.Default().WithComponent("sink"),
	}
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = d.URL
	}
	if cfg.Stream == "" {
		cfg.Stream = d.Stream
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = d.SubjectPrefix
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.Duplicates <= 0 {
		cfg.Duplicates = d.Duplicates
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = d.MaxAge
	}
	return cfg
}

// EnsureStream creates the stream when it does not exist yet.
func (p *NATSPublisher) EnsureStream(ctx context.Context) error {
	if info, err := p.js.StreamInfo(p.config.Stream, nats.Context(ctx)); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       p.config.Stream,
		Subjects:   []string{p.config.SubjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: p.config.Duplicates,
		MaxAge:     p.config.MaxAge,
	}, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// subject renders <prefix>.<tenant>.objects.<op>. Tenant ids are sanitized into one token.
func (p *NATSPublisher) subject(tenantID, op string) string {
	return fmt.Sprintf("%s.%s.objects.%s", p.config.SubjectPrefix, subjectToken(tenantID), op)
}

func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}

func (p *NATSPublisher) publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Op, err)
	}
	msg := nats.NewMsg(p.subject(env.TenantID, env.Op))
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())

	for attempt := 1; ; attempt++ {
		_, err = p.js.PublishMsg(msg, nats.Context(ctx))
		if err == nil {
			return nil
		}
		if attempt == publishAttempts || ctx.Err() != nil || !errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("%w: publish %s: %v", contracts.ErrTransient, msg.Subject, err)
		}
		p.logger.Warn("Publish ack timed out, retrying",
			"subject", msg.Subject, "msg_id", msg.Header.Get(nats.MsgIdHdr), "attempt", attempt)
	}
}

func envelope(op string, scope drive.DriveScope) Envelope {
	return Envelope{Op: op, TenantID: scope.TenantID, SiteID: scope.SiteID, DriveID: scope.DriveID}
}

// UpdateObjects upserts objects in batches of the configured size.
func (p *NATSPublisher) UpdateObjects(ctx context.Context, scope drive.DriveScope, objects []drive.SecurityObject) error {
	for start := 0; start < len(objects); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(objects))
		env := envelope(opUpdate, scope)
		env.Objects = objects[start:end]
		if err := p.publish(ctx, env); err != nil {
			return err
		}
	}
	if len(objects) > 0 {
		p.logger.Sink("Published object updates", "scope", scope.Key(), "count", len(objects))
	}
	return nil
}

// DeleteObjects removes objects by id in batches of the configured size.
func (p *NATSPublisher) DeleteObjects(ctx context.Context, scope drive.DriveScope, ids []string) error {
	for start := 0; start < len(ids); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(ids))
		env := envelope(opDelete, scope)
		env.IDs = ids[start:end]
		if err := p.publish(ctx, env); err != nil {
			return err
		}
	}
	if len(ids) > 0 {
		p.logger.Sink("Published object deletes", "scope", scope.Key(), "count", len(ids))
	}
	return nil
}

// DeleteObjectsSyncedBefore asks the index to drop every object of the drive older than cutoff.
func (p *NATSPublisher) DeleteObjectsSyncedBefore(ctx context.Context, scope drive.DriveScope, cutoff time.Time) error {
	env := envelope(opSweep, scope)
	utc := cutoff.UTC()
	env.Cutoff = &utc
	if err := p.publish(ctx, env); err != nil {
		return err
	}
	p.logger.Sink("Published sweep", "scope", scope.Key(), "cutoff", utc)
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

var _ contracts.SinkPublisher = (*NATSPublisher)(nil)
