package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rowanvale/fieldlink-core/internal/device"
	"github.com/rowanvale/fieldlink-core/internal/infrastructure/mqtt"
	"github.com/rowanvale/fieldlink-core/internal/telemetry"
)

// Logger interface for gateway logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// MQTTClient is the interface the gateway needs from the MQTT layer.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Authenticator verifies device credentials. Implemented by the device
// repository.
type Authenticator interface {
	Authenticate(ctx context.Context, id, token string) (*device.Device, error)
}

// TelemetrySink receives device-published payloads for ingestion.
// Implemented by the telemetry service.
type TelemetrySink interface {
	SavePayload(ctx context.Context, deviceID string, payload []byte) (telemetry.SaveResult, error)
}

// messageKind classifies a device topic.
type messageKind int

const (
	kindUnknown messageKind = iota
	kindTelemetry
	kindAttributes
	kindRPCRequest
	kindRPCResponse
)

// session tracks one device's authentication state on the shared broker.
//
// Devices connect to the external broker directly, so the gateway never
// sees their CONNECT credentials. Instead the first message a device
// publishes must carry a token field; once verified, the session stays
// authenticated until the device disconnects or the gateway restarts.
type session struct {
	deviceID        string
	authenticated   bool
	authenticatedAt time.Time
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// RPCTimeout is the default deadline for platform-initiated RPC.
	RPCTimeout time.Duration

	// QoS for gateway publishes and subscriptions. The zero value is
	// QoS 0 (at most once); config validation owns range checking.
	QoS byte

	// Logger for gateway operations. Defaults to a no-op logger.
	Logger Logger
}

// Gateway bridges the shared MQTT broker and the core.
//
// Inbound, it authenticates device sessions, classifies device topics,
// and routes telemetry and attribute payloads into the ingestion
// pipeline. Device-initiated RPC requests are forwarded onto the
// internal bus, which devices can never publish to or subscribe from.
// Outbound, it carries platform-initiated RPC (see SendRPC).
type Gateway struct {
	client     MQTTClient
	directory  Authenticator
	sink       TelemetrySink
	rpcTimeout time.Duration
	qos        byte
	logger     Logger

	mu       sync.Mutex
	sessions map[string]*session
	started  bool

	pending sync.Map // requestID -> *pendingRPC
}

// NewGateway creates a broker gateway.
func NewGateway(client MQTTClient, directory Authenticator, sink TelemetrySink, cfg GatewayConfig) *Gateway {
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Gateway{
		client:     client,
		directory:  directory,
		sink:       sink,
		rpcTimeout: cfg.RPCTimeout,
		qos:        cfg.QoS,
		logger:     cfg.Logger,
		sessions:   make(map[string]*session),
	}
}

// Start subscribes to the device topic space.
//
// RPC response topics are subscribed per request by SendRPC, not here,
// so a response only ever has one live handler.
func (g *Gateway) Start(ctx context.Context) error {
	topics := mqtt.Topics{}
	handler := func(topic string, payload []byte) error {
		return g.HandleMessage(ctx, topic, payload)
	}

	for _, topic := range []string{
		topics.AllDeviceTelemetry(),
		topics.AllDeviceAttributes(),
		topics.AllDeviceRPCRequests(),
	} {
		if err := g.client.Subscribe(topic, g.qos, handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	g.mu.Lock()
	g.started = true
	g.mu.Unlock()

	g.logger.Info("broker gateway started")
	return nil
}

// HandleMessage processes one inbound broker message.
//
// The message passes three gates in order: topic classification,
// session authentication, then kind-specific routing. Failures drop the
// message with a log line; the broker never sees an error.
func (g *Gateway) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	kind, deviceID, requestID, err := classifyTopic(topic)
	if err != nil {
		g.logger.Debug("ignoring message on unclassified topic", "topic", topic)
		return nil
	}

	// The gateway's own RPC requests echo back on the shared
	// subscription; drop them before they masquerade as device traffic.
	if kind == kindRPCRequest {
		if _, ours := g.pending.Load(requestID); ours {
			return nil
		}
	}

	payload, err = g.authenticate(ctx, deviceID, payload)
	if err != nil {
		g.logger.Warn("dropping message from unauthenticated device",
			"device_id", deviceID, "topic", topic, "error", err)
		return nil
	}
	if len(payload) == 0 {
		// Pure auth envelope; nothing further to route.
		return nil
	}

	switch kind {
	case kindTelemetry:
		g.ingest(ctx, deviceID, payload, "telemetry")

	case kindAttributes:
		g.ingest(ctx, deviceID, payload, "attributes")

	case kindRPCRequest:
		g.forwardDeviceRPC(deviceID, requestID, payload)

	case kindRPCResponse:
		g.settleRPC(requestID, payload)
	}
	return nil
}

// authenticate enforces the session state machine for one message.
//
// An authenticated session passes the payload through untouched. An
// unauthenticated session must present a token field in a JSON object
// envelope; the token is verified against the directory and stripped,
// and the remaining payload (if any) continues through routing.
func (g *Gateway) authenticate(ctx context.Context, deviceID string, payload []byte) ([]byte, error) {
	g.mu.Lock()
	sess, ok := g.sessions[deviceID]
	authenticated := ok && sess.authenticated
	g.mu.Unlock()

	if authenticated {
		return payload, nil
	}

	token, remainder, err := extractToken(payload)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrAuthRequired
	}

	if _, err := g.directory.Authenticate(ctx, deviceID, token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	// Only a verified device earns a session entry. Recording sessions
	// for arbitrary device IDs would let unauthenticated publishes grow
	// the map without bound.
	g.mu.Lock()
	g.sessions[deviceID] = &session{
		deviceID:        deviceID,
		authenticated:   true,
		authenticatedAt: time.Now().UTC(),
	}
	g.mu.Unlock()

	g.logger.Info("device session authenticated", "device_id", deviceID)
	return remainder, nil
}

// Disconnect clears a device's session so its next message must
// re-authenticate.
func (g *Gateway) Disconnect(deviceID string) {
	g.mu.Lock()
	delete(g.sessions, deviceID)
	g.mu.Unlock()

	g.logger.Info("device session cleared", "device_id", deviceID)
}

// IsAuthenticated reports whether a device session is authenticated.
func (g *Gateway) IsAuthenticated(deviceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[deviceID]
	return ok && sess.authenticated
}

// ingest hands a payload to the telemetry sink.
func (g *Gateway) ingest(ctx context.Context, deviceID string, payload []byte, source string) {
	result, err := g.sink.SavePayload(ctx, deviceID, payload)
	if err != nil {
		g.logger.Warn("failed to ingest device payload",
			"device_id", deviceID, "source", source, "error", err)
		return
	}
	if len(result.Errors) > 0 {
		g.logger.Warn("device payload partially ingested",
			"device_id", deviceID, "source", source,
			"saved", result.Saved, "failed", len(result.Errors))
	}
}

// forwardDeviceRPC relays a device-initiated RPC request onto the
// internal bus. Devices cannot reach internal topics themselves; the
// gateway is the only door.
func (g *Gateway) forwardDeviceRPC(deviceID, requestID string, payload []byte) {
	envelope, err := json.Marshal(map[string]any{
		"device_id":  deviceID,
		"request_id": requestID,
		"payload":    json.RawMessage(payload),
	})
	if err != nil {
		g.logger.Error("failed to build rpc forward envelope",
			"device_id", deviceID, "request_id", requestID, "error", err)
		return
	}

	topic := mqtt.Topics{}.InternalDeviceRPC(deviceID)
	if err := g.client.Publish(topic, envelope, g.qos, false); err != nil {
		g.logger.Error("failed to forward device rpc",
			"device_id", deviceID, "request_id", requestID, "error", err)
		return
	}

	g.logger.Debug("device rpc forwarded",
		"device_id", deviceID, "request_id", requestID)
}

// Close aborts every pending RPC and clears all sessions.
func (g *Gateway) Close() {
	g.abortPendingRPCs()

	g.mu.Lock()
	g.sessions = make(map[string]*session)
	g.started = false
	g.mu.Unlock()

	g.logger.Info("broker gateway closed")
}

// classifyTopic parses a device topic into its kind and identifiers.
func classifyTopic(topic string) (messageKind, string, string, error) {
	rest, ok := strings.CutPrefix(topic, mqtt.TopicPrefixDevices+"/")
	if !ok {
		return kindUnknown, "", "", ErrUnknownTopic
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		return kindUnknown, "", "", ErrUnknownTopic
	}
	deviceID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "telemetry":
		return kindTelemetry, deviceID, "", nil

	case len(parts) == 2 && parts[1] == "attributes":
		return kindAttributes, deviceID, "", nil

	case len(parts) == 4 && parts[1] == "rpc" && parts[2] == "request" && parts[3] != "":
		return kindRPCRequest, deviceID, parts[3], nil

	case len(parts) == 4 && parts[1] == "rpc" && parts[2] == "response" && parts[3] != "":
		return kindRPCResponse, deviceID, parts[3], nil

	default:
		return kindUnknown, "", "", ErrUnknownTopic
	}
}

// extractToken pulls the token field out of a JSON object envelope.
//
// Returns the token and the payload with the token stripped. An empty
// remainder means the message was a pure auth envelope. Non-object
// payloads (arrays, scalars) carry no token.
func extractToken(payload []byte) (string, []byte, error) {
	if firstByte(payload) != '{' {
		return "", payload, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	raw, ok := envelope["token"]
	if !ok {
		return "", payload, nil
	}

	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", nil, fmt.Errorf("%w: token must be a string", ErrMalformedPayload)
	}
	delete(envelope, "token")

	if len(envelope) == 0 {
		return token, nil, nil
	}

	remainder, err := json.Marshal(envelope)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return token, remainder, nil
}

// firstByte returns the first non-whitespace byte, or zero.
func firstByte(payload []byte) byte {
	for _, b := range payload {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}
