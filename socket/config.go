package socket

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/kleeedolinux/actionsocket/socket/transport"
	"github.com/mitchellh/mapstructure"
)

const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// ClientConfig is the decoded form of the options bag accepted by Open.
// Durations accept either Go duration strings ("1.5s") or numbers of
// milliseconds.
type ClientConfig struct {
	Transport         string            `mapstructure:"transport"`
	ReconnectDelay    time.Duration     `mapstructure:"reconnectDelay"`
	MaxReconnectDelay time.Duration     `mapstructure:"maxReconnectDelay"`
	ReconnectJitter   *float64          `mapstructure:"reconnectJitter"`
	ReconnectAttempts *int              `mapstructure:"reconnectAttempts"`
	BatchSize         int               `mapstructure:"batchSize"`
	BatchInterval     time.Duration     `mapstructure:"batchInterval"`
	Compression       bool              `mapstructure:"compression"`
	Headers           map[string]string `mapstructure:"headers"`
	Query             map[string]string `mapstructure:"query"`
}

// DecodeClientConfig decodes an options bag. Unknown keys are ignored;
// a known key holding a value of the wrong type is an error.
func DecodeClientConfig(bag map[string]any) (*ClientConfig, error) {
	cfg := new(ClientConfig)
	if len(bag) == 0 {
		return cfg, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			millisecondsHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		Result: cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(bag); err != nil {
		return nil, fmt.Errorf("socket: options: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func millisecondsHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Millisecond, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(reflect.ValueOf(data).Uint()) * time.Millisecond, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Millisecond)), nil
	}
	return data, nil
}

// Open builds an unconnected client for target from an options bag.
func Open(target string, bag map[string]any) (*Client, error) {
	cfg, err := DecodeClientConfig(bag)
	if err != nil {
		return nil, err
	}
	return NewClientFromConfig(target, cfg)
}

func NewClientFromConfig(target string, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = new(ClientConfig)
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("socket: parse target: %w", err)
	}
	if len(cfg.Query) > 0 {
		q := u.Query()
		for k, v := range cfg.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	headers := make(http.Header)
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	var t Transport
	switch cfg.Transport {
	case "", TransportWebSocket:
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		t = transport.NewWebSocketTransport(u.String(), transport.WithHeaders(headers))
	case TransportPolling:
		switch u.Scheme {
		case "ws":
			u.Scheme = "http"
		case "wss":
			u.Scheme = "https"
		}
		t = transport.NewLongPollingTransport(u.String(), transport.WithLongPollingHeaders(headers))
	default:
		return nil, fmt.Errorf("socket: %w: %q", ErrUnknownTransport, cfg.Transport)
	}

	var opts []ClientOption
	if cfg.ReconnectDelay > 0 {
		opts = append(opts, WithReconnectDelay(cfg.ReconnectDelay))
	}
	if cfg.MaxReconnectDelay > 0 {
		opts = append(opts, WithMaxReconnectDelay(cfg.MaxReconnectDelay))
	}
	if cfg.ReconnectJitter != nil {
		opts = append(opts, WithReconnectJitter(*cfg.ReconnectJitter))
	}
	if cfg.ReconnectAttempts != nil {
		opts = append(opts, WithReconnectAttempts(*cfg.ReconnectAttempts))
	}
	if cfg.BatchSize > 1 {
		interval := cfg.BatchInterval
		if interval <= 0 {
			interval = 50 * time.Millisecond
		}
		opts = append(opts, WithBatchSend(cfg.BatchSize, interval))
	}
	if cfg.Compression {
		opts = append(opts, WithClientCompression(true))
	}

	return NewClient(t, opts...), nil
}
