package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/torosent/crankfeed/internal/auth"
	"github.com/torosent/crankfeed/internal/config"
	"github.com/torosent/crankfeed/internal/extractor"
	"github.com/torosent/crankfeed/internal/httpclient"
	"github.com/torosent/crankfeed/internal/placeholders"
	"github.com/torosent/crankfeed/internal/pool"
	"github.com/torosent/crankfeed/internal/runner"
	"github.com/torosent/crankfeed/internal/source"
	"github.com/torosent/crankfeed/internal/tracing"
	"github.com/torosent/crankfeed/internal/websocket"
)

const (
	maxLoggedBodyBytes = 1024
	maxBodyReadSize    = 1024 * 1024
)

type actorDeps struct {
	auth      auth.Provider
	extract   *extractor.Set
	propagate bool
	echoOut   io.Writer
}

// newActor builds the action named by cfg.Action.Type. The returned close
// function releases pooled connections.
func newActor(cfg *config.Config, deps actorDeps) (runner.Actor, func(), error) {
	switch cfg.Action.Type {
	case config.ActionHTTP:
		builder, err := httpclient.NewRequestBuilderWithAuth(&cfg.Action, deps.auth)
		if err != nil {
			return nil, nil, err
		}
		client := httpclient.NewClient(cfg.Timeout)
		a := &httpActor{client: client, builder: builder, extract: deps.extract, propagate: deps.propagate}
		return a, client.CloseIdleConnections, nil

	case config.ActionWebSocket:
		headers, err := httpclient.CanonicalHeaders(cfg.Action.Headers)
		if err != nil {
			return nil, nil, err
		}
		size := cfg.Action.PoolSize
		if size <= 0 {
			size = defaultWebSocketPoolLimit
		}
		receiveTimeout := cfg.Action.ReceiveTimeout
		if receiveTimeout <= 0 {
			receiveTimeout = cfg.Timeout
		}
		a := &websocketActor{
			pool:             pool.NewConnectionPool[*websocket.Client](size),
			target:           cfg.Action.URL,
			headers:          headers,
			messages:         cfg.Action.Messages,
			expectReply:      cfg.Action.ExpectReply,
			receiveTimeout:   receiveTimeout,
			handshakeTimeout: cfg.Action.HandshakeTimeout,
			auth:             deps.auth,
			extract:          deps.extract,
			propagate:        deps.propagate,
		}
		return a, func() { _ = a.pool.Close() }, nil

	case config.ActionEcho:
		return &echoActor{enc: json.NewEncoder(deps.echoOut)}, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported action %q", cfg.Action.Type)
	}
}

// httpActor sends one request per record. Status codes of 400 and above
// fail the item with a *runner.HTTPError.
type httpActor struct {
	client    *http.Client
	builder   *httpclient.RequestBuilder
	extract   *extractor.Set
	propagate bool
}

func (a *httpActor) Do(ctx context.Context, rec source.Record) (source.Record, error) {
	req, err := a.builder.Build(ctx, rec)
	if err != nil {
		return nil, err
	}
	if a.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Body read errors are non-fatal; extraction sees what was read.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyReadSize))
	_, _ = io.Copy(io.Discard, resp.Body)

	failed := resp.StatusCode >= 400
	out := source.Record{"status": strconv.Itoa(resp.StatusCode)}
	for k, v := range a.extract.Apply(body, failed) {
		out[k] = v
	}

	if failed {
		snippet := body
		if len(snippet) > maxLoggedBodyBytes {
			snippet = snippet[:maxLoggedBodyBytes]
		}
		return out, &runner.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	return out, nil
}

// websocketActor sends the configured messages for each record over a pooled
// connection to the record's target.
type websocketActor struct {
	pool             *pool.ConnectionPool[*websocket.Client]
	target           string
	headers          http.Header
	messages         []string
	expectReply      bool
	receiveTimeout   time.Duration
	handshakeTimeout time.Duration
	auth             auth.Provider
	extract          *extractor.Set
	propagate        bool
}

func (a *websocketActor) Do(ctx context.Context, rec source.Record) (source.Record, error) {
	target := placeholders.Apply(a.target, rec)
	headers := a.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	for k, vals := range headers {
		for i, v := range vals {
			vals[i] = placeholders.Apply(v, rec)
		}
		headers[k] = vals
	}
	// Connections are shared across records, so the key ignores per-item
	// trace context and token refreshes.
	key := pool.MakePoolKey(target, headers)
	if err := auth.InjectInto(ctx, a.auth, headers); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if a.propagate {
		tracing.InjectHTTPHeaders(ctx, headers)
	}

	factory := func() *websocket.Client {
		return websocket.NewClient(websocket.Config{
			URL:              target,
			Headers:          headers,
			HandshakeTimeout: a.handshakeTimeout,
			ReadTimeout:      a.receiveTimeout,
		})
	}

	msgs := make([]websocket.Message, len(a.messages))
	for i, tmpl := range a.messages {
		msgs[i] = websocket.Text(placeholders.Apply(tmpl, rec))
	}

	client, reused, err := a.pool.Acquire(ctx, key, factory)
	if err != nil {
		return nil, err
	}
	before := client.Metrics()
	replies, err := client.Exchange(ctx, msgs, a.expectReply)
	if err != nil && reused && ctx.Err() == nil {
		// The idle connection may have been closed by the server.
		client, err = a.pool.Reconnect(ctx, client, factory)
		if err != nil {
			return nil, err
		}
		before = client.Metrics()
		replies, err = client.Exchange(ctx, msgs, a.expectReply)
	}
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	traffic := client.Metrics().Since(before)
	_ = a.pool.Put(key, client)

	out := replyRecord(replies, a.extract)
	addTraffic(out, traffic)
	return out, nil
}

// addTraffic records the frames and payload bytes one item exchanged.
func addTraffic(out source.Record, m websocket.Metrics) {
	out["ws_messages_sent"] = strconv.FormatInt(m.MessagesSent, 10)
	out["ws_messages_received"] = strconv.FormatInt(m.MessagesReceived, 10)
	out["ws_bytes_sent"] = strconv.FormatInt(m.BytesSent, 10)
	out["ws_bytes_received"] = strconv.FormatInt(m.BytesReceived, 10)
}

// replyRecord names replies reply_1..reply_n and applies extractors to the
// last one.
func replyRecord(replies []websocket.Message, extract *extractor.Set) source.Record {
	out := make(source.Record, len(replies)+4)
	if len(replies) == 0 {
		return out
	}
	for i, r := range replies {
		out["reply_"+strconv.Itoa(i+1)] = string(r.Data)
	}
	for k, v := range extract.Apply(replies[len(replies)-1].Data, false) {
		out[k] = v
	}
	return out
}

// echoActor writes each record as a JSON line. It is useful for checking a
// source without touching a target.
type echoActor struct {
	mu  sync.Mutex
	enc *json.Encoder
}

type echoLine struct {
	Seq    int64         `json:"seq,omitempty"`
	Record source.Record `json:"record"`
}

func (a *echoActor) Do(ctx context.Context, rec source.Record) (source.Record, error) {
	seq, _ := runner.SeqFromContext(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.enc.Encode(echoLine{Seq: seq, Record: rec}); err != nil {
		return nil, fmt.Errorf("echo: %w", err)
	}
	return nil, nil
}
