// Package plugin speaks a five-bells ledger's REST/WebSocket API on behalf
// of a generic Interledger connector. It owns the single logical connection:
// account resolution, metadata validation, the auth-token handshake, the
// notification subscription, reconnects, and RPC correlation.
package plugin

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/interledgerx/plugin-bells/internal/events"
	"github.com/interledgerx/plugin-bells/internal/ledger"
	"github.com/interledgerx/plugin-bells/internal/metrics"
	"github.com/interledgerx/plugin-bells/internal/request"
	"go.uber.org/zap"
)

const (
	reconnectBackoffMin = 1000 * time.Millisecond
	reconnectBackoffMax = 30000 * time.Millisecond

	handshakeTimeout = 45 * time.Second
	writeTimeout     = 10 * time.Second
)

// Options configure one plugin instance.
type Options struct {
	// Prefix is the ILP prefix for this ledger. Optional; when set it must
	// end with "." and overrides the ledger-reported prefix.
	Prefix string
	// Account is the ledger account URI this plugin represents.
	Account  string
	Username string
	Password string
	Cert     []byte
	Key      []byte
	CA       []byte
	// Connector is this node's connector URI when it acts as one; it is
	// registered on the account resource at connect time if absent there.
	Connector string
	// DebugReplyNotifications echoes per-notification processing outcome
	// back over the socket.
	DebugReplyNotifications bool
	// RequestTimeout bounds a single HTTP attempt. Zero means the default.
	RequestTimeout time.Duration

	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

// ConnectOptions tune one Connect call.
type ConnectOptions struct {
	// Timeout caps the whole resolution-and-subscribe sequence. Zero means
	// retry transient failures forever.
	Timeout time.Duration
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// session is the per-connection state. It is replaced, never mutated, on
// reconnect.
type session struct {
	conn    *websocket.Conn
	rpc     *rpcChannel
	writeMu sync.Mutex
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// Plugin is a ledger plugin for five-bells ledgers.
type Plugin struct {
	opts    Options
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	emitter *events.Emitter

	http     *request.Client
	resolver *ledger.Resolver

	mu            sync.Mutex
	state         ledger.ConnectionState
	attempt       *connectAttempt
	cancelAttempt context.CancelFunc
	sess          *session
	stop          chan struct{}
	userClosed    bool

	creds      ledger.Credentials
	host       string
	meta       *ledger.Metadata
	prefix     string
	translator *ledger.Translator
}

// New validates the construction options and builds a disconnected plugin.
func New(opts Options) (*Plugin, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if opts.Prefix != "" && !strings.HasSuffix(opts.Prefix, ".") {
		return nil, errors.New(`expected prefix to end with "."`)
	}
	if u, err := url.Parse(opts.Account); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.New("invalid account URI")
	}

	httpClient, err := request.New(request.Options{
		Username: opts.Username,
		Password: opts.Password,
		Cert:     opts.Cert,
		Key:      opts.Key,
		CA:       opts.CA,
		Timeout:  opts.RequestTimeout,
		OnRetry: func() {
			opts.Metrics.RecordHTTPRetry(context.Background())
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Plugin{
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		emitter:  events.NewEmitter(logger),
		http:     httpClient,
		resolver: ledger.NewResolver(httpClient, logger),
		creds: ledger.Credentials{
			Account:  opts.Account,
			Username: opts.Username,
			Password: opts.Password,
			Cert:     opts.Cert,
			Key:      opts.Key,
			CA:       opts.CA,
		},
	}, nil
}

// On registers an event handler. Emission waits for every handler of an
// event before the plugin proceeds (notably before notification
// acknowledgments).
func (p *Plugin) On(event events.Event, handler events.Handler) {
	p.emitter.On(event, handler)
}

func (p *Plugin) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == ledger.StateConnected
}

// State reports the connection state.
func (p *Plugin) State() ledger.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Connect resolves the account, validates ledger metadata, and subscribes
// to notifications. A call made while an attempt is in flight joins that
// attempt; a call on a connected plugin is a no-op.
func (p *Plugin) Connect(ctx context.Context, opts ConnectOptions) error {
	p.mu.Lock()
	if p.state == ledger.StateConnected {
		p.mu.Unlock()
		p.logger.Debugw("already connected, ignoring connect request")
		return nil
	}
	if a := p.attempt; a != nil {
		p.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &connectAttempt{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(ctx)
	p.attempt = a
	p.cancelAttempt = cancel
	p.state = ledger.StateConnecting
	p.userClosed = false
	p.stop = make(chan struct{})
	p.mu.Unlock()
	defer cancel()

	if opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, opts.Timeout)
		defer cancelTimeout()
	}

	err := p.establish(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ledger.ErrConnectTimeout, err)
	}

	p.mu.Lock()
	a.err = err
	p.attempt = nil
	p.cancelAttempt = nil
	if err != nil && p.state == ledger.StateConnecting {
		p.state = ledger.StateDisconnected
	}
	p.mu.Unlock()
	close(a.done)
	return err
}

// establish runs the connect sequence. Account identity and metadata are
// only re-resolved when they have never been fetched successfully.
func (p *Plugin) establish(ctx context.Context) error {
	p.mu.Lock()
	resolved := p.meta != nil
	p.mu.Unlock()

	if !resolved {
		if err := p.resolve(ctx); err != nil {
			return err
		}
	}
	return p.openSocket(ctx)
}

func (p *Plugin) resolve(ctx context.Context) error {
	info, err := p.resolver.ResolveAccount(ctx, p.creds.Account)
	if err != nil {
		return err
	}

	username := p.opts.Username
	if username == "" {
		username = info.Name
	}
	p.http.SetUsername(username)

	// A connector must be reachable by its peers; register our URI on the
	// account resource if the ledger has none. Not retried: a failure here
	// is fatal to the connect attempt.
	if p.opts.Connector != "" && info.Connector == "" {
		body := map[string]string{"name": info.Name, "connector": p.opts.Connector}
		status, err := p.http.JSON(ctx, http.MethodPut, p.creds.Account, body, nil)
		if err != nil {
			return fmt.Errorf("unable to set connector URI: %w", err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("unable to set connector URI: unexpected status code %d", status)
		}
	}

	meta, err := p.resolver.FetchMetadata(ctx, info.Ledger)
	if err != nil {
		return err
	}

	prefix := p.opts.Prefix
	if prefix == "" {
		prefix = meta.ILPPrefix
	}
	if meta.ILPPrefix != "" && p.opts.Prefix != "" && meta.ILPPrefix != p.opts.Prefix {
		p.logger.Warnw("ledger prefix does not match locally configured prefix",
			"ledger", meta.ILPPrefix,
			"configured", p.opts.Prefix,
		)
	}
	if prefix == "" {
		return errors.New("unable to set prefix from ledger or from local config")
	}

	p.mu.Lock()
	p.host = info.Ledger
	p.creds.Username = username
	p.meta = meta
	p.prefix = prefix
	p.translator = &ledger.Translator{
		Prefix:              prefix,
		Ledger:              info.Ledger,
		OwnAccount:          p.creds.Account,
		Account:             ledger.AccountTemplate(meta.URLs[ledger.URLAccount]),
		Transfer:            meta.URLs[ledger.URLTransfer],
		TransferFulfillment: meta.URLs[ledger.URLTransferFulfillment],
	}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) openSocket(ctx context.Context) error {
	p.mu.Lock()
	meta := p.meta
	account := p.creds.Account
	p.mu.Unlock()

	wsURL := meta.URLs[ledger.URLWebsocket]
	header := http.Header{}
	if tokenURL := meta.URLs[ledger.URLAuthToken]; tokenURL != "" {
		token, err := p.fetchAuthToken(ctx, tokenURL)
		if err != nil {
			return err
		}
		u, err := url.Parse(wsURL)
		if err != nil {
			return fmt.Errorf("parse websocket url: %w", err)
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		wsURL = u.String()
	} else if username, password, ok := p.http.BasicAuth(); ok {
		auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		header.Set("Authorization", "Basic "+auth)
	}

	p.logger.Debugw("subscribing to notifications", "url", meta.URLs[ledger.URLWebsocket])
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  p.http.TLSConfig(),
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial: status=%d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	sess := &session{conn: conn}
	sess.rpc = newRPCChannel(sess.writeJSON, p.logger, p.metrics)

	p.mu.Lock()
	p.sess = sess
	p.mu.Unlock()

	// The read loop must be live before the subscribe call so its response
	// can be correlated.
	go p.readLoop(sess)

	params := map[string]any{"eventType": "*", "accounts": []string{account}}
	if _, err := sess.rpc.Call(ctx, "subscribe_account", params); err != nil {
		p.closeSession(sess)
		return fmt.Errorf("subscribe_account: %w", err)
	}

	p.mu.Lock()
	if p.userClosed {
		// Disconnect landed while the handshake was in flight; the caller
		// asked for a closed plugin, so this session must not survive.
		p.mu.Unlock()
		p.closeSession(sess)
		return errors.New("disconnected before connect completed")
	}
	p.state = ledger.StateConnected
	p.mu.Unlock()

	p.metrics.ConnectionUp(ctx)
	p.logger.Infow("connected to ledger", "host", p.Host(), "prefix", p.prefixSnapshot())
	if err := p.emitter.Emit(ctx, events.Connect, events.Payload{}); err != nil {
		p.logger.Warnw("connect handler failed", "error", err)
	}
	return nil
}

func (p *Plugin) fetchAuthToken(ctx context.Context, tokenURL string) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if _, err := p.http.JSON(ctx, http.MethodGet, tokenURL, nil, &body); err != nil {
		return "", fmt.Errorf("unable to get auth token from ledger: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("unable to get auth token from ledger")
	}
	return body.Token, nil
}

// readLoop consumes frames until the socket dies. Frames are taken in
// arrival order; notification processing runs on its own goroutine per
// frame so slow subscribers never starve RPC responses.
func (p *Plugin) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debugw("websocket closed unexpectedly", "error", err)
			}
			break
		}
		p.dispatch(sess, data)
	}
	p.handleSocketClosed(sess)
}

// handleSocketClosed settles a dead session: pending RPC calls are rejected
// deterministically and, if the loss was unexpected, reconnection starts.
func (p *Plugin) handleSocketClosed(sess *session) {
	p.mu.Lock()
	if p.sess != sess {
		// Already torn down by Disconnect or replaced by a reconnect.
		p.mu.Unlock()
		return
	}
	p.sess = nil
	wasConnected := p.state == ledger.StateConnected
	p.state = ledger.StateDisconnected
	userClosed := p.userClosed
	p.mu.Unlock()

	sess.rpc.FailAll(ledger.ErrConnectionLost)
	sess.conn.Close()

	if !wasConnected {
		return
	}
	ctx := context.Background()
	p.metrics.ConnectionDown(ctx)
	if err := p.emitter.Emit(ctx, events.Disconnect, events.Payload{}); err != nil {
		p.logger.Warnw("disconnect handler failed", "error", err)
	}
	if !userClosed {
		go p.reconnectLoop()
	}
}

// reconnectLoop re-establishes the connection with the same backoff policy
// as the HTTP retry path. Account identity is not re-resolved; metadata
// survives across reconnects once fetched.
func (p *Plugin) reconnectLoop() {
	delay := reconnectBackoffMin
	for {
		p.mu.Lock()
		if p.userClosed || p.state == ledger.StateConnected {
			p.mu.Unlock()
			return
		}
		if p.attempt != nil {
			// A caller-driven connect is in flight; let it win.
			p.mu.Unlock()
			return
		}
		a := &connectAttempt{done: make(chan struct{})}
		ctx, cancel := context.WithCancel(context.Background())
		p.attempt = a
		p.cancelAttempt = cancel
		p.state = ledger.StateConnecting
		stop := p.stop
		p.mu.Unlock()

		p.metrics.RecordReconnect(ctx)
		err := p.establish(ctx)
		cancel()

		p.mu.Lock()
		a.err = err
		p.attempt = nil
		p.cancelAttempt = nil
		if err != nil && p.state == ledger.StateConnecting {
			p.state = ledger.StateDisconnected
		}
		p.mu.Unlock()
		close(a.done)

		if err == nil {
			return
		}
		p.logger.Warnw("reconnect failed", "error", err, "retryIn", delay)

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = delay * 3 / 2
		if delay > reconnectBackoffMax {
			delay = reconnectBackoffMax
		}
	}
}

// Disconnect closes the socket and rejects all pending RPC calls. It is
// idempotent: calling it while disconnected is a no-op and emits nothing.
func (p *Plugin) Disconnect() error {
	p.mu.Lock()
	p.userClosed = true
	if p.cancelAttempt != nil {
		p.cancelAttempt()
		p.cancelAttempt = nil
	}
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	sess := p.sess
	p.sess = nil
	wasConnected := p.state == ledger.StateConnected
	p.state = ledger.StateDisconnected
	p.mu.Unlock()

	if sess == nil {
		return nil
	}

	sess.rpc.FailAll(ledger.ErrConnectionLost)
	sess.writeMu.Lock()
	sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	sess.writeMu.Unlock()
	sess.conn.Close()

	if wasConnected {
		ctx := context.Background()
		p.metrics.ConnectionDown(ctx)
		if err := p.emitter.Emit(ctx, events.Disconnect, events.Payload{}); err != nil {
			p.logger.Warnw("disconnect handler failed", "error", err)
		}
	}
	return nil
}

func (p *Plugin) closeSession(sess *session) {
	p.mu.Lock()
	if p.sess == sess {
		p.sess = nil
	}
	p.mu.Unlock()
	sess.conn.Close()
	sess.rpc.FailAll(ledger.ErrConnectionLost)
}

// Host reports the resolved ledger host, empty before resolution.
func (p *Plugin) Host() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.host
}

func (p *Plugin) prefixSnapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prefix
}

func (p *Plugin) sessionSnapshot() (*session, *ledger.Translator, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess, p.translator, p.prefix
}
