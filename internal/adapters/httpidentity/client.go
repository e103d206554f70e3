// Package httpidentity implements the identity ports against the portal's
// hosted identity service: an OAuth2 password-grant token endpoint plus a
// small REST surface for registration, identity lookup, and revocation.
package httpidentity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	domainid "github.com/target/portal-identity/internal/domain/identity"
	apperrors "github.com/target/portal-identity/internal/errors"
	"github.com/target/portal-identity/internal/observability/statsd"
	"github.com/target/portal-identity/internal/ports"
)

const (
	defaultClientID      = "portal-agent"
	defaultRefreshMargin = 30 * time.Second
	refreshRetryInterval = 30 * time.Second
	refreshTimeout       = 15 * time.Second
	eventBuffer          = 16
	maxErrorBody         = 4 << 10
)

// Options configures a Client.
type Options struct {
	// BaseURL is the identity service root, e.g. https://id.portal.example.
	BaseURL string
	// APIKey is sent on every request as the apikey header.
	APIKey   string
	ClientID string
	// RefreshMargin is how long before token expiry the proactive refresh
	// fires. Zero means the default.
	RefreshMargin time.Duration
	// Cache persists the session across restarts. Optional.
	Cache      ports.TokenCache
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    statsd.Sink
}

// Client talks to the identity service and doubles as the auth channel:
// session changes from sign-in, sign-out, and token refresh are delivered
// to subscribers on a single dispatch goroutine.
type Client struct {
	baseURL string
	oauth   oauth2.Config
	http    *http.Client
	cache   ports.TokenCache
	logger  *slog.Logger
	metrics statsd.Sink
	margin  time.Duration

	mu    sync.Mutex
	state ports.AuthState
	// gen increments on every session transition. A refresh that started
	// against an older generation discards its result instead of
	// re-installing a session the user has since ended or replaced.
	gen          uint64
	subs         map[int]func(ports.AuthState)
	nextID       int
	refreshTimer *time.Timer

	events   chan ports.AuthState
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var (
	_ ports.IdentityAPI = (*Client)(nil)
	_ ports.AuthChannel = (*Client)(nil)
)

// NewClient constructs a Client. Call Start before use and Close on
// shutdown.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("identity base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("identity base URL: %w", err)
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	margin := opts.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.APIKey != "" {
		rt := httpClient.Transport
		if rt == nil {
			rt = http.DefaultTransport
		}
		cp := *httpClient
		cp.Transport = &apiKeyTransport{apiKey: opts.APIKey, base: rt}
		httpClient = &cp
	}

	c := &Client{
		baseURL: base,
		oauth: oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:    httpClient,
		cache:   opts.Cache,
		logger:  logger,
		metrics: opts.Metrics,
		margin:  margin,
		subs:    make(map[int]func(ports.AuthState)),
		events:  make(chan ports.AuthState, eventBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.dispatch()
	return c, nil
}

// apiKeyTransport injects the apikey header so both direct requests and
// the oauth2 token exchanges carry it.
type apiKeyTransport struct {
	apiKey string
	base   http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("apikey", t.apiKey)
	return t.base.RoundTrip(clone)
}

// Start restores a cached session if one exists. Restore failures degrade
// to signed-out; they never fail startup.
func (c *Client) Start(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	sess, err := c.cache.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "session cache load failed", "error", err)
		return nil
	}
	if sess == nil {
		return nil
	}

	ident, err := c.fetchIdentity(ctx, sess.AccessToken)
	if err != nil {
		refreshed, rerr := c.refreshToken(ctx, sess)
		if rerr != nil {
			c.logger.WarnContext(ctx, "cached session unusable; discarding", "error", err)
			if cerr := c.cache.Clear(ctx); cerr != nil {
				c.logger.WarnContext(ctx, "session cache clear failed", "error", cerr)
			}
			return nil
		}
		sess = refreshed
		ident, err = c.fetchIdentity(ctx, sess.AccessToken)
		if err != nil {
			c.logger.WarnContext(ctx, "identity lookup failed after refresh", "error", err)
			return nil
		}
	}

	c.setSession(ctx, &ident, sess, false)
	return nil
}

// Close stops the refresh timer and the dispatch goroutine.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		if c.refreshTimer != nil {
			c.refreshTimer.Stop()
			c.refreshTimer = nil
		}
		c.mu.Unlock()
		close(c.stop)
		<-c.done
	})
}

// Subscribe registers onChange for session-change events. Callbacks run
// on the dispatch goroutine and must not call back into the client.
func (c *Client) Subscribe(onChange func(ports.AuthState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.subs[id] = onChange

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// CurrentSession reports the session the client currently holds.
func (c *Client) CurrentSession(_ context.Context) (ports.AuthState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, nil
}

// SignUp registers a new identity. It does not establish a session; the
// caller signs in separately.
func (c *Client) SignUp(ctx context.Context, email, password string, meta ports.SignUpMetadata) (domainid.Identity, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"full_name": meta.FullName},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domainid.Identity{}, apperrors.Wrap(err, apperrors.KindUnknown, "encode sign-up request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signup", bytes.NewReader(payload))
	if err != nil {
		return domainid.Identity{}, apperrors.Wrap(err, apperrors.KindUnknown, "build sign-up request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domainid.Identity{}, apperrors.Wrap(err, apperrors.KindNetwork, "sign-up request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domainid.Identity{}, statusError(resp, "sign up")
	}

	var user userPayload
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return domainid.Identity{}, apperrors.Wrap(err, apperrors.KindUnknown, "decode sign-up response")
	}
	return user.identity(), nil
}

// SignInWithPassword exchanges credentials for a session via the password
// grant, resolves the identity, and publishes the new session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) error {
	tok, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), email, password)
	if err != nil {
		return mapTokenError(err)
	}
	sess := sessionFromToken(tok)

	ident, err := c.fetchIdentity(ctx, sess.AccessToken)
	if err != nil {
		return err
	}

	c.setSession(ctx, &ident, sess, true)
	return nil
}

// SignOut revokes the session server-side and always clears local state,
// even when revocation fails in transit.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	var revokeErr error
	if st.Session != nil {
		revokeErr = c.revoke(ctx, st.Session.AccessToken)
	}
	c.clearSession(ctx, true)
	return revokeErr
}

func (c *Client) revoke(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnknown, "build sign-out request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindNetwork, "sign-out request failed")
	}
	defer resp.Body.Close()

	// 401 means the token is already dead, which is the desired end state
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnauthorized {
		return statusError(resp, "sign out")
	}
	return nil
}

// refresh runs off the proactive timer. A rejected refresh token ends the
// session; a transport failure retries on an interval until the session
// is replaced or the client closes. A result that resolves after the
// session changed under it (sign-out, new sign-in) is discarded.
func (c *Client) refresh() {
	c.mu.Lock()
	st := c.state
	gen := c.gen
	c.mu.Unlock()
	if st.Session == nil || st.Session.RefreshToken == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	sess, err := c.refreshToken(ctx, st.Session)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			c.logger.Warn("session refresh rejected; signing out", "error", err)
			c.countRefresh("rejected")
			c.clearSessionIfGen(ctx, gen)
			return
		}
		c.logger.Warn("session refresh failed; will retry", "error", err)
		c.countRefresh("retry")
		c.mu.Lock()
		if c.gen == gen {
			c.scheduleRefreshLocked(refreshRetryInterval)
		}
		c.mu.Unlock()
		return
	}

	if !c.trySetSession(ctx, st.Identity, sess, true, &gen) {
		c.logger.Debug("discarding refresh result; session changed mid-refresh")
		c.countRefresh("superseded")
		return
	}
	c.countRefresh("ok")
}

func (c *Client) refreshToken(ctx context.Context, sess *domainid.Session) (*domainid.Session, error) {
	// Expiry in the past forces the token source to hit the refresh grant.
	stale := &oauth2.Token{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	tok, err := c.oauth.TokenSource(c.oauthContext(ctx), stale).Token()
	if err != nil {
		return nil, err
	}
	refreshed := sessionFromToken(tok)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = sess.RefreshToken
	}
	return refreshed, nil
}

func (c *Client) fetchIdentity(ctx context.Context, accessToken string) (domainid.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return domainid.Identity{}, apperrors.Wrap(err, apperrors.KindUnknown, "build identity request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return domainid.Identity{}, apperrors.Wrap(err, apperrors.KindNetwork, "identity lookup failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domainid.Identity{}, statusError(resp, "identity lookup")
	}

	var user userPayload
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return domainid.Identity{}, apperrors.Wrap(err, apperrors.KindUnknown, "decode identity response")
	}
	return user.identity(), nil
}

// setSession replaces the held session, reschedules the refresh timer,
// persists the token cache, and (when emit is set) publishes the change.
func (c *Client) setSession(ctx context.Context, ident *domainid.Identity, sess *domainid.Session, emit bool) {
	c.trySetSession(ctx, ident, sess, emit, nil)
}

// trySetSession is setSession with an optional generation precondition:
// when ifGen is non-nil the write applies only if no other session
// transition happened since that generation was read. Reports whether the
// write applied.
func (c *Client) trySetSession(ctx context.Context, ident *domainid.Identity, sess *domainid.Session, emit bool, ifGen *uint64) bool {
	st := ports.AuthState{Identity: ident, Session: sess}

	c.mu.Lock()
	if ifGen != nil && c.gen != *ifGen {
		c.mu.Unlock()
		return false
	}
	c.gen++
	c.state = st
	if sess != nil && sess.RefreshToken != "" && !sess.ExpiresAt.IsZero() {
		until := time.Until(sess.ExpiresAt.Add(-c.margin))
		if until < time.Second {
			until = time.Second
		}
		c.scheduleRefreshLocked(until)
	} else if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.mu.Unlock()

	if c.cache != nil && sess != nil {
		if err := c.cache.Save(ctx, *sess); err != nil {
			c.logger.WarnContext(ctx, "session cache save failed", "error", err)
		}
	}
	if emit {
		c.emit(st)
	}
	return true
}

func (c *Client) clearSession(ctx context.Context, emit bool) {
	c.mu.Lock()
	c.gen++
	c.state = ports.AuthState{}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Clear(ctx); err != nil {
			c.logger.WarnContext(ctx, "session cache clear failed", "error", err)
		}
	}
	if emit {
		c.emit(ports.AuthState{})
	}
}

// clearSessionIfGen ends the session only when no other transition
// happened since gen was read; a refresh rejection for a session the user
// already replaced must not tear down the new one.
func (c *Client) clearSessionIfGen(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = ports.AuthState{}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Clear(ctx); err != nil {
			c.logger.WarnContext(ctx, "session cache clear failed", "error", err)
		}
	}
	c.emit(ports.AuthState{})
}

func (c *Client) scheduleRefreshLocked(d time.Duration) {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	c.refreshTimer = time.AfterFunc(d, c.refresh)
}

// emit queues an event for the dispatch goroutine without blocking the
// caller; when the buffer is full the oldest event is superseded.
func (c *Client) emit(st ports.AuthState) {
	for {
		select {
		case c.events <- st:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}

func (c *Client) dispatch() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case st := <-c.events:
			c.mu.Lock()
			handlers := make([]func(ports.AuthState), 0, len(c.subs))
			for _, h := range c.subs {
				handlers = append(handlers, h)
			}
			c.mu.Unlock()
			for _, h := range handlers {
				h(st)
			}
		}
	}
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

func (c *Client) countRefresh(outcome string) {
	if c.metrics != nil {
		c.metrics.Count("identity.refresh", 1, map[string]string{"outcome": outcome})
	}
}

type userPayload struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	UserMetadata struct {
		FullName string `json:"full_name"`
	} `json:"user_metadata"`
}

func (u userPayload) identity() domainid.Identity {
	return domainid.Identity{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.UserMetadata.FullName,
	}
}

func sessionFromToken(tok *oauth2.Token) *domainid.Session {
	return &domainid.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}

type errorPayload struct {
	Msg         string `json:"msg"`
	Message     string `json:"message"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (e errorPayload) text() string {
	for _, s := range []string{e.Msg, e.Message, e.Description, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func statusError(resp *http.Response, op string) error {
	var payload errorPayload
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(body, &payload)

	msg := payload.text()
	if msg == "" {
		msg = fmt.Sprintf("%s failed with status %d", op, resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.InvalidCredentials(msg)
	case resp.StatusCode == http.StatusConflict:
		return apperrors.Conflict(msg)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return apperrors.Validation(msg)
	default:
		return apperrors.Unknown(msg)
	}
}

// mapTokenError classifies failures from the token endpoint. The password
// grant answers bad credentials with 400 invalid_grant.
func mapTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		switch {
		case status == http.StatusBadRequest || status == http.StatusUnauthorized:
			return apperrors.Wrap(err, apperrors.KindInvalidCredentials, "sign in rejected")
		case status >= 500:
			return apperrors.Wrap(err, apperrors.KindUnknown, "identity service error")
		default:
			return apperrors.Wrap(err, apperrors.KindUnknown, "token exchange failed")
		}
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return apperrors.Wrap(err, apperrors.KindNetwork, "token endpoint unreachable")
	}
	return apperrors.Wrap(err, apperrors.KindNetwork, "token exchange failed")
}
