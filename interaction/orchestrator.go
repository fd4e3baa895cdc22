// Package interaction drives the interactive consent step of a grant: it
// opens a consent surface and waits for the finish redirect.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-paygrants/core"
)

const (
	paramInteractRef = "interact_ref"
	paramHash        = "hash"
	paramResult      = "result"

	resultGrantRejected = "grant_rejected"
)

type Option func(*Orchestrator)

func WithLogger(logger core.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithCanonicalizer(canonicalize EndpointCanonicalizer) Option {
	return func(o *Orchestrator) {
		if canonicalize != nil {
			o.canonicalize = canonicalize
		}
	}
}

// WithDefaultTimeout applies when a request carries no timeout of its own.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithTimeoutPageURL makes a timed-out surface show this page instead of
// being closed.
func WithTimeoutPageURL(pageURL string) Option {
	return func(o *Orchestrator) {
		o.timeoutPageURL = strings.TrimSpace(pageURL)
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

type surfaceEvent struct {
	id     core.SurfaceID
	url    string
	closed bool
}

// Orchestrator runs at most one interaction session at a time. Sessions are
// never reused.
type Orchestrator struct {
	surface        core.ConsentSurface
	canonicalize   EndpointCanonicalizer
	timeout        time.Duration
	timeoutPageURL string
	logger         core.Logger
	now            func() time.Time

	mu     sync.Mutex
	active *core.InteractionSession
}

func NewOrchestrator(surface core.ConsentSurface, opts ...Option) (*Orchestrator, error) {
	if surface == nil {
		return nil, fmt.Errorf("interaction: consent surface is required")
	}
	o := &Orchestrator{
		surface:      surface,
		canonicalize: OriginEndpoint,
		logger:       glog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Active returns a copy of the in-flight session, if any.
func (o *Orchestrator) Active() (core.InteractionSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return core.InteractionSession{}, false
	}
	return *o.active, true
}

func (o *Orchestrator) ObtainInteractionReference(
	ctx context.Context,
	req core.InteractionRequest,
	onSurfaceOpened func(core.SurfaceID),
) (string, error) {
	if strings.TrimSpace(req.RedirectURL) == "" {
		return "", fmt.Errorf("interaction: redirect url is required")
	}
	endpoint, err := o.canonicalize(req.GrantEndpoint)
	if err != nil {
		return "", err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.timeout
	}
	session := &core.InteractionSession{
		ClientNonce:   req.ClientNonce,
		InteractNonce: req.InteractNonce,
		GrantEndpoint: endpoint,
	}
	if timeout > 0 {
		session.ExpiresAt = o.now().Add(timeout)
	}
	if err := o.begin(session); err != nil {
		return "", err
	}
	defer o.end()

	var (
		waitCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		waitCtx, cancel = context.WithCancel(ctx)
	}

	events := make(chan surfaceEvent, 32)
	deliver := func(event surfaceEvent) {
		select {
		case events <- event:
		case <-waitCtx.Done():
		}
	}
	unsubscribeNavigated := o.surface.OnSurfaceNavigated(func(id core.SurfaceID, target string) {
		deliver(surfaceEvent{id: id, url: target})
	})
	defer unsubscribeNavigated()
	unsubscribeClosed := o.surface.OnSurfaceClosed(func(id core.SurfaceID) {
		deliver(surfaceEvent{id: id, closed: true})
	})
	defer unsubscribeClosed()
	// runs before the unsubscribes so no listener stays blocked in deliver
	defer cancel()

	previous, _ := o.surface.ActiveSurface(waitCtx)
	id, err := o.surface.OpenConsentSurface(waitCtx, req.RedirectURL)
	if err != nil {
		return "", fmt.Errorf("interaction: open consent surface: %w", err)
	}
	o.mu.Lock()
	session.SurfaceID = id
	o.mu.Unlock()
	if onSurfaceOpened != nil {
		onSurfaceOpened(id)
	}
	o.logger.WithContext(ctx).Debug("consent surface opened", "surface_id", string(id))

	for {
		select {
		case event := <-events:
			if event.id != id {
				continue
			}
			if event.closed {
				return "", &core.TabClosedError{SurfaceID: id}
			}
			ref, done, err := o.inspect(session, event.url)
			if !done {
				continue
			}
			if err != nil {
				o.closeQuietly(ctx, id)
				return "", err
			}
			o.handBack(ctx, previous, id)
			return ref, nil
		case <-waitCtx.Done():
			cause := waitCtx.Err()
			if errors.Is(cause, context.DeadlineExceeded) {
				o.tearDownTimedOut(ctx, id)
				return "", &core.TimeoutError{Operation: "interaction", SurfaceID: id, After: timeout}
			}
			o.closeQuietly(ctx, id)
			return "", cause
		}
	}
}

// inspect looks at one navigation of the consent surface. done is false for
// navigations that do not finish the interaction.
func (o *Orchestrator) inspect(session *core.InteractionSession, target string) (string, bool, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", false, nil
	}
	query := parsed.Query()
	ref := strings.TrimSpace(query.Get(paramInteractRef))
	if ref == "" {
		if query.Get(paramResult) == resultGrantRejected {
			return "", true, &core.GrantRejectedError{Result: resultGrantRejected}
		}
		return "", false, nil
	}

	verified := *session
	verified.InteractRef = ref
	verified.ExpectedHash = Hash(verified.ClientNonce, verified.InteractNonce, ref, verified.GrantEndpoint)
	if !VerifyHash(verified, query.Get(paramHash)) {
		return "", true, &core.InteractionHashError{InteractRef: ref}
	}
	o.mu.Lock()
	*session = verified
	o.mu.Unlock()
	return ref, true, nil
}

func (o *Orchestrator) begin(session *core.InteractionSession) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return fmt.Errorf("%w: surface %s", core.ErrInteractionInProgress, o.active.SurfaceID)
	}
	o.active = session
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.active = nil
	o.mu.Unlock()
}

// handBack returns focus to the surface that was active before the consent
// surface opened, then closes the consent surface.
func (o *Orchestrator) handBack(ctx context.Context, previous, consent core.SurfaceID) {
	cleanup := context.WithoutCancel(ctx)
	if previous != "" && previous != consent {
		if err := o.surface.FocusSurface(cleanup, previous); err != nil {
			o.logger.WithContext(ctx).Warn("refocus previous surface failed", "surface_id", string(previous), "error", err.Error())
		}
	}
	o.closeQuietly(ctx, consent)
}

func (o *Orchestrator) tearDownTimedOut(ctx context.Context, id core.SurfaceID) {
	cleanup := context.WithoutCancel(ctx)
	if o.timeoutPageURL != "" {
		if err := o.surface.NavigateSurface(cleanup, id, o.timeoutPageURL); err == nil {
			return
		}
	}
	o.closeQuietly(ctx, id)
}

func (o *Orchestrator) closeQuietly(ctx context.Context, id core.SurfaceID) {
	if err := o.surface.CloseSurface(context.WithoutCancel(ctx), id); err != nil {
		o.logger.WithContext(ctx).Debug("close consent surface failed", "surface_id", string(id), "error", err.Error())
	}
}

var _ core.Interactor = (*Orchestrator)(nil)
