// Package keyadd registers the client's public key with a wallet provider
// by automating the provider's key management page.
package keyadd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-paygrants/core"
)

// Session is handed to a Provider for one run.
type Session struct {
	SurfaceID core.SurfaceID
	Wallet    core.WalletAddress
	Key       core.JWK
	Driver    core.PageDriver

	tracker *Tracker
	ctx     context.Context
}

// Step runs fn as the named progress step. Once the surface is closed every
// step fails with TabClosedError.
func (s *Session) Step(ctx context.Context, name string, fn func(context.Context) error) error {
	err := s.tracker.Run(ctx, s.SurfaceID, name, fn)
	if err == nil {
		return nil
	}
	if cause := context.Cause(s.ctx); errors.Is(cause, core.ErrTabClosed) {
		return cause
	}
	return err
}

type Option func(*Automator)

func WithLogger(logger core.Logger) Option {
	return func(a *Automator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithProgressListener(listener ProgressListener) Option {
	return func(a *Automator) {
		if listener != nil {
			a.listeners = append(a.listeners, listener)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Automator) {
		if now != nil {
			a.now = now
		}
	}
}

type Automator struct {
	registry  *Registry
	surface   core.ConsentSurface
	driver    core.PageDriver
	listeners []ProgressListener
	logger    core.Logger
	now       func() time.Time
}

func NewAutomator(registry *Registry, surface core.ConsentSurface, driver core.PageDriver, opts ...Option) (*Automator, error) {
	if registry == nil {
		return nil, fmt.Errorf("keyadd: registry is required")
	}
	if surface == nil {
		return nil, fmt.Errorf("keyadd: consent surface is required")
	}
	if driver == nil {
		return nil, fmt.Errorf("keyadd: page driver is required")
	}
	a := &Automator{
		registry: registry,
		surface:  surface,
		driver:   driver,
		logger:   glog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

func (a *Automator) AddPublicKeyToWallet(
	ctx context.Context,
	wallet core.WalletAddress,
	key core.JWK,
	onTabOpen func(core.SurfaceID),
) error {
	host := walletHost(wallet)
	provider, ok := a.registry.ForHost(host)
	if !ok {
		return &core.NotImplementedError{Feature: "key auto-add", Host: host}
	}
	logger := a.logger.WithContext(ctx)
	started := a.now()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var id core.SurfaceID
	opened := make(chan struct{})
	unsubscribe := a.surface.OnSurfaceClosed(func(closed core.SurfaceID) {
		select {
		case <-opened:
		default:
			return
		}
		if closed == id {
			cancel(&core.TabClosedError{SurfaceID: closed})
		}
	})
	defer unsubscribe()

	id, err := a.surface.OpenConsentSurface(runCtx, provider.KeyPageURL(wallet))
	if err != nil {
		return fmt.Errorf("keyadd: open key page: %w", err)
	}
	close(opened)
	if onTabOpen != nil {
		onTabOpen(id)
	}

	tracker := NewTracker(provider.Steps(), a.listeners...)
	session := &Session{
		SurfaceID: id,
		Wallet:    wallet,
		Key:       key,
		Driver:    a.driver,
		tracker:   tracker,
		ctx:       runCtx,
	}
	logger.Info("key auto-add started", "provider", provider.ID(), "surface_id", string(id))

	err = provider.Run(runCtx, session)
	if err == nil {
		a.closeQuietly(ctx, id)
		logger.Info("key auto-add finished", "provider", provider.ID())
		return nil
	}
	tracker.SkipRemaining()

	if cause := context.Cause(runCtx); errors.Is(cause, core.ErrTabClosed) {
		logger.Debug("key page closed by user", "surface_id", string(id))
		return cause
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, core.ErrTimeout) {
		after := time.Duration(0)
		if deadline, ok := ctx.Deadline(); ok {
			after = deadline.Sub(started)
		}
		err = &core.TimeoutError{Operation: "key_add", SurfaceID: id, After: after}
	}
	if !errors.Is(err, core.ErrTimeout) {
		a.closeQuietly(ctx, id)
	}
	logger.Warn("key auto-add failed", "provider", provider.ID(), "error", err.Error())
	return err
}

func (a *Automator) closeQuietly(ctx context.Context, id core.SurfaceID) {
	if err := a.surface.CloseSurface(context.WithoutCancel(ctx), id); err != nil {
		a.logger.WithContext(ctx).Debug("close key page failed", "surface_id", string(id), "error", err.Error())
	}
}

func walletHost(wallet core.WalletAddress) string {
	for _, candidate := range []string{wallet.AuthServer, wallet.ID} {
		parsed, err := url.Parse(strings.TrimSpace(candidate))
		if err == nil && parsed.Hostname() != "" {
			return strings.ToLower(parsed.Hostname())
		}
	}
	return ""
}

var _ core.KeyAdder = (*Automator)(nil)
