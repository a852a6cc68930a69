package grid

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gridrun/internal/logging"
	"gridrun/internal/tactile"
)

// GuardOptions configures the Kerberos ticket guard.
type GuardOptions struct {
	User          string
	Realm         string
	Cache         string
	CheckInterval time.Duration
	RenewInterval time.Duration
}

// Guard keeps a renewable Kerberos ticket valid while long submissions run.
type Guard struct {
	exec   tactile.Executor
	opts   GuardOptions
	setenv func(key, value string) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
	renewed int
}

// NewGuard creates a guard; nothing runs until Init and Start.
func NewGuard(exec tactile.Executor, opts GuardOptions) *Guard {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.RenewInterval < opts.CheckInterval {
		opts.RenewInterval = opts.CheckInterval
	}
	return &Guard{exec: exec, opts: opts, setenv: os.Setenv}
}

func (g *Guard) cacheEnv() []string {
	return []string{"KRB5CCNAME=" + g.opts.Cache}
}

// Init points KRB5CCNAME at the configured cache and obtains a fresh
// ticket when klist shows none.
func (g *Guard) Init(ctx context.Context) error {
	if err := g.setenv("KRB5CCNAME", g.opts.Cache); err != nil {
		return fmt.Errorf("set KRB5CCNAME: %w", err)
	}

	res, err := g.exec.Execute(ctx, tactile.Command{Binary: "klist", Environment: g.cacheEnv()})
	if err == nil && strings.TrimSpace(res.Stdout) != "" {
		logging.CredentialDebug("ticket cache %s is valid", g.opts.Cache)
		return nil
	}

	principal := g.opts.User + "@" + g.opts.Realm
	logging.Credential("no valid ticket, running kinit for %s", principal)
	res, err = g.exec.Execute(ctx, tactile.Command{
		Binary:      "kinit",
		Arguments:   []string{"-A", "-r7d", principal},
		Environment: g.cacheEnv(),
	})
	if err != nil {
		return fmt.Errorf("kinit: %w", err)
	}
	if !res.OK() {
		return fmt.Errorf("kinit for %s failed (exit %d): %s", principal, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Start launches the renewal goroutine. Calling Start on a running guard
// does nothing.
func (g *Guard) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}

	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	g.started = time.Now()
	g.renewed = 0

	logging.Credential("grid guard is started")
	go g.run(ctx, g.done)
}

func (g *Guard) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.opts.CheckInterval)
	defer ticker.Stop()

	every := int(g.opts.RenewInterval / g.opts.CheckInterval)
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ticks++
			if ticks%every == 0 {
				g.renew(ctx)
			}
		}
	}
}

func (g *Guard) renew(ctx context.Context) {
	logging.Credential("renew the ticket")
	res, err := g.exec.Execute(ctx, tactile.Command{
		Binary:      "kinit",
		Arguments:   []string{"-R", "-c", g.opts.Cache},
		Environment: g.cacheEnv(),
	})
	if err != nil {
		logging.CredentialError("ticket renewal: %v", err)
		return
	}
	if !res.OK() {
		logging.CredentialWarn("ticket renewal exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		return
	}
	g.mu.Lock()
	g.renewed++
	g.mu.Unlock()
}

// Renewals returns how many renewals succeeded since Start.
func (g *Guard) Renewals() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.renewed
}

// Stop terminates the renewal goroutine and returns how long it ran.
func (g *Guard) Stop() time.Duration {
	g.mu.Lock()
	cancel, done, started := g.cancel, g.done, g.started
	g.cancel = nil
	g.mu.Unlock()

	if cancel == nil {
		return 0
	}
	cancel()
	<-done

	elapsed := time.Since(started)
	logging.Credential("grid guard is terminated after %d minutes", int(elapsed.Minutes()))
	return elapsed
}
