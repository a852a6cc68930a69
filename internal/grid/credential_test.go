package grid

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gridrun/internal/tactile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestGuard(exec tactile.Executor, check, renew time.Duration) (*Guard, map[string]string) {
	env := make(map[string]string)
	g := NewGuard(exec, GuardOptions{
		User:          "alice",
		Realm:         "FNAL.GOV",
		Cache:         "/tmp/krbcc/alice",
		CheckInterval: check,
		RenewInterval: renew,
	})
	g.setenv = func(k, v string) error {
		env[k] = v
		return nil
	}
	return g, env
}

func TestGuard_InitWithValidTicket(t *testing.T) {
	exec := &scriptedExecutor{handler: func(cmd tactile.Command) (*tactile.ExecutionResult, error) {
		return okResult("Ticket cache: FILE:/tmp/krbcc/alice\nDefault principal: alice@FNAL.GOV\n"), nil
	}}
	g, env := newTestGuard(exec, time.Minute, time.Hour)

	require.NoError(t, g.Init(context.Background()))
	assert.Equal(t, "/tmp/krbcc/alice", env["KRB5CCNAME"])
	assert.Equal(t, []string{"klist"}, exec.lines())
}

func TestGuard_InitRunsKinit(t *testing.T) {
	exec := &scriptedExecutor{handler: func(cmd tactile.Command) (*tactile.ExecutionResult, error) {
		if cmd.Binary == "klist" {
			return result("", "klist: No credentials cache found", 1), nil
		}
		return okResult(""), nil
	}}
	g, _ := newTestGuard(exec, time.Minute, time.Hour)

	require.NoError(t, g.Init(context.Background()))
	assert.Equal(t, []string{"klist", "kinit -A -r7d alice@FNAL.GOV"}, exec.lines())
	assert.Contains(t, exec.calls[1].Environment, "KRB5CCNAME=/tmp/krbcc/alice")
}

func TestGuard_InitKinitFailure(t *testing.T) {
	exec := &scriptedExecutor{handler: func(cmd tactile.Command) (*tactile.ExecutionResult, error) {
		if cmd.Binary == "klist" {
			return okResult(""), nil
		}
		return result("", "kinit: Password incorrect", 1), nil
	}}
	g, _ := newTestGuard(exec, time.Minute, time.Hour)
	assert.ErrorContains(t, g.Init(context.Background()), "Password incorrect")
}

func TestGuard_RenewsPeriodically(t *testing.T) {
	defer goleak.VerifyNone(t)

	var renewals atomic.Int32
	exec := &scriptedExecutor{handler: func(cmd tactile.Command) (*tactile.ExecutionResult, error) {
		if cmd.CommandString() == "kinit -R -c /tmp/krbcc/alice" {
			renewals.Add(1)
		}
		return okResult(""), nil
	}}
	g, _ := newTestGuard(exec, 5*time.Millisecond, 10*time.Millisecond)

	g.Start(context.Background())
	g.Start(context.Background()) // second start is a no-op

	assert.Eventually(t, func() bool { return renewals.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	elapsed := g.Stop()
	assert.Positive(t, elapsed)
	assert.GreaterOrEqual(t, g.Renewals(), 2)
	assert.Zero(t, g.Stop(), "stopping twice is harmless")
}

func TestGuard_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	g, _ := newTestGuard(&scriptedExecutor{}, time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx)
	cancel()
	g.Stop()
}

func TestNewGuard_Intervals(t *testing.T) {
	g := NewGuard(nil, GuardOptions{RenewInterval: time.Second})
	assert.Equal(t, time.Minute, g.opts.CheckInterval)
	assert.Equal(t, time.Minute, g.opts.RenewInterval)
}
