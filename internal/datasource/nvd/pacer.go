// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package nvd

import (
	"context"
	"time"
)

// pacer spaces consecutive requests at least interval apart. With
// onlyOnMiss set, spacing is only applied after a request that produced no
// score.
type pacer struct {
	interval   time.Duration
	onlyOnMiss bool
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error

	started  bool
	last     time.Time
	lastMiss bool
}

func newPacer(interval time.Duration, onlyOnMiss bool) *pacer {
	return &pacer{
		interval:   interval,
		onlyOnMiss: onlyOnMiss,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func (p *pacer) wait(ctx context.Context) error {
	if !p.started || p.interval <= 0 {
		return nil
	}
	if p.onlyOnMiss && !p.lastMiss {
		return nil
	}
	remaining := p.interval - p.now().Sub(p.last)
	if remaining <= 0 {
		return nil
	}
	return p.sleep(ctx, remaining)
}

func (p *pacer) done(miss bool) {
	p.started = true
	p.last = p.now()
	p.lastMiss = miss
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
