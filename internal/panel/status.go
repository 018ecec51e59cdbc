package panel

import (
	"context"
	"fmt"
	"time"

	"relaybot/pkg/tgui"
)

// StatusMessage renders the forwarder state, interval and collection sizes.
func (p *Panel) StatusMessage(ctx context.Context) (tgui.Message, error) {
	settings, err := p.reg.Settings(ctx)
	if err != nil {
		return tgui.Message{}, fmt.Errorf("read settings: %w", err)
	}
	sources, err := p.reg.ListSources(ctx)
	if err != nil {
		return tgui.Message{}, fmt.Errorf("list sources: %w", err)
	}
	dests, err := p.reg.ListDestinations(ctx)
	if err != nil {
		return tgui.Message{}, fmt.Errorf("list destinations: %w", err)
	}
	active, err := p.reg.ListActive(ctx)
	if err != nil {
		return tgui.Message{}, fmt.Errorf("list active posts: %w", err)
	}
	inactive, err := p.reg.ListInactive(ctx)
	if err != nil {
		return tgui.Message{}, fmt.Errorf("list inactive posts: %w", err)
	}

	st := p.fwd.Status()
	state := "🛑 stopped"
	if st.Running {
		state = fmt.Sprintf("▶️ running for %s", p.now().Sub(st.Since).Truncate(time.Second))
	}

	b := tgui.New().
		Title("📊", "Relay status").
		KV("Forwarder", state).
		KV("Interval", "every "+settings.String()).
		KV("Sources", fmt.Sprint(len(sources))).
		KV("Destinations", fmt.Sprint(len(dests))).
		KV("Posts", fmt.Sprintf("%d active, %d inactive", len(active), len(inactive)))
	if p.admins != nil {
		if list, err := p.admins.List(ctx); err == nil {
			b.KV("Admins", fmt.Sprint(len(list)))
		}
	}
	if st.Ticks > 0 {
		t := st.LastTick
		b.KV("Ticks", fmt.Sprintf("%d ok, %d failed", st.Ticks, st.Failures))
		b.KV("Last tick", fmt.Sprintf("%s: %d/%d forwards failed in %s",
			t.At.Format("15:04:05"), t.Failed, t.Attempted, t.Took.Truncate(time.Millisecond)))
	}
	if st.LastError != "" {
		b.KV("Last error", tgui.TruncRunes(st.LastError, 200))
	}
	return b.Build(), nil
}
