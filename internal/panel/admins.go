package panel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"relaybot/internal/admin"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

const defaultAuditRows = 15

func (p *Panel) cmdListAdmins(ctx context.Context, req *router.Request) error {
	list, err := p.admins.List(ctx)
	if err != nil {
		return err
	}
	kb := mainMenu(false)
	if p.admins.IsOwner(req.FromID) {
		kb = adminMenu()
	}
	if len(list) == 0 {
		return p.say(ctx, req, "No admins yet.", kb)
	}
	b := tgui.New().Title("👥", fmt.Sprintf("Admins (%d)", len(list)))
	for _, a := range list {
		parts := []tgui.H{tgui.Esc("•"), tgui.Code(strconv.FormatInt(a.UserID, 10))}
		if u := strings.TrimPrefix(a.Username, "@"); u != "" && u != "owner" {
			parts = append(parts, tgui.Esc("@"+u))
		}
		if p.admins.IsOwner(a.UserID) {
			parts = append(parts, tgui.I("owner"))
		}
		b.RawLine(tgui.JoinH(" ", parts...))
	}
	return p.reply(ctx, req, b.Markup(kb).Build())
}

func (p *Panel) cmdAddAdmin(ctx context.Context, req *router.Request) error {
	id, err := strconv.ParseInt(firstArg(req), 10, 64)
	if err != nil || id <= 0 {
		return p.say(ctx, req, "❌ Invalid user id. Send the numeric Telegram user id.", adminMenu())
	}
	username := ""
	if len(req.Args) > 1 {
		username = strings.TrimPrefix(strings.TrimSpace(req.Args[1]), "@")
	}
	added, err := p.admins.Add(ctx, id, req.FromID, username)
	p.audit(ctx, req, "admin_add", strconv.FormatInt(id, 10), err)
	if err != nil {
		return err
	}
	if !added {
		return p.say(ctx, req, fmt.Sprintf("ℹ️ %d is already an admin.", id), adminMenu())
	}
	req.Logger.Info("admin added", logx.Int64("user_id", id))
	return p.say(ctx, req, fmt.Sprintf("✅ %d is now an admin.", id), adminMenu())
}

func (p *Panel) cmdRemoveAdmin(ctx context.Context, req *router.Request) error {
	id, err := strconv.ParseInt(firstArg(req), 10, 64)
	if err != nil || id <= 0 {
		return p.say(ctx, req, "❌ Invalid user id. Send the numeric Telegram user id.", adminMenu())
	}
	removed, err := p.admins.Remove(ctx, id)
	p.audit(ctx, req, "admin_del", strconv.FormatInt(id, 10), err)
	if errors.Is(err, admin.ErrOwnerImmutable) {
		return p.say(ctx, req, "❌ Owners are set in the config file and cannot be removed here.", adminMenu())
	}
	if err != nil {
		return err
	}
	if !removed {
		return p.say(ctx, req, fmt.Sprintf("❌ %d is not an admin.", id), adminMenu())
	}
	req.Logger.Info("admin removed", logx.Int64("user_id", id))
	return p.say(ctx, req, fmt.Sprintf("✅ %d is no longer an admin.", id), adminMenu())
}

func (p *Panel) cmdAudit(ctx context.Context, req *router.Request) error {
	limit := defaultAuditRows
	if n, err := strconv.Atoi(firstArg(req)); err == nil && n > 0 && n <= 100 {
		limit = n
	}
	if p.auditLog == nil {
		return p.say(ctx, req, "Audit log is not available.", nil)
	}
	rows, err := p.auditLog.RecentAudit(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return p.say(ctx, req, "No admin actions recorded yet.", nil)
	}
	b := tgui.New().Title("🧾", fmt.Sprintf("Last %d actions", len(rows)))
	for _, e := range rows {
		mark := "✅"
		if !e.OK {
			mark = "❌"
		}
		who := strconv.FormatInt(e.ActorID, 10)
		if e.ActorUsername != "" {
			who = "@" + e.ActorUsername
		}
		line := fmt.Sprintf("%s %s %s %s %s", mark, e.At.Format("01-02 15:04"), who, e.Action, e.Target)
		b.Line(strings.TrimSpace(line))
	}
	return p.reply(ctx, req, b.Build())
}
