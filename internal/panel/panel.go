// Package panel is the admin control surface of the relay: slash commands,
// reply-keyboard menus and inline post toggles, all registered on the
// Telegram command router.
package panel

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	"relaybot/internal/task/forwarder"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

const callbackScope = "relay"

// maxListedPosts bounds how many post cards one listing sends.
const maxListedPosts = 30

// Forwarder is the control surface of the forwarding loop.
type Forwarder interface {
	Start() (forwarder.Status, bool)
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Status() forwarder.Status
}

// Admins manages who may use the panel. admin.Gate satisfies it.
type Admins interface {
	IsOwner(userID int64) bool
	Add(ctx context.Context, userID, by int64, username string) (bool, error)
	Remove(ctx context.Context, userID int64) (bool, error)
	List(ctx context.Context) ([]storage.Admin, error)
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

type Deps struct {
	Registry  *relay.Registry
	Forwarder Forwarder
	Admins    Admins
	Audit     AuditLog
	// Resolver is optional; when set, chat listings show titles.
	Resolver kit.ChatResolver
	// Bus is optional; toggles are published on it.
	Bus eventbus.Bus
	Log logx.Logger
}

type Panel struct {
	reg      *relay.Registry
	fwd      Forwarder
	admins   Admins
	auditLog AuditLog
	resolver kit.ChatResolver
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time
}

func New(d Deps) *Panel {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Panel{
		reg:      d.Registry,
		fwd:      d.Forwarder,
		admins:   d.Admins,
		auditLog: d.Audit,
		resolver: d.Resolver,
		bus:      d.Bus,
		log:      log.With(logx.String("comp", "panel")),
		now:      time.Now,
	}
}

// Register installs every command, button and callback on m.
func (p *Panel) Register(m *router.CommandManager) {
	m.SetRegistry(p.commands(), p.buttons(), p.callbacks())
	m.SetCancelTexts(CancelLabel)
}

func (p *Panel) commands() []router.Command {
	const chatIDPrompt = "Send the chat id (digits with an optional leading '-', e.g. -1001234567890)."
	cancel := cancelMenu()
	return []router.Command{
		{Route: "start", Aliases: []string{"menu"}, Description: "open the main menu", Access: router.AccessAdmin, Handle: p.cmdStart},
		{Route: "cancel", Description: "cancel the current prompt", Access: router.AccessEveryone, Handle: p.cmdCancel},

		{Route: "sources", Description: "list source chats", Access: router.AccessAdmin, Handle: p.cmdListSources},
		{Route: "source_add", Description: "register a source chat", Usage: "/source_add <chat id>", Access: router.AccessAdmin,
			Prompt: "📤 " + chatIDPrompt, PromptMarkup: cancel, MinArgs: 1, Handle: p.cmdAddSource},
		{Route: "source_del", Description: "remove a source chat", Usage: "/source_del <chat id>", Access: router.AccessAdmin,
			Prompt: "📤 " + chatIDPrompt, PromptMarkup: cancel, MinArgs: 1, Handle: p.cmdRemoveSource},

		{Route: "dests", Description: "list destination chats", Access: router.AccessAdmin, Handle: p.cmdListDests},
		{Route: "dest_add", Description: "register a destination chat", Usage: "/dest_add <chat id>", Access: router.AccessAdmin,
			Prompt: "📥 " + chatIDPrompt, PromptMarkup: cancel, MinArgs: 1, Handle: p.cmdAddDest},
		{Route: "dest_del", Description: "remove a destination chat", Usage: "/dest_del <chat id>", Access: router.AccessAdmin,
			Prompt: "📥 " + chatIDPrompt, PromptMarkup: cancel, MinArgs: 1, Handle: p.cmdRemoveDest},

		{Route: "posts", Description: "list active posts", Access: router.AccessAdmin, Handle: p.cmdActivePosts},
		{Route: "posts_off", Description: "list inactive posts", Access: router.AccessAdmin, Handle: p.cmdInactivePosts},
		{Route: "toggle", Description: "switch a post on or off", Usage: "/toggle <post id>", Access: router.AccessAdmin,
			Prompt: "🔖 Send the post id.", PromptMarkup: cancel, MinArgs: 1, Handle: p.cmdToggle},

		{Route: "interval", Description: "show or set the broadcast interval", Usage: "/interval [<n> <second|minute|hour>]",
			Access: router.AccessAdmin, Handle: p.cmdInterval},
		{Route: "interval_set", Access: router.AccessAdmin, Hidden: true,
			Prompt: "⏱ Send the number of units (e.g. 5).", PromptMarkup: cancel, MinArgs: 2, Handle: p.cmdInterval},
		{Route: "forward", Description: "start forwarding", Access: router.AccessAdmin, Handle: p.cmdForward},
		{Route: "stop", Description: "stop forwarding", Access: router.AccessAdmin, Handle: p.cmdStop},
		{Route: "status", Aliases: []string{"stats"}, Description: "show relay status", Access: router.AccessAdmin, Handle: p.cmdStatus},

		{Route: "admins", Description: "list admins", Access: router.AccessAdmin, Handle: p.cmdListAdmins},
		{Route: "admin_add", Description: "grant admin access", Usage: "/admin_add <user id> [username]", Access: router.AccessOwner,
			Prompt: "👤 Send the user id.", PromptMarkup: cancel, MinArgs: 1, Handle: p.cmdAddAdmin},
		{Route: "admin_del", Description: "revoke admin access", Usage: "/admin_del <user id>", Access: router.AccessOwner,
			Prompt: "👤 Send the user id.", PromptMarkup: cancel, MinArgs: 1, Handle: p.cmdRemoveAdmin},
		{Route: "audit", Description: "show recent admin actions", Usage: "/audit [n]", Access: router.AccessOwner, Handle: p.cmdAudit},

		{Route: "menu_sources", Access: router.AccessAdmin, Hidden: true, Handle: p.menu("📤 Sources: pick an action.", func(bool) *tele.ReplyMarkup { return sourcesMenu() })},
		{Route: "menu_dests", Access: router.AccessAdmin, Hidden: true, Handle: p.menu("📥 Destinations: pick an action.", func(bool) *tele.ReplyMarkup { return destsMenu() })},
		{Route: "menu_posts", Access: router.AccessAdmin, Hidden: true, Handle: p.menu("📋 Posts: pick a list.", func(bool) *tele.ReplyMarkup { return postsMenu() })},
		{Route: "menu_send", Access: router.AccessAdmin, Hidden: true, Handle: p.menu("⏰ Send mode: pick the interval unit.", sendModeMenu)},
		{Route: "menu_admin", Access: router.AccessOwner, Hidden: true, Handle: p.menu("👑 Admin panel.", func(bool) *tele.ReplyMarkup { return adminMenu() })},
	}
}

func (p *Panel) buttons() []router.Button {
	return []router.Button{
		{Text: btnSources, Command: "menu_sources"},
		{Text: btnDests, Command: "menu_dests"},
		{Text: btnPosts, Command: "menu_posts"},
		{Text: btnSendMode, Command: "menu_send"},
		{Text: btnAdminPanel, Command: "menu_admin"},

		{Text: btnAddSource, Command: "source_add"},
		{Text: btnListSources, Command: "sources"},
		{Text: btnDelSource, Command: "source_del"},

		{Text: btnAddDest, Command: "dest_add"},
		{Text: btnListDests, Command: "dests"},
		{Text: btnDelDest, Command: "dest_del"},

		{Text: btnSeconds, Command: "interval_set", Args: []string{string(relay.UnitSecond)}},
		{Text: btnMinutes, Command: "interval_set", Args: []string{string(relay.UnitMinute)}},
		{Text: btnHours, Command: "interval_set", Args: []string{string(relay.UnitHour)}},
		{Text: btnCurrent, Command: "interval"},
		{Text: btnStartFwd, Command: "forward"},
		{Text: btnStopFwd, Command: "stop"},

		{Text: btnActive, Command: "posts"},
		{Text: btnInactive, Command: "posts_off"},

		{Text: btnAddAdmin, Command: "admin_add"},
		{Text: btnListAdmins, Command: "admins"},
		{Text: btnDelAdmin, Command: "admin_del"},
		{Text: btnStats, Command: "status"},

		{Text: btnBack, Command: "start"},
	}
}

func (p *Panel) callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: callbackScope, Action: "toggle", Access: router.AccessAdmin, Handle: p.cbToggle},
	}
}

func (p *Panel) reply(ctx context.Context, req *router.Request, msg tgui.Message) error {
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

// say sends one escaped line with an optional keyboard.
func (p *Panel) say(ctx context.Context, req *router.Request, text string, rm *tele.ReplyMarkup) error {
	return p.reply(ctx, req, tgui.New().Line(text).Markup(rm).Build())
}

func (p *Panel) audit(ctx context.Context, req *router.Request, action, target string, err error) {
	if p.auditLog == nil {
		return
	}
	e := storage.AuditEntry{
		At:            p.now().UTC(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        action,
		Target:        target,
		OK:            err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := p.auditLog.AppendAudit(ctx, e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

func (p *Panel) publishToggle(id string, active bool) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: eventbus.PostToggled, Data: relay.Toggled{ID: id, Active: active}})
}
