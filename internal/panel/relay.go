package panel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/relay"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/telegram/router"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

func (p *Panel) cmdStart(ctx context.Context, req *router.Request) error {
	msg := tgui.New().
		Title("👋", "Relay control panel").
		Line("Pick an option from the keyboard below.").
		Markup(mainMenu(p.admins.IsOwner(req.FromID))).
		Build()
	return p.reply(ctx, req, msg)
}

func (p *Panel) cmdCancel(ctx context.Context, req *router.Request) error {
	return p.say(ctx, req, "Nothing to cancel.", nil)
}

func (p *Panel) menu(text string, kb func(running bool) *tele.ReplyMarkup) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		return p.say(ctx, req, text, kb(p.fwd.Status().Running))
	}
}

// chatSet is one of the two chat collections the panel edits.
type chatSet struct {
	noun   string
	emoji  string
	add    func(ctx context.Context, id int64) (bool, error)
	remove func(ctx context.Context, id int64) error
	list   func(ctx context.Context) ([]int64, error)
	kb     func() *tele.ReplyMarkup
}

func (p *Panel) sources() chatSet {
	return chatSet{noun: "source", emoji: "📤", add: p.reg.AddSource, remove: p.reg.RemoveSource, list: p.reg.ListSources, kb: sourcesMenu}
}

func (p *Panel) dests() chatSet {
	return chatSet{noun: "destination", emoji: "📥", add: p.reg.AddDestination, remove: p.reg.RemoveDestination, list: p.reg.ListDestinations, kb: destsMenu}
}

func (p *Panel) cmdAddSource(ctx context.Context, req *router.Request) error {
	return p.addChat(ctx, req, p.sources())
}

func (p *Panel) cmdRemoveSource(ctx context.Context, req *router.Request) error {
	return p.removeChat(ctx, req, p.sources())
}

func (p *Panel) cmdListSources(ctx context.Context, req *router.Request) error {
	return p.listChats(ctx, req, p.sources())
}

func (p *Panel) cmdAddDest(ctx context.Context, req *router.Request) error {
	return p.addChat(ctx, req, p.dests())
}

func (p *Panel) cmdRemoveDest(ctx context.Context, req *router.Request) error {
	return p.removeChat(ctx, req, p.dests())
}

func (p *Panel) cmdListDests(ctx context.Context, req *router.Request) error {
	return p.listChats(ctx, req, p.dests())
}

func (p *Panel) addChat(ctx context.Context, req *router.Request, set chatSet) error {
	id, err := relay.ParseChatID(firstArg(req))
	if err != nil {
		return p.say(ctx, req, "❌ Invalid chat id. Use digits with an optional leading '-'.", set.kb())
	}
	added, err := set.add(ctx, id)
	p.audit(ctx, req, set.noun+"_add", strconv.FormatInt(id, 10), err)
	if err != nil {
		return err
	}
	if !added {
		return p.say(ctx, req, fmt.Sprintf("ℹ️ %d is already a %s.", id, set.noun), set.kb())
	}
	req.Logger.Info(set.noun+" added", logx.Int64("chat", id))
	return p.say(ctx, req, fmt.Sprintf("✅ %s %d added.", capitalize(set.noun), id), set.kb())
}

func (p *Panel) removeChat(ctx context.Context, req *router.Request, set chatSet) error {
	id, err := relay.ParseChatID(firstArg(req))
	if err != nil {
		return p.say(ctx, req, "❌ Invalid chat id. Use digits with an optional leading '-'.", set.kb())
	}
	err = set.remove(ctx, id)
	p.audit(ctx, req, set.noun+"_del", strconv.FormatInt(id, 10), err)
	if errors.Is(err, relay.ErrNotFound) {
		return p.say(ctx, req, fmt.Sprintf("❌ %d is not a registered %s.", id, set.noun), set.kb())
	}
	if err != nil {
		return err
	}
	req.Logger.Info(set.noun+" removed", logx.Int64("chat", id))
	return p.say(ctx, req, fmt.Sprintf("✅ %s %d removed.", capitalize(set.noun), id), set.kb())
}

func (p *Panel) listChats(ctx context.Context, req *router.Request, set chatSet) error {
	ids, err := set.list(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return p.say(ctx, req, fmt.Sprintf("No %ss registered yet.", set.noun), set.kb())
	}
	b := tgui.New().Title(set.emoji, fmt.Sprintf("%ss (%d)", capitalize(set.noun), len(ids)))
	for _, id := range ids {
		line := tgui.Code(strconv.FormatInt(id, 10))
		if title := p.chatTitle(ctx, id); title != "" {
			line = tgui.JoinH(" ", line, tgui.Esc("("+title+")"))
		}
		b.RawLine(tgui.JoinH(" ", tgui.Esc("•"), line))
	}
	return p.reply(ctx, req, b.Markup(set.kb()).Build())
}

func (p *Panel) chatTitle(ctx context.Context, id int64) string {
	if p.resolver == nil {
		return ""
	}
	info, err := p.resolver.ResolveChat(ctx, id)
	if err != nil {
		p.log.Debug("resolve chat failed", logx.Int64("chat", id), logx.Err(err))
		return ""
	}
	switch {
	case info.Title != "":
		return info.Title
	case info.Username != "":
		return "@" + info.Username
	default:
		return info.FirstName
	}
}

func (p *Panel) cmdActivePosts(ctx context.Context, req *router.Request) error {
	posts, err := p.reg.ListActive(ctx)
	if err != nil {
		return err
	}
	cards := make([]postCard, 0, len(posts))
	for _, post := range posts {
		cards = append(cards, postCard{id: post.ID, link: post.Link, active: true})
	}
	return p.listPosts(ctx, req, "📗", "Active posts", cards)
}

func (p *Panel) cmdInactivePosts(ctx context.Context, req *router.Request) error {
	posts, err := p.reg.ListInactive(ctx)
	if err != nil {
		return err
	}
	cards := make([]postCard, 0, len(posts))
	for _, post := range posts {
		cards = append(cards, postCard{id: post.ID, link: post.Link})
	}
	return p.listPosts(ctx, req, "📕", "Inactive posts", cards)
}

func (p *Panel) listPosts(ctx context.Context, req *router.Request, emoji, title string, cards []postCard) error {
	if len(cards) == 0 {
		return p.say(ctx, req, "No "+strings.ToLower(title)+".", postsMenu())
	}
	head := tgui.New().Title(emoji, fmt.Sprintf("%s (%d)", title, len(cards))).Markup(postsMenu()).Build()
	if err := p.reply(ctx, req, head); err != nil {
		return err
	}
	for i, c := range cards {
		if i == maxListedPosts {
			return p.say(ctx, req, fmt.Sprintf("… and %d more. Use /toggle <id> for those.", len(cards)-i), nil)
		}
		if err := p.reply(ctx, req, c.message()); err != nil {
			return err
		}
	}
	return nil
}

type postCard struct {
	id     string
	link   string
	active bool
}

func (c postCard) message() tgui.Message {
	b := tgui.New().
		RawLine(tgui.JoinH(" ", tgui.Esc("🔖"), tgui.B("Post "+c.id))).
		RawLine(tgui.Link(tgui.TruncRunes(c.link, 64), c.link))
	if data, err := tgui.Data(callbackScope, "toggle", c.id); err == nil {
		b.Inline(tgui.NewInline().Row(tgui.Btn(toggleLabel(c.active), data)))
	}
	return b.Build()
}

func (p *Panel) cmdToggle(ctx context.Context, req *router.Request) error {
	id := firstArg(req)
	active, err := p.reg.Toggle(ctx, id)
	p.audit(ctx, req, "toggle", id, err)
	if errors.Is(err, relay.ErrNotFound) {
		return p.say(ctx, req, fmt.Sprintf("❌ Post %s not found.", id), postsMenu())
	}
	if err != nil {
		return err
	}
	p.publishToggle(id, active)
	return p.say(ctx, req, fmt.Sprintf("Post %s is now %s.", id, toggleLabel(active)), postsMenu())
}

func (p *Panel) cbToggle(ctx context.Context, req *router.Request, id string) error {
	active, err := p.reg.Toggle(ctx, id)
	p.audit(ctx, req, "toggle", id, err)
	if errors.Is(err, relay.ErrNotFound) {
		req.Answer("❌ Post not found.", true)
		return nil
	}
	if err != nil {
		return err
	}
	p.publishToggle(id, active)
	req.Answer(fmt.Sprintf("Post %s is now %s.", id, toggleLabel(active)), true)

	post, err := p.reg.Post(ctx, id)
	if err != nil {
		return err
	}
	cb := req.Update.Callback
	card := postCard{id: post.ID, link: post.Link, active: post.Active}
	if err := card.message().Edit(ctx, req.Adapter, kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}); err != nil {
		req.Logger.Warn("post card edit failed", logx.String("post", id), logx.Err(err))
	}
	return nil
}

func (p *Panel) cmdInterval(ctx context.Context, req *router.Request) error {
	running := p.fwd.Status().Running
	if len(req.Args) == 0 {
		s, err := p.reg.Settings(ctx)
		if err != nil {
			return err
		}
		return p.say(ctx, req, "⏰ Current interval: every "+s.String()+".", sendModeMenu(running))
	}

	s, err := parseInterval(req.Args)
	if err != nil {
		return p.say(ctx, req, "❌ "+err.Error()+". Usage: /interval <n> <second|minute|hour>", sendModeMenu(running))
	}
	err = p.reg.SetInterval(ctx, s)
	p.audit(ctx, req, "interval", s.String(), err)
	if err != nil {
		return err
	}
	req.Logger.Info("interval changed", logx.String("interval", s.String()))
	if err := p.fwd.Restart(ctx); err != nil {
		req.Logger.Warn("forwarder restart failed", logx.Err(err))
		return p.say(ctx, req,
			"⚠️ Interval saved as every "+s.String()+", but forwarding could not restart and is stopped. Use /forward to start it again.",
			sendModeMenu(p.fwd.Status().Running))
	}
	return p.say(ctx, req, "✅ Forwarding every "+s.String()+".", sendModeMenu(running))
}

// parseInterval accepts "<n> <unit>" in either order.
func parseInterval(args []string) (relay.Settings, error) {
	if len(args) != 2 {
		return relay.Settings{}, errors.New("expected a number and a unit")
	}
	numArg, unitArg := args[0], args[1]
	if _, err := strconv.Atoi(numArg); err != nil {
		numArg, unitArg = unitArg, numArg
	}
	n, err := strconv.Atoi(numArg)
	if err != nil || n <= 0 {
		return relay.Settings{}, fmt.Errorf("%q is not a positive number", numArg)
	}
	u, err := relay.ParseUnit(unitArg)
	if err != nil {
		return relay.Settings{}, fmt.Errorf("unknown unit %q", unitArg)
	}
	return relay.Settings{Interval: n, Unit: u}, nil
}

func (p *Panel) cmdForward(ctx context.Context, req *router.Request) error {
	_, started := p.fwd.Start()
	p.audit(ctx, req, "forward_start", "", nil)
	if !started {
		return p.say(ctx, req, "ℹ️ Forwarding is already running.", sendModeMenu(true))
	}
	s, err := p.reg.Settings(ctx)
	if err != nil {
		return err
	}
	return p.say(ctx, req, "▶️ Forwarding started, every "+s.String()+".", sendModeMenu(true))
}

func (p *Panel) cmdStop(ctx context.Context, req *router.Request) error {
	if !p.fwd.Status().Running {
		return p.say(ctx, req, "ℹ️ Forwarding is not running.", sendModeMenu(false))
	}
	err := p.fwd.Stop(ctx)
	p.audit(ctx, req, "forward_stop", "", err)
	if err != nil {
		return err
	}
	return p.say(ctx, req, "🛑 Forwarding stopped.", sendModeMenu(false))
}

func (p *Panel) cmdStatus(ctx context.Context, req *router.Request) error {
	msg, err := p.StatusMessage(ctx)
	if err != nil {
		return err
	}
	return p.reply(ctx, req, msg)
}

func firstArg(req *router.Request) string {
	if len(req.Args) == 0 {
		return ""
	}
	return strings.TrimSpace(req.Args[0])
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
