package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
	AccessOwner
)

func (a Access) String() string {
	switch a {
	case AccessAdmin:
		return "admin"
	case AccessOwner:
		return "owner"
	default:
		return "everyone"
	}
}

// Authorizer decides who may run admin and owner commands.
type Authorizer interface {
	IsAuthorized(ctx context.Context, userID int64) bool
	IsOwner(userID int64) bool
}

type Command struct {
	// Route is the command name without the slash, e.g. "source_add".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access

	// Hidden commands are reachable from buttons and by name but are left
	// out of help and the Telegram menu.
	Hidden bool

	// Prompt is asked when the command arrives with fewer than MinArgs
	// arguments. The user's next message in the same chat supplies them.
	Prompt       string
	PromptMarkup any
	MinArgs      int

	Timeout time.Duration
	Handle  HandlerFunc
}

// Button maps a reply-keyboard label onto a command.
type Button struct {
	Text    string
	Command string
	Args    []string
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button data of the form "<scope>:<action>[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// ChannelPostFunc receives channel posts. It runs on a dispatcher worker.
type ChannelPostFunc func(ctx context.Context, msg kit.Message)

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	Payload      string
	ReqID        string

	Adapter kit.Adapter
	Logger  logx.Logger

	cbText  string
	cbAlert bool
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// Answer sets the toast shown for a callback request once the handler returns.
func (r *Request) Answer(text string, alert bool) {
	r.cbText = text
	r.cbAlert = alert
}

// Options tune the dispatcher.
type Options struct {
	Workers   int
	QueueSize int
	PromptTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.PromptTTL <= 0 {
		o.PromptTTL = 5 * time.Minute
	}
	return o
}

type CommandManager struct {
	mu       sync.RWMutex
	commands map[string]*Command
	alias    map[string]*Command
	buttons  map[string]Button
	ordered  []Command

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute

	onChannelPost ChannelPostFunc
	cancelTexts   map[string]struct{}

	log     logx.Logger
	adapter kit.Adapter
	auth    Authorizer
	opts    Options
	prompts *promptBook

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, auth Authorizer, opts Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts = opts.withDefaults()
	return &CommandManager{
		commands:  map[string]*Command{},
		alias:     map[string]*Command{},
		buttons:   map[string]Button{},
		callbacks: map[string]map[string]CallbackRoute{},
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		auth:      auth,
		opts:      opts,
		prompts:   newPromptBook(opts.PromptTTL),
		jobs:      make(chan func(), opts.QueueSize),
	}
}

// Supervisor returns the dispatcher's supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// OnChannelPost installs the channel post consumer.
func (m *CommandManager) OnChannelPost(fn ChannelPostFunc) {
	m.mu.Lock()
	m.onChannelPost = fn
	m.mu.Unlock()
}

// SetCancelTexts lists the messages that abort a pending prompt, besides /cancel.
func (m *CommandManager) SetCancelTexts(texts ...string) {
	set := make(map[string]struct{}, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	m.mu.Lock()
	m.cancelTexts = set
	m.mu.Unlock()
}

func (m *CommandManager) SetRegistry(cmds []Command, buttons []Button, cbs []CallbackRoute) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "/help [command]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, m.helpText(ctx, req.FromID, req.Args), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	}
	cmds = append(cmds, helper)

	commands := map[string]*Command{}
	alias := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		route := sanitizeTelegramCommand(c.Route)
		if route == "" || c.Handle == nil {
			continue
		}
		if _, dup := commands[route]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", route))
			continue
		}
		cc := c
		cc.Route = route
		commands[route] = &cc
		ordered = append(ordered, cc)
		for _, a := range c.Aliases {
			a = sanitizeTelegramCommand(a)
			if a == "" || a == route {
				continue
			}
			if _, exists := alias[a]; !exists {
				alias[a] = &cc
			}
		}
	}

	btns := map[string]Button{}
	for _, b := range buttons {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		if _, ok := commands[b.Command]; !ok {
			m.log.Warn("button points at unknown command", logx.String("button", text), logx.String("cmd", b.Command))
			continue
		}
		btns[text] = b
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		s := strings.TrimSpace(r.Scope)
		a := strings.TrimSpace(r.Action)
		if s == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[s] == nil {
			cb[s] = map[string]CallbackRoute{}
		}
		cb[s][a] = r
	}

	m.mu.Lock()
	m.commands = commands
	m.alias = alias
	m.buttons = btns
	m.ordered = ordered
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()
}

// PublishMenu pushes the command list to the Telegram menu when the
// adapter supports it.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := buildTelegramMenuCommands(m.ordered)
	m.mu.RUnlock()
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(cctx, menu)
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.opts.Workers

	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log))
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			m.log.Debug("command worker started", logx.Int("worker", idx))
			defer m.log.Debug("command worker stopped", logx.Int("worker", idx))
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	case kit.UpdateChannelPost:
		m.routeChannelPost(root, up)
	}
}

func (m *CommandManager) routeChannelPost(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	m.mu.RLock()
	fn := m.onChannelPost
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	msg := *up.Message
	if !m.tryEnqueue(func() { fn(root, msg) }) {
		m.log.Warn("channel post dropped: queue full", logx.Int64("chat_id", msg.ChatID), logx.Int("message_id", msg.ID))
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	key := promptKey{chatID: msg.ChatID, userID: msg.FromID}

	m.mu.RLock()
	_, isCancel := m.cancelTexts[text]
	btn, isButton := m.buttons[text]
	m.mu.RUnlock()

	if isCancel || text == "/cancel" || strings.HasPrefix(text, "/cancel@") {
		if m.prompts.Cancel(key) {
			m.send(root, chat, "Cancelled.", nil)
			return
		}
		if isCancel {
			m.send(root, chat, "Nothing to cancel.", nil)
			return
		}
	}

	switch {
	case strings.HasPrefix(text, "/"):
		// A new command abandons any pending prompt.
		m.prompts.Cancel(key)
		parts := tokenizeCommandLine(text)
		if len(parts) == 0 {
			return
		}
		word := strings.TrimPrefix(parts[0], "/")
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		cmd, ok := m.lookup(strings.ToLower(word))
		if !ok {
			if !msg.IsGroup {
				m.send(root, chat, "Unknown command. Try /help", nil)
			}
			return
		}
		m.dispatch(root, up, cmd, parts[1:])
	case isButton:
		m.prompts.Cancel(key)
		cmd, ok := m.lookup(btn.Command)
		if !ok {
			return
		}
		m.dispatch(root, up, cmd, append([]string(nil), btn.Args...))
	default:
		p, ok := m.prompts.Take(key)
		if !ok {
			return
		}
		cmd, ok := m.lookup(p.command)
		if !ok {
			return
		}
		args := append(append([]string(nil), p.args...), tokenizeCommandLine(text)...)
		m.enqueueCommand(root, up, cmd, args)
	}
}

func (m *CommandManager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.commands[word]; ok {
		return *c, true
	}
	if c, ok := m.alias[word]; ok {
		return *c, true
	}
	return Command{}, false
}

// dispatch checks access, then either runs the command or opens its prompt.
func (m *CommandManager) dispatch(root context.Context, up kit.Update, cmd Command, args []string) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if !m.allowed(root, cmd.Access, msg.FromID) {
		m.log.Info("command denied",
			logx.String("cmd", cmd.Route),
			logx.Int64("from_id", msg.FromID),
			logx.String("access", cmd.Access.String()),
		)
		m.send(root, chat, "⛔ You are not allowed to use this command.", nil)
		return
	}
	if cmd.Prompt != "" && len(args) < cmd.MinArgs {
		m.prompts.Begin(promptKey{chatID: msg.ChatID, userID: msg.FromID}, pendingPrompt{command: cmd.Route, args: args})
		var opt *kit.SendOptions
		if cmd.PromptMarkup != nil {
			opt = &kit.SendOptions{ReplyMarkupAdapter: cmd.PromptMarkup}
		}
		m.send(root, chat, cmd.Prompt, opt)
		return
	}
	m.enqueueCommand(root, up, cmd, args)
}

func (m *CommandManager) allowed(ctx context.Context, a Access, userID int64) bool {
	switch a {
	case AccessEveryone:
		return true
	case AccessOwner:
		return m.auth != nil && m.auth.IsOwner(userID)
	default:
		return m.auth != nil && m.auth.IsAuthorized(ctx, userID)
	}
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, args []string) {
	msg := up.Message
	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Route,
		Args:         args,
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	final := wrap(cmd.Handle, m.log, cmd.Timeout)

	if !m.tryEnqueue(func() {
		if err := final(root, req); err != nil && root.Err() == nil {
			m.send(root, req.Chat, "⚠️ "+err.Error(), nil)
		}
	}) {
		m.send(root, req.Chat, "Busy, try again.", nil)
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	if up.Callback == nil {
		return
	}
	cb := up.Callback
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	scope, action := parts[0], parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.cbMu.RLock()
	route, ok := m.callbacks[scope][action]
	m.cbMu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "", false)
		return
	}
	if !m.allowed(root, route.Access, cb.FromID) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "⛔ Not allowed", true)
		return
	}

	key := "cb:" + scope + ":" + action
	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:  cb.FromID,
		Command: key,
		Payload: payload,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", key),
		),
	}

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := wrap(h, m.log, route.Timeout)

	if !m.tryEnqueue(func() {
		if err := final(root, req); err != nil && req.cbText == "" {
			req.Answer("⚠️ "+err.Error(), true)
		}
		_ = m.adapter.AnswerCallback(root, cb.ID, req.cbText, req.cbAlert)
	}) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "Busy, try again.", false)
	}
}

func (m *CommandManager) send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) {
	if _, err := m.adapter.SendText(ctx, to, text, opt); err != nil && ctx.Err() == nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
