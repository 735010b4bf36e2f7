package router

import (
	"context"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	rtsup "chorebot/internal/runtime/supervisor"
	kit "chorebot/internal/transport"
	logx "chorebot/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Command  string

	// Args are positionals after flag extraction; RawArgs are all tokens.
	Args      []string
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Logger logx.Logger
}

func (r *Request) logger(def logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return def
}

// Transport is the slice of the chat adapter the router needs.
type Transport interface {
	kit.Sender
	Acknowledge(ctx context.Context, reactionID string, text string) error
}

// ReactionHandler consumes marker presses.
type ReactionHandler interface {
	HandleReaction(ctx context.Context, r *kit.Reaction) error
}

type ReactionFunc func(ctx context.Context, r *kit.Reaction) error

func (f ReactionFunc) HandleReaction(ctx context.Context, r *kit.Reaction) error { return f(ctx, r) }

type Config struct {
	Workers        int
	QueueSize      int
	CommandTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	return c
}

// Router runs commands on a bounded worker pool. Reactions are handed off on
// the dispatch loop itself.
type Router struct {
	cfg Config
	log logx.Logger
	tr  Transport

	mu       sync.RWMutex
	cmds     map[string]*Command // name and aliases
	list     []Command
	reaction ReactionHandler

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(cfg Config, log logx.Logger, tr Transport) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	r := &Router{
		cfg:  cfg,
		log:  log,
		tr:   tr,
		cmds: map[string]*Command{},
		jobs: make(chan func(), cfg.QueueSize),
	}
	r.SetRegistry(nil)
	return r
}

func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

// SetReactionHandler installs the consumer of marker presses.
func (r *Router) SetReactionHandler(h ReactionHandler) {
	r.mu.Lock()
	r.reaction = h
	r.mu.Unlock()
}

// SetRegistry replaces the command table. /help is always present.
func (r *Router) SetRegistry(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h", "start"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return r.reply(ctx, req, r.helpText(req.Args))
		},
	}
	all := append(append([]Command(nil), cmds...), helper)

	table := map[string]*Command{}
	list := make([]Command, 0, len(all))
	for i := range all {
		c := all[i]
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		cp := c
		table[name] = &cp
		list = append(list, cp)
	}
	// Aliases never shadow a real command name.
	for i := range list {
		for _, a := range list[i].Aliases {
			a = sanitizeTelegramCommand(a)
			if _, exists := table[a]; a == "" || exists {
				continue
			}
			table[a] = table[list[i].Name]
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	r.mu.Lock()
	r.cmds = table
	r.list = list
	r.mu.Unlock()
}

func (r *Router) commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.list...)
}

func (r *Router) lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cmds[name]
	return c, ok
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// DispatchLoop consumes updates until ctx ends or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "router"))),
		rtsup.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("dispatcher started", logx.Int("workers", r.cfg.Workers), logx.Int("job_queue_cap", cap(r.jobs)))

	if up, ok := r.tr.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(r.commands())
		sup.Go("telegram.menu.update", func(c context.Context) error {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		})
	}

	for i := 0; i < r.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		r.setSupervisor(sup, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	if up.Kind == kit.UpdateReaction {
		if ack := r.handleReaction(ctx, up); ack != nil && !r.tryEnqueue(ack) {
			ack()
		}
		return
	}
	job, busy := r.prepare(ctx, up)
	if job == nil {
		return
	}
	if !r.tryEnqueue(job) && busy != nil {
		busy()
	}
}

// prepare resolves an update into a job and what to do when the queue is full.
// A nil job means the update is ignored.
func (r *Router) prepare(ctx context.Context, up kit.Update) (job func(), busy func()) {
	if up.Kind == kit.UpdateMessage {
		return r.prepareMessage(ctx, up)
	}
	return nil, nil
}

func (r *Router) prepareMessage(ctx context.Context, up kit.Update) (func(), func()) {
	msg := up.Message
	if msg == nil {
		return nil, nil
	}
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return nil, nil
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return nil, nil
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, ok := r.lookup(word)
	if !ok {
		// Other bots' commands are common in groups; only answer in private.
		if msg.IsGroup {
			return nil, nil
		}
		return func() { _, _ = r.tr.SendText(ctx, chat, "Unknown command. Try /help", nil) }, nil
	}

	raw := parts[1:]
	pos, flags, bools := parseFlags(raw)
	rid := xid.New().String()
	req := &Request{
		Update:    up,
		Chat:      chat,
		FromID:    msg.FromID,
		FromName:  msg.FromName,
		Command:   cmd.Name,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.CommandTimeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	return func() { _ = final(ctx, req) },
		func() { _, _ = r.tr.SendText(ctx, chat, "Busy, try again in a moment.", nil) }
}

// handleReaction runs the reaction handler on the dispatch loop, so presses
// reach their reminder lanes in arrival order. The handler only looks the
// message up and queues the transition. The returned callback answer may run
// anywhere.
func (r *Router) handleReaction(ctx context.Context, up kit.Update) (ack func()) {
	re := up.Reaction
	if re == nil {
		return nil
	}
	r.mu.RLock()
	h := r.reaction
	r.mu.RUnlock()
	if h != nil {
		req := &Request{
			Update:  up,
			Chat:    kit.ChatTarget{ChatID: re.ChatID},
			FromID:  re.ReactorID,
			Command: "reaction:" + string(re.Marker),
			ReqID:   xid.New().String(),
		}
		final := Chain(func(c context.Context, _ *Request) error { return h.HandleReaction(c, re) },
			MWPanicRecover(r.log),
			MWRequestLog(r.log),
			MWTimeout(r.cfg.CommandTimeout),
		)
		_ = final(ctx, req)
	}
	return func() { r.ack(ctx, re.ID, "") }
}

func (r *Router) ack(ctx context.Context, id, text string) {
	if id == "" {
		return
	}
	if err := r.tr.Acknowledge(ctx, id, text); err != nil {
		r.log.Debug("acknowledge failed", logx.Err(err))
	}
}

func (r *Router) reply(ctx context.Context, req *Request, text string) error {
	_, err := r.tr.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (r *Router) helpText(args []string) string {
	cmds := r.commands()
	if len(args) > 0 {
		if w, ok := commandWord("/" + strings.TrimPrefix(args[0], "/")); ok {
			if c, ok := r.lookup(w); ok {
				return helpCommandHTML(*c)
			}
		}
		return helpUnknownHTML()
	}
	return helpTopHTML(cmds)
}
