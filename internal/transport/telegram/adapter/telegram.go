package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "chorebot/internal/runtime/supervisor"
	kit "chorebot/internal/transport"
	logx "chorebot/pkg/logx"
	"chorebot/pkg/tgui"
)

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter
	admins  *adminCache
	names   nameCache

	// peerMu guards the peer fields of cfg, which change on reload.
	peerMu sync.RWMutex

	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop, the drop reporter and the stop watcher.
	sup *rtsup.Supervisor

	// droppedUpdates counts updates the consumer was too slow to take.
	droppedUpdates uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	cfg = cfg.withDefaults()
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendBurst),
		admins:  newAdminCache(cfg.AdminsCacheTTL, botAdmins(b)),
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

// DroppedUpdates is the number of updates not yet reported as dropped.
func (a *Adapter) DroppedUpdates() uint64 { return atomic.LoadUint64(&a.droppedUpdates) }

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.names.remember(m.Sender)
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				FromName:     displayName(m.Sender),
				Text:         m.Text,
				IsGroup:      isGroupChat(m.Chat),
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Sender == nil || cb.Message == nil || cb.Message.Chat == nil {
			return nil
		}
		marker, ok := parseMarkerData(cb.Data)
		if !ok {
			// Not ours; clear the client spinner.
			return c.Respond()
		}
		a.names.remember(cb.Sender)
		a.sendUpdate(kit.Update{Kind: kit.UpdateReaction, Reaction: a.reactionFrom(cb, marker)})
		return nil
	})

	// Admin lists change when members are promoted or leave.
	a.bot.Handle(tele.OnChatMember, func(c tele.Context) error {
		if ch := c.Chat(); ch != nil {
			a.admins.forget(ch.ID)
		}
		return nil
	})
}

func (a *Adapter) reactionFrom(cb *tele.Callback, marker kit.Marker) *kit.Reaction {
	m := cb.Message
	r := &kit.Reaction{
		ID:               cb.ID,
		ChatID:           m.Chat.ID,
		MessageID:        m.ID,
		Marker:           marker,
		ReactorID:        cb.Sender.ID,
		ReactorName:      displayName(cb.Sender),
		ReactorIsBot:     cb.Sender.IsBot,
		MentionedUserIDs: mentionedUsers(m),
	}
	if me := a.me(); me != nil && m.Sender != nil {
		r.AuthorIsSystem = m.Sender.ID == me.ID
	}
	r.ReactorRoles = a.rolesFor(m.Chat.ID, cb.Sender.ID)
	return r
}

func (a *Adapter) me() *tele.User {
	if a.bot == nil {
		return nil
	}
	return a.bot.Me
}

func (a *Adapter) rolesFor(chatID, userID int64) []string {
	a.peerMu.RLock()
	role, ids, admins := a.cfg.PeerRole, a.cfg.PeerUserIDs, a.cfg.AdminsArePeers
	a.peerMu.RUnlock()

	if slices.Contains(ids, userID) {
		return []string{role}
	}
	if !admins || chatID > 0 || a.admins == nil {
		return nil
	}
	ok, err := a.admins.isAdmin(chatID, userID)
	if err != nil {
		a.log.Warn("admin lookup failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	if ok {
		return []string{role}
	}
	return nil
}

// ApplyPeers replaces who is granted the peer role.
func (a *Adapter) ApplyPeers(role string, userIDs []int64, adminsArePeers bool) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = "peer"
	}
	a.peerMu.Lock()
	a.cfg.PeerRole = role
	a.cfg.PeerUserIDs = slices.Clone(userIDs)
	a.cfg.AdminsArePeers = adminsArePeers
	a.peerMu.Unlock()
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; if it returns early, poll again.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	// telebot.stop_on_cancel stops the poller.
	sup.Cancel()

	// Never hold shutdown on a pending getUpdates long-poll.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// wait blocks on the outbound rate limiter.
func (a *Adapter) wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.limiter == nil {
		return ctx.Err()
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := a.wait(ctx); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// AddMarkers attaches one inline button per marker to an already-sent message.
func (a *Adapter) AddMarkers(ctx context.Context, ref kit.MessageRef, markers ...kit.Marker) error {
	if len(markers) == 0 {
		return nil
	}
	kb, err := markerKeyboard(markers...)
	if err != nil {
		return err
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err = a.bot.EditReplyMarkup(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}, kb)
	return err
}

// Mention links the user by id. The display name is the last one seen, if any.
func (a *Adapter) Mention(userID int64) string {
	name, ok := a.names.lookup(userID)
	if !ok {
		name = "user " + formatID(userID)
	}
	return tgui.Mention(name, userID).String()
}

func (a *Adapter) Acknowledge(ctx context.Context, reactionID string, text string) error {
	if reactionID == "" {
		return nil
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: reactionID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands publishes the command menu. It only calls Telegram when
// the list changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		out = append(out, tele.Command{Text: c.Command, Description: tgui.TruncRunes(d, 256)})
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		if len(out) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}
