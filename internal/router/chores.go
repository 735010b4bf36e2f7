package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"

	"chorebot/internal/chore"
	"chorebot/internal/storage"
	logx "chorebot/pkg/logx"
	"chorebot/pkg/tgui"
)

// Chores is the command side of the lifecycle engine.
type Chores interface {
	Create(ctx context.Context, req chore.CreateRequest) (*storage.Reminder, error)
	List(ctx context.Context, ownerID int64) ([]storage.Reminder, error)
	Delete(ctx context.Context, ownerID int64, chore string) error
	Pause(ctx context.Context, req chore.PauseRequest) (*storage.Reminder, time.Duration, error)
	Location() *time.Location
}

const (
	usageSchedule = "/schedule <chore> <daily|weekly|monthly> <HH:MM> [day] [--verify <chat_id>]"
	usageDelete   = "/delete <chore>"
	usagePause    = "/pause <chore> [hours|ISO-8601 duration]"
)

// UseChores installs the chore commands next to /help.
func (r *Router) UseChores(ch Chores) {
	r.SetRegistry([]Command{
		{
			Name:        "schedule",
			Description: "Schedule a recurring chore reminder",
			Usage:       usageSchedule + "\nday: 0-6 (Monday=0) for weekly, 1-31 for monthly",
			Handle:      r.cmdSchedule(ch),
		},
		{
			Name:        "reminders",
			Aliases:     []string{"list"},
			Description: "List your chore reminders",
			Usage:       "/reminders",
			Handle:      r.cmdReminders(ch),
		},
		{
			Name:        "delete",
			Description: "Delete one of your chore reminders",
			Usage:       usageDelete,
			Handle:      r.cmdDelete(ch),
		},
		{
			Name:        "pause",
			Description: "Push a reminder back (default 24 hours)",
			Usage:       usagePause + "\ne.g. /pause dishes 48 or /pause dishes P2D",
			Handle:      r.cmdPause(ch),
		},
	})
}

func (r *Router) cmdSchedule(ch Chores) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) < 3 {
			return r.usage(ctx, req, usageSchedule)
		}
		cr := chore.CreateRequest{
			OwnerID: req.FromID,
			ChatID:  req.Chat.ChatID,
			Chore:   req.Args[0],
			Kind:    req.Args[1],
			Time:    req.Args[2],
		}
		if len(req.Args) > 3 {
			day, err := strconv.Atoi(req.Args[3])
			if err != nil {
				// Out of range for every kind; the engine explains the format.
				day = -1
			}
			cr.Day, cr.HasDay = day, true
		}
		if v, ok := req.Flags["verify"]; ok {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id == 0 {
				return r.reply(ctx, req, "Invalid --verify chat id. Use the numeric chat id, e.g. <code>--verify -1001234567890</code>.")
			}
			cr.VerifyChatID = id
		} else if req.BoolFlags["verify"] {
			return r.usage(ctx, req, usageSchedule)
		}

		rem, err := ch.Create(ctx, cr)
		if err != nil {
			return r.fail(ctx, req, err, "Error scheduling reminder.")
		}
		return r.reply(ctx, req, chore.CreatedText(rem, ch.Location()))
	}
}

func (r *Router) cmdReminders(ch Chores) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		rs, err := ch.List(ctx, req.FromID)
		if err != nil {
			return r.fail(ctx, req, err, "Error listing reminders.")
		}
		return r.reply(ctx, req, chore.ListText(rs, ch.Location()))
	}
}

func (r *Router) cmdDelete(ch Chores) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) < 1 {
			return r.usage(ctx, req, usageDelete)
		}
		name := strings.Join(req.Args, " ")
		if err := ch.Delete(ctx, req.FromID, name); err != nil {
			return r.fail(ctx, req, err, "Error deleting reminder.")
		}
		return r.reply(ctx, req, chore.DeletedText(name))
	}
}

func (r *Router) cmdPause(ch Chores) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) < 1 {
			return r.usage(ctx, req, usagePause)
		}
		pr := chore.PauseRequest{OwnerID: req.FromID, Chore: req.Args[0]}
		if len(req.Args) > 1 {
			d, err := parsePauseDuration(req.Args[1])
			if err != nil {
				return r.reply(ctx, req, "Please specify a positive number of hours to pause, or an ISO-8601 duration such as <code>P2D</code>.")
			}
			pr.Duration, pr.HasDuration = d, true
		}
		rem, d, err := ch.Pause(ctx, pr)
		if err != nil {
			return r.fail(ctx, req, err, "Error pausing reminder.")
		}
		return r.reply(ctx, req, chore.PausedText(rem, d, ch.Location()))
	}
}

// parsePauseDuration accepts hours ("24", "1.5"), ISO-8601 ("PT36H", "P2D")
// or Go syntax ("90m").
func parsePauseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if h, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(h) || math.IsInf(h, 0) {
			return 0, fmt.Errorf("invalid hours %q", s)
		}
		return time.Duration(h * float64(time.Hour)), nil
	}
	if up := strings.ToUpper(s); strings.HasPrefix(up, "P") {
		d, err := duration.Parse(up)
		if err != nil {
			return 0, err
		}
		return d.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}

func (r *Router) usage(ctx context.Context, req *Request, usage string) error {
	return r.reply(ctx, req, "Usage: "+tgui.Code(usage).String())
}

// fail answers the user and decides whether the handler failed. Bad input is
// not a failure.
func (r *Router) fail(ctx context.Context, req *Request, err error, fallback string) error {
	_ = r.reply(ctx, req, chore.UserMessage(err, fallback))
	var ve *chore.ValidationError
	var nf *chore.NotFoundError
	if errors.As(err, &ve) || errors.As(err, &nf) {
		req.logger(r.log).Debug("command rejected", logx.Err(err))
		return nil
	}
	return err
}
