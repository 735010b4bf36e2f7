package chore

import (
	"fmt"
	"strings"
	"time"

	"chorebot/internal/schedule"
	"chorebot/internal/storage"
	"chorebot/pkg/tgui"
)

// TimeLayout is how fire times are shown to users.
const TimeLayout = "2006-01-02 15:04:05"

// Messages are sent with HTML markup; chore names are escaped.
func esc(s string) string { return tgui.Esc(s).String() }

func reminderText(owner, chore string) string {
	return fmt.Sprintf("%s Reminder: Time to do your chore: %s! React with 👍 when done or 👎 if you need to postpone.",
		owner, esc(chore))
}

func followupText(owner, chore string) string {
	return fmt.Sprintf("⏰ Hey %s, just checking in!\n\n"+
		"Don't forget to complete your chore: '%s'\n"+
		"React with 👍 when you're done, and we'll get it verified! 💪", owner, esc(chore))
}

func verificationText(peers, owner, chore string) string {
	return fmt.Sprintf("✨ Let's verify this completion! %s\n\n"+
		"Has %s completed their chore: '%s'?\n"+
		"Please react with 👍 to confirm or 👎 if it's not done correctly!\n\n"+
		"Let's keep each other accountable! 💪", peers, owner, esc(chore))
}

func postponeText(owner string, delay time.Duration, next time.Time) string {
	return fmt.Sprintf("⏰ No worries, %s! Your reminder has been postponed by %s.\nNext reminder: %s",
		owner, humanDuration(delay), next.Format(TimeLayout))
}

func verifiedText(owner, peer string, next time.Time) string {
	return fmt.Sprintf("🎉 Awesome! %s's task completion has been verified by %s!\n"+
		"Next reminder scheduled for: %s\n"+
		"Keep up the great work! 💪", owner, peer, next.Format(TimeLayout))
}

func rejectionText(owner, peer string) string {
	return fmt.Sprintf("👀 Hmm, it looks like the task needs a bit more attention, %s!\n"+
		"A peer (%s) has indicated it's not quite complete.\n"+
		"Please make sure everything is done properly and try again! 💪\n"+
		"React with 👍 when done!", owner, peer)
}

const (
	completionFailedText   = "❌ Error processing completion. Please try again or contact an administrator."
	verificationFailedText = "❌ Error processing verification. Please try again or contact an administrator."
	reminderFailedText     = "❌ Error sending this reminder. It will be retried; contact an administrator if this keeps happening."
)

func failureNotice(base, ref string) string {
	if ref == "" {
		return base
	}
	return fmt.Sprintf("%s (ref %s)", base, ref)
}

// CreatedText is the reply to a successful /schedule.
func CreatedText(r *storage.Reminder, loc *time.Location) string {
	return fmt.Sprintf("✅ Reminder '%s' scheduled!\n📅 Schedule: %s\n⏰ Next reminder: %s",
		esc(r.ChoreName), describe(r), r.NextFireAt.In(loc).Format(TimeLayout))
}

// ListText renders the owner's reminders.
func ListText(rs []storage.Reminder, loc *time.Location) string {
	if len(rs) == 0 {
		return "You have no active reminders."
	}
	var b strings.Builder
	b.WriteString("Your active reminders:\n\n")
	for i := range rs {
		r := &rs[i]
		fmt.Fprintf(&b, "• %s\n  Schedule: %s\n  Next reminder: %s\n\n",
			esc(r.ChoreName), describe(r), r.NextFireAt.In(loc).Format(TimeLayout))
	}
	return strings.TrimRight(b.String(), "\n")
}

// DeletedText is the reply to a successful /delete.
func DeletedText(chore string) string {
	return "✅ Successfully deleted reminder: " + esc(chore)
}

// PausedText is the reply to a successful /pause.
func PausedText(r *storage.Reminder, d time.Duration, loc *time.Location) string {
	return fmt.Sprintf("✅ Reminder '%s' paused for %s.\n⏰ Next reminder: %s",
		esc(r.ChoreName), humanDuration(d), r.NextFireAt.In(loc).Format(TimeLayout))
}

// WeekdayHelp lists the weekday numbers accepted by weekly schedules.
func WeekdayHelp() string {
	var b strings.Builder
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&b, "%d = %s\n", i, schedule.WeekdayName(i))
	}
	return strings.TrimRight(b.String(), "\n")
}

func describe(r *storage.Reminder) string {
	s, err := schedule.Parse(r.ScheduleKind, r.ScheduleParams)
	if err != nil {
		return string(r.ScheduleKind) + " " + r.ScheduleParams
	}
	return s.Describe()
}

// humanDuration prints whole hours as "N hours", anything else in Go syntax.
func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
