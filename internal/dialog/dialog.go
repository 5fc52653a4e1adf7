// Package dialog implements the guided conversation that creates, edits and
// deletes posting tasks. One session per user; free text is consumed only in
// text-expecting states and callback tokens are matched by prefix against
// the current state's accepted set, so stale or unknown input is ignored.
package dialog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"postbot/internal/config"
	"postbot/internal/engine"
	"postbot/internal/task"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

const greeting = "Hi! I manage channel posts. What would you like to do?"

type Router struct {
	ad    kit.Adapter
	store *task.Store
	port  engine.Deliverer
	cfg   func() *config.Config
	log   logx.Logger

	sessions *sessions
	now      func() time.Time
}

func NewRouter(ad kit.Adapter, store *task.Store, port engine.Deliverer, cfg func() *config.Config, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		ad:       ad,
		store:    store,
		port:     port,
		cfg:      cfg,
		log:      log,
		sessions: newSessions(),
		now:      time.Now,
	}
}

// HandleUpdate processes one incoming event synchronously.
func (r *Router) HandleUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

func (r *Router) isAdmin(userID int64) bool {
	c := r.cfg()
	return c != nil && c.Admin.ID == userID
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	if !r.isAdmin(m.FromID) {
		if strings.HasPrefix(m.Text, "/start") {
			r.send(ctx, m.ChatID, "You are not the administrator!", nil)
		}
		return
	}

	if strings.HasPrefix(m.Text, "/start") {
		r.sessions.clear(m.FromID)
		r.send(ctx, m.ChatID, greeting, startKeyboard())
		return
	}

	sess := r.sessions.get(m.FromID)
	switch sess.state {
	case stateAwaitingMessage:
		if m.Text == "" {
			return
		}
		sess.draft.message = m.Text
		sess.state = stateAwaitingScheduleType
		r.send(ctx, m.ChatID, "Choose the delivery type:", scheduleTypeKeyboard())

	case stateAwaitingEditMessage:
		id := sess.draft.taskID
		if m.Text == "/skip" {
			r.send(ctx, m.ChatID, "Text left unchanged.", backKeyboard())
		} else {
			if err := r.store.Edit(id, m.Text, ""); err != nil {
				r.log.Error("message edit failed", logx.Int64("task", id), logx.Err(err))
				r.send(ctx, m.ChatID, "Could not update the task, try again later.", backKeyboard())
				return
			}
			r.send(ctx, m.ChatID, fmt.Sprintf("Task #%d text updated!", id), backKeyboard())
		}
		r.sessions.clear(m.FromID)

	default:
		// Free text is only routed in text-expecting states.
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	defer func() {
		if err := r.ad.AnswerCallback(ctx, cb.ID, ""); err != nil {
			r.log.Debug("callback answer failed", logx.Err(err))
		}
	}()

	if !r.isAdmin(cb.FromID) {
		r.edit(ctx, cb, "You are not the administrator!", nil)
		return
	}

	data := cb.Data
	sess := r.sessions.get(cb.FromID)

	switch {
	case data == "back":
		r.sessions.clear(cb.FromID)
		r.edit(ctx, cb, greeting, startKeyboard())

	case data == "start_create":
		sess.reset()
		sess.state = stateAwaitingMessage
		r.edit(ctx, cb, "Enter the message text:", backKeyboard())

	case data == "start_manage":
		tasks, err := r.store.Load()
		if err != nil {
			r.log.Error("task list load failed", logx.Err(err))
			r.edit(ctx, cb, "The task list is unavailable, try again later.", backKeyboard())
			return
		}
		if len(tasks) == 0 {
			r.edit(ctx, cb, "No active tasks!", backKeyboard())
			return
		}
		r.edit(ctx, cb, "Pick a task to manage:", taskListKeyboard(tasks))

	case strings.HasPrefix(data, "schedule_"):
		if sess.state != stateAwaitingScheduleType {
			return
		}
		r.handleScheduleType(ctx, cb, sess, strings.TrimPrefix(data, "schedule_"))

	case strings.HasPrefix(data, "date_") || strings.HasPrefix(data, "confirm_date_"):
		if sess.state != stateAwaitingDate && sess.state != stateAwaitingEditDate {
			return
		}
		r.handleDateToken(ctx, cb, sess, data)

	case strings.HasPrefix(data, "time_") || strings.HasPrefix(data, "confirm_time_"):
		if sess.state != stateAwaitingTime && sess.state != stateAwaitingEditTime {
			return
		}
		r.handleTimeToken(ctx, cb, sess, data)

	case strings.HasPrefix(data, "channel_"):
		if sess.state != stateAwaitingChannel {
			return
		}
		r.handleChannelChoice(ctx, cb, sess, strings.TrimPrefix(data, "channel_"))

	case strings.HasPrefix(data, "task_"):
		id, ok := parseID(data, "task_")
		if !ok {
			return
		}
		r.edit(ctx, cb, "Choose an action:", taskActionKeyboard(id))

	case strings.HasPrefix(data, "delete_"):
		id, ok := parseID(data, "delete_")
		if !ok {
			return
		}
		if err := r.store.Delete(id); err != nil {
			r.log.Error("delete failed", logx.Int64("task", id), logx.Err(err))
			r.edit(ctx, cb, "Could not delete the task, try again later.", backKeyboard())
			return
		}
		r.edit(ctx, cb, fmt.Sprintf("Task #%d deleted!", id), backKeyboard())

	case strings.HasPrefix(data, "edit_message_"):
		if sess.state != stateAwaitingEditChoice {
			return
		}
		sess.state = stateAwaitingEditMessage
		r.edit(ctx, cb, "Send the new message text (or /skip to keep it):", backKeyboard())

	case strings.HasPrefix(data, "edit_time_"):
		if sess.state != stateAwaitingEditChoice {
			return
		}
		r.beginTimeEdit(ctx, cb, sess)

	case strings.HasPrefix(data, "edit_"):
		id, ok := parseID(data, "edit_")
		if !ok {
			return
		}
		sess.reset()
		sess.draft.taskID = id
		sess.state = stateAwaitingEditChoice
		r.edit(ctx, cb, "What do you want to edit?", editActionKeyboard(id))

	default:
		// Unrecognized token: leave the prompt active.
	}
}

func (r *Router) handleScheduleType(ctx context.Context, cb *kit.Callback, sess *session, raw string) {
	mode, ok := task.ParseMode(raw)
	if !ok {
		return
	}
	sess.draft.mode = mode
	switch mode {
	case task.ModeImmediate:
		sess.state = stateAwaitingChannel
		r.promptChannels(ctx, cb)
	case task.ModeDelayed:
		sess.state = stateAwaitingDate
		r.edit(ctx, cb, "Pick a date:", dateKeyboard(r.now().Format(stepDateLayout)))
	case task.ModeDaily:
		sess.state = stateAwaitingTime
		r.edit(ctx, cb, "Pick a time:", timeKeyboard("00:00"))
	}
}

func (r *Router) handleDateToken(ctx context.Context, cb *kit.Callback, sess *session, data string) {
	render := func(cur string) { r.edit(ctx, cb, "Pick a date:", dateKeyboard(cur)) }

	switch {
	case strings.HasPrefix(data, "date_prev_day_"):
		if v, err := stepDate(strings.TrimPrefix(data, "date_prev_day_"), -1); err == nil {
			render(v)
		}
	case strings.HasPrefix(data, "date_next_day_"):
		if v, err := stepDate(strings.TrimPrefix(data, "date_next_day_"), 1); err == nil {
			render(v)
		}
	case strings.HasPrefix(data, "confirm_date_"):
		v := strings.TrimPrefix(data, "confirm_date_")
		if _, err := time.Parse(stepDateLayout, v); err != nil {
			return
		}
		sess.draft.date = v
		if sess.state == stateAwaitingDate {
			sess.state = stateAwaitingTime
			r.edit(ctx, cb, "Pick a time:", timeKeyboard("00:00"))
			return
		}
		sess.state = stateAwaitingEditTime
		r.edit(ctx, cb, "Pick a new time:", timeKeyboard(r.editTimeSeed(sess.draft.taskID)))
	}
	// "date_noop" falls through: the label button does nothing.
}

func (r *Router) handleTimeToken(ctx context.Context, cb *kit.Callback, sess *session, data string) {
	render := func(cur string) { r.edit(ctx, cb, "Pick a time:", timeKeyboard(cur)) }

	step := func(prefix string, delta time.Duration) {
		if v, err := stepTime(strings.TrimPrefix(data, prefix), delta); err == nil {
			render(v)
		}
	}

	switch {
	case strings.HasPrefix(data, "time_prev_hour_"):
		step("time_prev_hour_", -time.Hour)
	case strings.HasPrefix(data, "time_next_hour_"):
		step("time_next_hour_", time.Hour)
	case strings.HasPrefix(data, "time_prev_min_"):
		step("time_prev_min_", -5*time.Minute)
	case strings.HasPrefix(data, "time_next_min_"):
		step("time_next_min_", 5*time.Minute)
	case strings.HasPrefix(data, "confirm_time_"):
		v := strings.TrimPrefix(data, "confirm_time_")
		if _, err := time.Parse(stepTimeLayout, v); err != nil {
			return
		}
		sess.draft.timeOfDay = v + ":00"
		if sess.state == stateAwaitingTime {
			sess.state = stateAwaitingChannel
			r.promptChannels(ctx, cb)
			return
		}
		r.finishTimeEdit(ctx, cb, sess)
	}
}

// editTimeSeed picks the initial stepper value for a time edit: the task's
// current schedule when it has one, otherwise midnight.
func (r *Router) editTimeSeed(id int64) string {
	t, ok, err := r.store.Get(id)
	if err != nil || !ok || t.ScheduledAt == nil {
		return "00:00"
	}
	switch t.Mode {
	case task.ModeDaily:
		if at, err := t.DailyAt(); err == nil {
			return at.Format(stepTimeLayout)
		}
	case task.ModeDelayed:
		if at, err := t.DelayedAt(); err == nil {
			return at.Format(stepTimeLayout)
		}
	}
	return "00:00"
}

func (r *Router) beginTimeEdit(ctx context.Context, cb *kit.Callback, sess *session) {
	t, ok, err := r.store.Get(sess.draft.taskID)
	if err != nil {
		r.log.Error("task lookup failed", logx.Int64("task", sess.draft.taskID), logx.Err(err))
		r.edit(ctx, cb, "The task list is unavailable, try again later.", backKeyboard())
		return
	}
	if !ok {
		r.sessions.clear(cb.FromID)
		r.edit(ctx, cb, "That task no longer exists.", backKeyboard())
		return
	}

	switch t.Mode {
	case task.ModeImmediate:
		r.sessions.clear(cb.FromID)
		r.edit(ctx, cb, "This task is delivered right away; its time cannot be edited!", backKeyboard())

	case task.ModeDaily:
		// Daily tasks carry no date, so the date step is skipped.
		sess.draft.date = ""
		sess.state = stateAwaitingEditTime
		r.edit(ctx, cb, "Pick a new time:", timeKeyboard(r.editTimeSeed(t.ID)))

	default:
		seed := r.now().Format(stepDateLayout)
		if at, err := t.DelayedAt(); err == nil {
			seed = at.Format(stepDateLayout)
		}
		sess.state = stateAwaitingEditDate
		r.edit(ctx, cb, "Pick a new date:", dateKeyboard(seed))
	}
}

func (r *Router) finishTimeEdit(ctx context.Context, cb *kit.Callback, sess *session) {
	id := sess.draft.taskID
	sched := sess.draft.timeOfDay
	if sess.draft.date != "" {
		sched = sess.draft.date + " " + sess.draft.timeOfDay
	}
	if err := r.store.Edit(id, "", sched); err != nil {
		r.log.Error("time edit failed", logx.Int64("task", id), logx.Err(err))
		r.edit(ctx, cb, "Could not update the task, try again later.", backKeyboard())
		return
	}
	r.sessions.clear(cb.FromID)
	r.edit(ctx, cb, fmt.Sprintf("Task #%d time updated!", id), backKeyboard())
}

func (r *Router) promptChannels(ctx context.Context, cb *kit.Callback) {
	c := r.cfg()
	if c == nil {
		return
	}
	r.edit(ctx, cb, "Pick a channel:", channelKeyboard(c.Channels))
}

func (r *Router) handleChannelChoice(ctx context.Context, cb *kit.Callback, sess *session, id string) {
	c := r.cfg()
	if c == nil {
		return
	}
	ch, ok := c.ChannelByID(id)
	if !ok {
		r.edit(ctx, cb, "Channel not found! Try again:", channelKeyboard(c.Channels))
		return
	}

	d := sess.draft
	var taskID int64
	var err error
	switch d.mode {
	case task.ModeImmediate:
		// Deliver directly; on success the record never enters pending.
		// On failure it is persisted pending so the engine retries it.
		if derr := r.port.Deliver(ctx, ch.ID, d.message); derr != nil {
			r.log.Warn("immediate delivery failed, queueing for retry",
				logx.String("channel", ch.ID), logx.Err(derr))
			taskID, err = r.store.Create(d.message, ch.ID, d.mode, "")
		} else {
			taskID, err = r.store.CreateDone(d.message, ch.ID, d.mode, "")
		}
	case task.ModeDelayed:
		taskID, err = r.store.Create(d.message, ch.ID, d.mode, d.date+" "+d.timeOfDay)
	case task.ModeDaily:
		taskID, err = r.store.Create(d.message, ch.ID, d.mode, d.timeOfDay)
	default:
		return
	}
	if err != nil {
		r.log.Error("task create failed", logx.Err(err))
		r.edit(ctx, cb, "Could not save the task, try again later.", backKeyboard())
		return
	}

	r.sessions.clear(cb.FromID)
	r.edit(ctx, cb, fmt.Sprintf("Task #%d created!", taskID), backKeyboard())
}

func (r *Router) send(ctx context.Context, chatID int64, text string, rm *tele.ReplyMarkup) {
	opt := &kit.SendOptions{}
	if rm != nil {
		opt.ReplyMarkupAdapter = rm
	}
	if _, err := r.ad.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		r.log.Warn("send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) edit(ctx context.Context, cb *kit.Callback, text string, rm *tele.ReplyMarkup) {
	opt := &kit.SendOptions{}
	if rm != nil {
		opt.ReplyMarkupAdapter = rm
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := r.ad.EditText(ctx, ref, text, opt); err != nil {
		r.log.Warn("edit failed", logx.Int64("chat", cb.ChatID), logx.Err(err))
	}
}

func parseID(data, prefix string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(data, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
