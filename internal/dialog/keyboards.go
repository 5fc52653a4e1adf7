package dialog

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	"postbot/internal/config"
	"postbot/internal/task"
	"postbot/pkg/tgui"
)

func startKeyboard() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("Create task", "start_create"), tgui.Btn("Manage tasks", "start_manage")).
		Markup()
}

func backKeyboard() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("Back", "back")).
		Markup()
}

func scheduleTypeKeyboard() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(
			tgui.Btn("Right away", "schedule_immediate"),
			tgui.Btn("Delayed", "schedule_delayed"),
			tgui.Btn("Daily", "schedule_daily"),
		).
		Markup()
}

func channelKeyboard(channels []config.Channel) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	for _, ch := range channels {
		kb.Row(tgui.Btn(ch.URL, "channel_"+ch.ID))
	}
	return kb.Markup()
}

// dateKeyboard renders the date stepper around cur (stepDateLayout). Every
// button embeds cur so presses stay pure functions of the displayed value.
func dateKeyboard(cur string) *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(
			tgui.Btn("⬅️ Day", "date_prev_day_"+cur),
			tgui.Btn(cur, "date_noop"),
			tgui.Btn("Day ➡️", "date_next_day_"+cur),
		).
		Row(tgui.Btn("Confirm date", "confirm_date_"+cur)).
		Markup()
}

// timeKeyboard renders the time stepper around cur (stepTimeLayout):
// hours step by 1, minutes by 5.
func timeKeyboard(cur string) *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(
			tgui.Btn("⬅️ Hour", "time_prev_hour_"+cur),
			tgui.Btn(cur, "time_noop"),
			tgui.Btn("Hour ➡️", "time_next_hour_"+cur),
		).
		Row(
			tgui.Btn("⬅️ 5 min", "time_prev_min_"+cur),
			tgui.Btn("Confirm time", "confirm_time_"+cur),
			tgui.Btn("5 min ➡️", "time_next_min_"+cur),
		).
		Markup()
}

func taskListKeyboard(tasks []task.Task) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	for _, t := range tasks {
		kb.Row(tgui.Btn(taskButtonLabel(t), fmt.Sprintf("task_%d", t.ID)))
	}
	return kb.Markup()
}

func taskButtonLabel(t task.Task) string {
	msg := []rune(t.Message)
	if len(msg) > 20 {
		msg = msg[:20]
	}
	return fmt.Sprintf("Task %d: %s...", t.ID, string(msg))
}

func taskActionKeyboard(id int64) *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(
			tgui.Btn("Edit", fmt.Sprintf("edit_%d", id)),
			tgui.Btn("Delete", fmt.Sprintf("delete_%d", id)),
		).
		Markup()
}

func editActionKeyboard(id int64) *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(
			tgui.Btn("Edit text", fmt.Sprintf("edit_message_%d", id)),
			tgui.Btn("Edit time", fmt.Sprintf("edit_time_%d", id)),
		).
		Markup()
}
