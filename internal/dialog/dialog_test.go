package dialog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"postbot/internal/config"
	"postbot/internal/task"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

const adminID int64 = 42

type outMsg struct {
	target kit.ChatTarget
	text   string
}

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []outMsg
	edits []outMsg
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, outMsg{target: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, outMsg{target: kit.ChatTarget{ChatID: ref.ChatID}, text: text})
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (f *fakeAdapter) lastEdit(t *testing.T) outMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		t.Fatal("no edits recorded")
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakeAdapter) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

type fakePort struct {
	mu       sync.Mutex
	fail     bool
	channels []string
	messages []string
}

func (f *fakePort) Deliver(ctx context.Context, channelID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.channels = append(f.channels, channelID)
	f.messages = append(f.messages, message)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Bot:   config.BotConfig{Token: "test-token"},
		Admin: config.AdminConfig{ID: adminID},
		Channels: []config.Channel{
			{URL: "https://t.me/one", ID: "ch1"},
			{URL: "https://t.me/two", ID: "ch2"},
		},
	}
}

func newTestRouter(t *testing.T) (*Router, *fakeAdapter, *fakePort, *task.Store) {
	t.Helper()
	ad := &fakeAdapter{}
	port := &fakePort{}
	store := task.NewStore(filepath.Join(t.TempDir(), "tasks.json"), logx.Nop())
	cfg := testConfig()
	r := NewRouter(ad, store, port, func() *config.Config { return cfg }, logx.Nop())
	return r, ad, port, store
}

func sendText(r *Router, from int64, text string) {
	r.HandleUpdate(context.Background(), kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ID: 1, ChatID: from, FromID: from, Text: text},
	})
}

func press(r *Router, from int64, data string) {
	r.HandleUpdate(context.Background(), kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{ID: "cb", ChatID: from, FromID: from, MessageID: 1, Data: data},
	})
}

func loadTasks(t *testing.T, store *task.Store) []task.Task {
	t.Helper()
	tasks, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return tasks
}

func TestNonAdminIsRejectedWithoutSideEffects(t *testing.T) {
	t.Parallel()
	r, ad, port, store := newTestRouter(t)
	const stranger int64 = 7

	sendText(r, stranger, "/start")
	press(r, stranger, "start_create")
	sendText(r, stranger, "sneaky message")
	press(r, stranger, "channel_ch1")

	if got := ad.sent[0].text; !strings.Contains(got, "not the administrator") {
		t.Fatalf("expected rejection, got %q", got)
	}
	if len(port.channels) != 0 {
		t.Fatalf("non-admin triggered %d deliveries", len(port.channels))
	}
	if tasks := loadTasks(t, store); len(tasks) != 0 {
		t.Fatalf("non-admin created %d tasks", len(tasks))
	}
}

func TestImmediateCreationDeliversDirectly(t *testing.T) {
	t.Parallel()
	r, ad, port, store := newTestRouter(t)

	sendText(r, adminID, "/start")
	press(r, adminID, "start_create")
	sendText(r, adminID, "Hello")
	press(r, adminID, "schedule_immediate")
	press(r, adminID, "channel_ch1")

	if len(port.channels) != 1 || port.channels[0] != "ch1" || port.messages[0] != "Hello" {
		t.Fatalf("unexpected deliveries: %v %v", port.channels, port.messages)
	}

	tasks := loadTasks(t, store)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	tk := tasks[0]
	if tk.Mode != task.ModeImmediate || tk.Status != task.StatusDone || tk.ScheduledAt != nil {
		t.Fatalf("unexpected task record: %+v", tk)
	}
	if got := ad.lastEdit(t).text; !strings.Contains(got, "Task #1 created!") {
		t.Fatalf("confirmation = %q", got)
	}
}

func TestImmediateDeliveryFailureIsQueuedPending(t *testing.T) {
	t.Parallel()
	r, _, port, store := newTestRouter(t)
	port.fail = true

	press(r, adminID, "start_create")
	sendText(r, adminID, "Hello")
	press(r, adminID, "schedule_immediate")
	press(r, adminID, "channel_ch1")

	tasks := loadTasks(t, store)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Status != task.StatusPending {
		t.Fatalf("failed immediate send persisted status %s, want pending", tasks[0].Status)
	}
}

func TestDelayedCreationFlow(t *testing.T) {
	t.Parallel()
	r, _, port, store := newTestRouter(t)

	press(r, adminID, "start_create")
	sendText(r, adminID, "scheduled post")
	press(r, adminID, "schedule_delayed")
	press(r, adminID, "date_next_day_2025-03-01")
	press(r, adminID, "confirm_date_2025-03-02")
	press(r, adminID, "time_next_hour_00:00")
	press(r, adminID, "time_next_min_01:00")
	press(r, adminID, "confirm_time_01:05")
	press(r, adminID, "channel_ch2")

	if len(port.channels) != 0 {
		t.Fatalf("delayed creation delivered immediately: %v", port.channels)
	}
	tasks := loadTasks(t, store)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	tk := tasks[0]
	if tk.Mode != task.ModeDelayed || tk.Status != task.StatusPending {
		t.Fatalf("unexpected task record: %+v", tk)
	}
	if tk.Schedule() != "2025-03-02 01:05:00" {
		t.Fatalf("schedule = %q, want 2025-03-02 01:05:00", tk.Schedule())
	}
}

func TestDailyCreationSkipsDateStep(t *testing.T) {
	t.Parallel()
	r, ad, _, store := newTestRouter(t)

	press(r, adminID, "start_create")
	sendText(r, adminID, "morning digest")
	press(r, adminID, "schedule_daily")

	if got := ad.lastEdit(t).text; !strings.Contains(got, "Pick a time") {
		t.Fatalf("daily flow should go straight to time, got %q", got)
	}

	press(r, adminID, "time_next_hour_00:00")
	press(r, adminID, "confirm_time_08:00")
	press(r, adminID, "channel_ch1")

	tasks := loadTasks(t, store)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	tk := tasks[0]
	if tk.Mode != task.ModeDaily || tk.Status != task.StatusPending {
		t.Fatalf("unexpected task record: %+v", tk)
	}
	if tk.Schedule() != "08:00:00" {
		t.Fatalf("schedule = %q, want 08:00:00", tk.Schedule())
	}
}

func TestUnknownChannelReprompts(t *testing.T) {
	t.Parallel()
	r, ad, _, store := newTestRouter(t)

	press(r, adminID, "start_create")
	sendText(r, adminID, "Hello")
	press(r, adminID, "schedule_daily")
	press(r, adminID, "confirm_time_08:00")
	press(r, adminID, "channel_nope")

	if got := ad.lastEdit(t).text; !strings.Contains(got, "Channel not found") {
		t.Fatalf("expected re-prompt, got %q", got)
	}
	if tasks := loadTasks(t, store); len(tasks) != 0 {
		t.Fatalf("invalid channel still created %d tasks", len(tasks))
	}

	// The prompt stays active: a valid pick completes the flow.
	press(r, adminID, "channel_ch1")
	if tasks := loadTasks(t, store); len(tasks) != 1 {
		t.Fatalf("valid channel after re-prompt created %d tasks", len(tasks))
	}
}

func TestUnknownTokensAreIgnored(t *testing.T) {
	t.Parallel()
	r, _, _, store := newTestRouter(t)

	press(r, adminID, "start_create")
	sendText(r, adminID, "Hello")
	press(r, adminID, "schedule_weekly") // not a mode
	press(r, adminID, "bogus_token")
	press(r, adminID, "confirm_time_08:00") // wrong state

	// Still awaiting the schedule type.
	press(r, adminID, "schedule_immediate")
	press(r, adminID, "channel_ch1")
	tasks := loadTasks(t, store)
	if len(tasks) != 1 || tasks[0].Mode != task.ModeImmediate {
		t.Fatalf("flow derailed by unknown tokens: %+v", tasks)
	}
}

func TestReplayedConfirmAfterAdvanceIsNoOp(t *testing.T) {
	t.Parallel()
	r, ad, _, _ := newTestRouter(t)

	press(r, adminID, "start_create")
	sendText(r, adminID, "Hello")
	press(r, adminID, "schedule_daily")
	press(r, adminID, "confirm_time_08:00")

	before := ad.editCount()
	press(r, adminID, "confirm_time_08:00") // stale duplicate
	if ad.editCount() != before {
		t.Fatalf("stale confirm re-rendered the dialog")
	}
}

func TestEditMessageFlow(t *testing.T) {
	t.Parallel()
	r, _, _, store := newTestRouter(t)
	id, err := store.Create("old text", "ch1", task.ModeDaily, "08:00:00")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	press(r, adminID, "task_1")
	press(r, adminID, "edit_1")
	press(r, adminID, "edit_message_1")
	sendText(r, adminID, "new text")

	got, ok, err := store.Get(id)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Message != "new text" {
		t.Fatalf("message = %q, want %q", got.Message, "new text")
	}
	if got.Schedule() != "08:00:00" {
		t.Fatalf("text edit touched schedule: %q", got.Schedule())
	}
}

func TestEditMessageSkipKeepsText(t *testing.T) {
	t.Parallel()
	r, ad, _, store := newTestRouter(t)
	if _, err := store.Create("old text", "ch1", task.ModeDaily, "08:00:00"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	press(r, adminID, "edit_1")
	press(r, adminID, "edit_message_1")
	sendText(r, adminID, "/skip")

	got, _, _ := store.Get(1)
	if got.Message != "old text" {
		t.Fatalf("skip changed the message to %q", got.Message)
	}
	last := ad.sent[len(ad.sent)-1].text
	if !strings.Contains(last, "unchanged") {
		t.Fatalf("expected unchanged notice, got %q", last)
	}
}

func TestEditTimeRefusedForImmediate(t *testing.T) {
	t.Parallel()
	r, ad, _, store := newTestRouter(t)
	if _, err := store.CreateDone("sent already", "ch1", task.ModeImmediate, ""); err != nil {
		t.Fatalf("CreateDone: %v", err)
	}

	press(r, adminID, "edit_1")
	press(r, adminID, "edit_time_1")

	if got := ad.lastEdit(t).text; !strings.Contains(got, "cannot be edited") {
		t.Fatalf("expected refusal, got %q", got)
	}

	// Session was cleared: further edit choices are ignored.
	before := ad.editCount()
	press(r, adminID, "edit_message_1")
	if ad.editCount() != before {
		t.Fatal("edit choice accepted after refusal cleared the session")
	}
}

func TestEditTimeDailyKeepsTimeOnlySchedule(t *testing.T) {
	t.Parallel()
	r, ad, _, store := newTestRouter(t)
	if _, err := store.Create("digest", "ch1", task.ModeDaily, "08:00:00"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	press(r, adminID, "edit_1")
	press(r, adminID, "edit_time_1")
	if got := ad.lastEdit(t).text; !strings.Contains(got, "Pick a new time") {
		t.Fatalf("daily edit should skip the date step, got %q", got)
	}
	press(r, adminID, "confirm_time_09:30")

	got, _, _ := store.Get(1)
	if got.Schedule() != "09:30:00" {
		t.Fatalf("schedule = %q, want 09:30:00", got.Schedule())
	}
}

func TestEditTimeDelayedWritesFullTimestamp(t *testing.T) {
	t.Parallel()
	r, ad, _, store := newTestRouter(t)
	if _, err := store.Create("post", "ch1", task.ModeDelayed, "2025-03-02 10:00:00"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	press(r, adminID, "edit_1")
	press(r, adminID, "edit_time_1")
	if got := ad.lastEdit(t).text; !strings.Contains(got, "Pick a new date") {
		t.Fatalf("delayed edit should start with the date step, got %q", got)
	}
	press(r, adminID, "date_next_day_2025-03-02")
	press(r, adminID, "confirm_date_2025-03-03")
	press(r, adminID, "confirm_time_11:15")

	got, _, _ := store.Get(1)
	if got.Schedule() != "2025-03-03 11:15:00" {
		t.Fatalf("schedule = %q, want 2025-03-03 11:15:00", got.Schedule())
	}
}

func TestDeleteTask(t *testing.T) {
	t.Parallel()
	r, ad, _, store := newTestRouter(t)
	if _, err := store.Create("bye", "ch1", task.ModeDaily, "08:00:00"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	press(r, adminID, "task_1")
	if got := ad.lastEdit(t).text; !strings.Contains(got, "Choose an action") {
		t.Fatalf("expected action menu, got %q", got)
	}
	press(r, adminID, "delete_1")

	if tasks := loadTasks(t, store); len(tasks) != 0 {
		t.Fatalf("delete left %d tasks", len(tasks))
	}
	if got := ad.lastEdit(t).text; !strings.Contains(got, "deleted") {
		t.Fatalf("expected delete confirmation, got %q", got)
	}
}

func TestBackCancelsFlow(t *testing.T) {
	t.Parallel()
	r, _, _, store := newTestRouter(t)

	press(r, adminID, "start_create")
	sendText(r, adminID, "draft text")
	press(r, adminID, "back")

	// Draft was destroyed: the next text is not treated as a message input.
	sendText(r, adminID, "stray text")
	press(r, adminID, "schedule_immediate")
	press(r, adminID, "channel_ch1")

	if tasks := loadTasks(t, store); len(tasks) != 0 {
		t.Fatalf("cancelled flow still created %d tasks", len(tasks))
	}
}
