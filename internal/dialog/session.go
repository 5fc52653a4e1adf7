package dialog

import (
	"sync"

	"postbot/internal/task"
)

type state int

const (
	stateIdle state = iota
	stateAwaitingMessage
	stateAwaitingScheduleType
	stateAwaitingDate
	stateAwaitingTime
	stateAwaitingChannel
	stateAwaitingEditChoice
	stateAwaitingEditMessage
	stateAwaitingEditDate
	stateAwaitingEditTime
)

// draft accumulates a task's fields over one conversation. It never outlives
// the session that holds it.
type draft struct {
	message   string
	mode      task.Mode
	date      string // LayoutDate, delayed creation/edit only
	timeOfDay string // LayoutTimeOfDay
	taskID    int64  // edit target
}

type session struct {
	state state
	draft draft
}

func (s *session) reset() {
	s.state = stateIdle
	s.draft = draft{}
}

// sessions tracks one conversation per user. Created on first interaction,
// cleared on flow completion or cancellation.
type sessions struct {
	mu sync.Mutex
	m  map[int64]*session
}

func newSessions() *sessions {
	return &sessions{m: make(map[int64]*session)}
}

func (s *sessions) get(userID int64) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	if !ok {
		sess = &session{}
		s.m[userID] = sess
	}
	return sess
}

func (s *sessions) clear(userID int64) {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
}
