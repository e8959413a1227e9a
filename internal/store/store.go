package store

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"demo-chatter/internal/conversation"
	"demo-chatter/internal/llm"
	"demo-chatter/internal/storage"
)

// Errors returned by store commands.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrReplyPending         = errors.New("reply already pending for conversation")
	ErrClosed               = errors.New("store closed")
	ErrNoStorage            = errors.New("store requires storage")
)

// Options configures Open. Only Storage is required; the rest default to the
// canned client, a 1-3s uniform delay, the default logger and UTC wall time.
type Options struct {
	Storage storage.KV
	Client  llm.Client
	Delay   DelayFunc
	Logger  *log.Logger
	Now     func() time.Time
}

// State is a point-in-time copy of everything a front-end renders.
type State struct {
	Conversations        []conversation.Conversation `json:"conversations"`
	ActiveConversationID string                      `json:"activeConversationId"`
	IsTyping             bool                        `json:"isTyping"`
}

// Active returns the active conversation out of the snapshot.
func (s State) Active() (conversation.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == s.ActiveConversationID {
			return c, true
		}
	}
	return conversation.Conversation{}, false
}

// Unsubscriber removes a subscription. Calling it twice is harmless.
type Unsubscriber func()

type pendingReply struct {
	token  uint64
	timer  *time.Timer
	cancel context.CancelFunc
}

// Store owns the conversation list, the active conversation and the pending
// simulated replies. Every mutation is persisted and published to subscribers.
type Store struct {
	kv     storage.KV
	client llm.Client
	delay  DelayFunc
	logger *log.Logger
	now    func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	// commitMu orders mutations with their persistence and notification.
	commitMu sync.Mutex

	mu            sync.Mutex
	conversations []*conversation.Conversation
	activeID      string
	pending       map[string]*pendingReply
	nextToken     uint64
	inflight      int
	idle          chan struct{}
	closed        bool

	subsMu  sync.Mutex
	subs    map[uint64]func(State)
	nextSub uint64
}

// Open builds a store and loads prior state from opts.Storage. Unreadable
// state is discarded in favour of a single empty conversation.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Storage == nil {
		return nil, ErrNoStorage
	}
	if opts.Client == nil {
		opts.Client = llm.NewCanned(llm.DefaultRules())
	}
	if opts.Delay == nil {
		opts.Delay = UniformDelay(DefaultMinDelay, DefaultMaxDelay)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	baseCtx, cancel := context.WithCancel(ctx)
	s := &Store{
		kv:      opts.Storage,
		client:  opts.Client,
		delay:   opts.Delay,
		logger:  opts.Logger.With("component", "store"),
		now:     opts.Now,
		baseCtx: baseCtx,
		cancel:  cancel,
		pending: make(map[string]*pendingReply),
		subs:    make(map[uint64]func(State)),
	}

	convs := s.load()
	if len(convs) == 0 {
		c := conversation.New(s.now())
		s.conversations = []*conversation.Conversation{c}
		s.activeID = c.ID
		if err := s.persist(s.stateLocked()); err != nil {
			s.logger.Error("failed to persist initial state", "error", err)
		}
		return s, nil
	}
	for i := range convs {
		s.conversations = append(s.conversations, &convs[i])
	}
	s.activeID = convs[0].ID
	s.logger.Info("restored conversations", "count", len(convs))
	return s, nil
}

func (s *Store) load() []conversation.Conversation {
	data, err := s.kv.Get(StorageKey)
	if err != nil {
		var nf *storage.ErrKeyNotFound
		if !errors.As(err, &nf) {
			s.logger.Warn("failed to read persisted state, starting fresh", "error", err)
		}
		return nil
	}
	convs, err := decodeState(data)
	if err != nil {
		s.logger.Warn("discarding malformed persisted state", "error", err)
		return nil
	}
	return convs
}

// StartNewConversation puts a new empty conversation first and activates it.
func (s *Store) StartNewConversation() (conversation.Conversation, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return conversation.Conversation{}, ErrClosed
	}
	c := conversation.New(s.now())
	s.conversations = append([]*conversation.Conversation{c}, s.conversations...)
	s.activeID = c.ID
	out := c.Clone()
	snap := s.stateLocked()
	s.mu.Unlock()

	s.commit(snap)
	return out, nil
}

// SetActiveConversation switches the active conversation. Unknown ids are rejected.
func (s *Store) SetActiveConversation(id string) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.findLocked(id) == nil {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	s.activeID = id
	snap := s.stateLocked()
	s.mu.Unlock()

	s.commit(snap)
	return nil
}

// SendMessage appends a user message to the active conversation and schedules
// the simulated reply. Blank content or a missing active conversation is a
// no-op reported as (nil, nil). Only one reply may be pending per conversation.
func (s *Store) SendMessage(content string) (*conversation.Message, error) {
	if conversation.IsBlank(content) {
		return nil, nil
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	conv := s.findLocked(s.activeID)
	if conv == nil {
		s.mu.Unlock()
		return nil, nil
	}
	if _, busy := s.pending[conv.ID]; busy {
		s.mu.Unlock()
		return nil, ErrReplyPending
	}
	msg := conversation.NewMessage(conversation.RoleUser, content, s.now())
	conv.Append(msg)
	s.scheduleReplyLocked(conv.ID)
	snap := s.stateLocked()
	s.mu.Unlock()

	s.commit(snap)
	return &msg, nil
}

// DeleteConversation removes a conversation and drops its pending reply. If it
// was active, the first remaining conversation becomes active; deleting the
// last one leaves a fresh empty conversation behind.
func (s *Store) DeleteConversation(id string) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	s.cancelPendingLocked(id)
	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)
	if s.activeID == id {
		if len(s.conversations) == 0 {
			s.conversations = []*conversation.Conversation{conversation.New(s.now())}
		}
		s.activeID = s.conversations[0].ID
	}
	snap := s.stateLocked()
	s.mu.Unlock()

	s.commit(snap)
	return nil
}

func (s *Store) scheduleReplyLocked(convID string) {
	s.nextToken++
	token := s.nextToken
	ctx, cancel := context.WithCancel(s.baseCtx)
	p := &pendingReply{token: token, cancel: cancel}
	s.pending[convID] = p
	s.incInflightLocked()
	p.timer = time.AfterFunc(s.delay(), func() {
		s.deliverReply(ctx, convID, token)
	})
}

func (s *Store) cancelPendingLocked(convID string) {
	p, ok := s.pending[convID]
	if !ok {
		return
	}
	delete(s.pending, convID)
	p.cancel()
	if p.timer.Stop() {
		// the callback will never run, so it cannot release its slot
		s.decInflightLocked()
	}
}

// deliverReply runs on the timer goroutine. It re-checks under the lock that
// the reply is still wanted before touching state.
func (s *Store) deliverReply(ctx context.Context, convID string, token uint64) {
	defer s.replyFinished()

	s.mu.Lock()
	if !s.replyLiveLocked(convID, token) {
		s.mu.Unlock()
		return
	}
	history := toLLMMessages(s.findLocked(convID).Messages)
	s.mu.Unlock()

	resp, genErr := s.client.Generate(ctx, history)

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if !s.replyLiveLocked(convID, token) {
		s.mu.Unlock()
		return
	}
	p := s.pending[convID]
	delete(s.pending, convID)
	p.cancel()
	if genErr != nil {
		s.logger.Error("reply generation failed", "conversation", convID, "error", genErr)
	} else {
		conv := s.findLocked(convID)
		conv.Append(conversation.NewMessage(conversation.RoleAssistant, resp.Content, s.now()))
		s.logger.Debug("reply delivered", "conversation", convID, "model", resp.Model)
	}
	snap := s.stateLocked()
	s.mu.Unlock()

	s.commit(snap)
}

func (s *Store) replyLiveLocked(convID string, token uint64) bool {
	if s.closed {
		return false
	}
	p, ok := s.pending[convID]
	return ok && p.token == token && s.findLocked(convID) != nil
}

func (s *Store) replyFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decInflightLocked()
}

func (s *Store) incInflightLocked() {
	if s.inflight == 0 {
		s.idle = make(chan struct{})
	}
	s.inflight++
}

func (s *Store) decInflightLocked() {
	s.inflight--
	if s.inflight == 0 {
		close(s.idle)
	}
}

// WaitIdle blocks until no reply callbacks are scheduled or running.
func (s *Store) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.inflight == 0 {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels pending replies and writes the final state. The storage
// backend stays open; its owner closes it.
func (s *Store) Close() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	for id := range s.pending {
		s.cancelPendingLocked(id)
	}
	s.closed = true
	s.cancel()
	snap := s.stateLocked()
	s.mu.Unlock()

	s.subsMu.Lock()
	s.subs = make(map[uint64]func(State))
	s.subsMu.Unlock()

	return s.persist(snap)
}

// Subscribe registers fn to receive a snapshot after every mutation, in
// mutation order. fn must not call back into the store's commands.
func (s *Store) Subscribe(fn func(State)) Unsubscriber {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

// Watch is Subscribe plus an immediate call with the current state. No commit
// can land between the two, so fn never sees a snapshot older than one it
// already received.
func (s *Store) Watch(fn func(State)) Unsubscriber {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	unsubscribe := s.Subscribe(fn)
	fn(s.State())
	return unsubscribe
}

func (s *Store) commit(snap State) {
	if err := s.persist(snap); err != nil {
		s.logger.Error("failed to persist state", "error", err)
	}
	s.subsMu.Lock()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Store) persist(snap State) error {
	data, err := encodeState(snap.Conversations)
	if err != nil {
		return err
	}
	return s.kv.Set(StorageKey, data)
}

// State returns a deep copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Conversations returns copies of all conversations, newest first.
func (s *Store) Conversations() []conversation.Conversation {
	return s.State().Conversations
}

// Conversation returns a copy of the conversation with id.
func (s *Store) Conversation(id string) (conversation.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.findLocked(id)
	if c == nil {
		return conversation.Conversation{}, false
	}
	return c.Clone(), true
}

func (s *Store) ActiveConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ActiveConversation returns a copy of the active conversation. It is false
// only once the store has no conversations, which Open and Delete prevent.
func (s *Store) ActiveConversation() (conversation.Conversation, bool) {
	return s.Conversation(s.ActiveConversationID())
}

// Messages returns the active conversation's messages.
func (s *Store) Messages() []conversation.Message {
	c, ok := s.ActiveConversation()
	if !ok {
		return []conversation.Message{}
	}
	return c.Messages
}

// IsTyping reports whether a reply is pending for the active conversation.
func (s *Store) IsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[s.activeID]
	return ok
}

func (s *Store) stateLocked() State {
	convs := make([]conversation.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		convs = append(convs, c.Clone())
	}
	_, typing := s.pending[s.activeID]
	return State{
		Conversations:        convs,
		ActiveConversationID: s.activeID,
		IsTyping:             typing,
	}
}

func (s *Store) findLocked(id string) *conversation.Conversation {
	if idx := s.indexLocked(id); idx >= 0 {
		return s.conversations[idx]
	}
	return nil
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func toLLMMessages(msgs []conversation.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
