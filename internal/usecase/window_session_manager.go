package usecase

import (
	"context"
	"sort"
	"sync"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/internal/infrastructure/broadcast"
	"rentalchat/internal/infrastructure/ratelimit"
	"rentalchat/pkg/errors"
	"rentalchat/pkg/logger"
)

// Tab identifies one browser tab of a login session.
type Tab struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	TabID     string `json:"tab_id"`
}

func (t Tab) key() string {
	return t.UserID + "|" + t.SessionID + "|" + t.TabID
}

// WindowSessionManager owns the open/minimized state of the chat windows
// of one tab. The state is shared by every tab of the session: changes are
// persisted to the session store and broadcast, and remote changes are
// merged per peer by revision.
type WindowSessionManager struct {
	tab      Tab
	store    repository.SessionStore
	bus      broadcast.Broadcaster
	activity repository.ChatActivityRepository
	profiles *ProfileCache
	messages repository.MessageStore
	limiter  *ratelimit.RateLimiter

	opMu sync.Mutex // serializes operations and remote merges

	mu              sync.Mutex
	state           entity.WindowState
	clock           uint64
	windows         map[string]*ChatWindow
	listeners       []func()
	threadListeners []func(ThreadView)
	ctx             context.Context
	sub             broadcast.Subscription
	runDone         chan struct{}
}

func NewWindowSessionManager(tab Tab, store repository.SessionStore, bus broadcast.Broadcaster, activity repository.ChatActivityRepository, profiles *ProfileCache, messages repository.MessageStore, limiter *ratelimit.RateLimiter) *WindowSessionManager {
	return &WindowSessionManager{
		tab:      tab,
		store:    store,
		bus:      bus,
		activity: activity,
		profiles: profiles,
		messages: messages,
		limiter:  limiter,
		state:    entity.NewWindowState(),
		windows:  make(map[string]*ChatWindow),
		ctx:      context.Background(),
	}
}

// OnChange registers fn to run after the window set changes.
func (m *WindowSessionManager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnThread registers fn to run with the new view whenever a window's
// thread, badge or draft changes.
func (m *WindowSessionManager) OnThread(fn func(ThreadView)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadListeners = append(m.threadListeners, fn)
}

// Start joins the session broadcast, restores the persisted state and
// consumes remote changes until Stop. Windows live on ctx.
func (m *WindowSessionManager) Start(ctx context.Context) error {
	sub, err := m.bus.Subscribe(ctx, m.tab.SessionID)
	if err != nil {
		logger.Error("WindowManager: subscribe to session %s failed: %v", m.tab.SessionID, err)
		return errors.TransientNetwork("subscribe session", err)
	}

	m.mu.Lock()
	m.ctx = ctx
	m.sub = sub
	m.runDone = make(chan struct{})
	m.mu.Unlock()

	if err := m.Restore(ctx); err != nil {
		logger.Warn("WindowManager: restore for session %s failed: %v", m.tab.SessionID, err)
	}

	go m.Run(sub)
	return nil
}

// Stop leaves the broadcast and closes the local windows. The shared
// state is left untouched so other tabs keep their windows.
func (m *WindowSessionManager) Stop() {
	m.mu.Lock()
	sub := m.sub
	done := m.runDone
	m.sub = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Close()
		<-done
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	windows := m.windows
	m.windows = make(map[string]*ChatWindow)
	m.mu.Unlock()

	for _, w := range windows {
		w.Close()
	}
}

// Run applies broadcast envelopes from other tabs until sub closes.
func (m *WindowSessionManager) Run(sub broadcast.Subscription) {
	m.mu.Lock()
	done := m.runDone
	m.mu.Unlock()
	if done != nil {
		defer close(done)
	}

	for env := range sub.Messages() {
		if env.Origin == m.tab.TabID || env.SessionID != m.tab.SessionID {
			continue
		}
		m.applyRemote(env.Channel, env.Flags)
	}
}

// Restore loads the persisted state of the session and merges it in.
// Both channels are merged before any window is started.
func (m *WindowSessionManager) Restore(ctx context.Context) error {
	loaded := make(map[string]entity.FlagMap, 2)
	for _, channel := range []string{entity.ChannelOpenWindows, entity.ChannelMinimized} {
		flags, err := m.store.Load(ctx, m.tab.SessionID, channel)
		if err != nil {
			return err
		}
		loaded[channel] = flags
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	changed := 0
	for channel, flags := range loaded {
		changed += len(m.flagsLocked(channel).Merge(flags))
		if rev := flags.MaxRev(); rev > m.clock {
			m.clock = rev
		}
	}
	m.mu.Unlock()

	if changed > 0 {
		m.syncWindows()
		m.notifyChange()
	}
	return nil
}

func (m *WindowSessionManager) applyRemote(channel string, flags entity.FlagMap) {
	if len(flags) == 0 {
		return
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	target := m.flagsLocked(channel)
	if target == nil {
		m.mu.Unlock()
		logger.Warn("WindowManager: unknown channel %q", channel)
		return
	}
	changed := target.Merge(flags)
	if rev := flags.MaxRev(); rev > m.clock {
		m.clock = rev
	}
	ctx := m.ctx
	m.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	// a concurrent load-merge-save elsewhere may have dropped these flags
	if m.save(ctx, channel) {
		logger.Debug("WindowManager: session %s %s absorbed stored flags", m.tab.SessionID, channel)
	}
	m.syncWindows()
	m.notifyChange()
}

// OpenWindow opens the window for peerID, or brings it back if it is
// minimized. The peer profile must resolve first.
func (m *WindowSessionManager) OpenWindow(ctx context.Context, peerID string) error {
	if peerID == "" || peerID == m.tab.UserID {
		return errors.BadRequest("Invalid peer", nil)
	}
	if m.limiter != nil {
		if allowed, _ := m.limiter.Allow(m.tab.UserID, ratelimit.ActionOpenWindow); !allowed {
			return errors.TooManyRequests("Too many windows opened. Please wait", nil)
		}
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	profile, err := m.profiles.Get(ctx, peerID)
	if err != nil {
		logger.Warn("WindowManager: not opening window for %s: %v", peerID, err)
		return err
	}

	m.mu.Lock()
	_, live := m.windows[peerID]
	prevOpen, hadOpen := m.state.Open[peerID]
	prevMinimized, hadMinimized := m.state.Minimized[peerID]
	rev := m.nextRevLocked()
	m.state.Open[peerID] = entity.Flag{Value: true, Rev: rev, Origin: m.tab.TabID}
	m.state.Minimized[peerID] = entity.Flag{Value: false, Rev: rev, Origin: m.tab.TabID}
	m.mu.Unlock()

	if err := m.ensureWindow(profile, false); err != nil {
		logger.Error("WindowManager: window for %s failed to start: %v", peerID, err)
		if !live {
			// nothing was persisted or broadcast yet
			m.mu.Lock()
			restoreFlag(m.state.Open, peerID, prevOpen, hadOpen)
			restoreFlag(m.state.Minimized, peerID, prevMinimized, hadMinimized)
			m.mu.Unlock()
			return err
		}
	}

	m.persist(ctx, entity.ChannelOpenWindows, entity.ChannelMinimized)
	m.notifyChange()
	return nil
}

func restoreFlag(flags entity.FlagMap, peerID string, prev entity.Flag, had bool) {
	if had {
		flags[peerID] = prev
		return
	}
	delete(flags, peerID)
}

// ToggleMinimize flips the minimized flag of an open window. Restoring a
// window marks its unread backlog read before returning.
func (m *WindowSessionManager) ToggleMinimize(ctx context.Context, peerID string) (entity.WindowView, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if !m.state.IsOpen(peerID) {
		m.mu.Unlock()
		return entity.WindowView{}, errors.BadRequest("Chat window is not open", nil)
	}
	minimized := !m.state.Minimized[peerID].Value
	m.state.Minimized[peerID] = entity.Flag{Value: minimized, Rev: m.nextRevLocked(), Origin: m.tab.TabID}
	window := m.windows[peerID]
	m.mu.Unlock()

	if window != nil {
		if err := window.SetMinimized(ctx, minimized); err != nil {
			logger.Warn("WindowManager: reconcile for %s failed: %v", peerID, err)
		}
	}

	m.persist(ctx, entity.ChannelMinimized)
	m.notifyChange()
	return entity.WindowView{PeerID: peerID, Open: true, Minimized: minimized}, nil
}

// CloseWindow unsubscribes the window, drops it from the shared state and
// clears the peer's chat-active flag for this user.
func (m *WindowSessionManager) CloseWindow(ctx context.Context, peerID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if !m.state.IsOpen(peerID) {
		m.mu.Unlock()
		return errors.BadRequest("Chat window is not open", nil)
	}
	window := m.windows[peerID]
	delete(m.windows, peerID)
	m.mu.Unlock()

	if window != nil {
		window.Close()
	}

	m.mu.Lock()
	rev := m.nextRevLocked()
	m.state.Open[peerID] = entity.Flag{Value: false, Rev: rev, Origin: m.tab.TabID}
	m.state.Minimized[peerID] = entity.Flag{Value: false, Rev: rev, Origin: m.tab.TabID}
	m.mu.Unlock()

	m.persist(ctx, entity.ChannelOpenWindows, entity.ChannelMinimized)
	m.notifyChange()

	if m.activity != nil {
		if err := m.activity.SetChatActive(ctx, peerID, m.tab.UserID, false); err != nil {
			logger.LogBestEffort("clear chat active", peerID, err)
		}
	}
	return nil
}

// Windows lists the open windows ordered by peer id.
func (m *WindowSessionManager) Windows() []entity.WindowView {
	m.mu.Lock()
	views := m.state.Windows()
	m.mu.Unlock()

	out := make([]entity.WindowView, 0, len(views))
	for _, v := range views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeerID < out[j].PeerID
	})
	return out
}

// Window returns the live window for peerID in this tab.
func (m *WindowSessionManager) Window(peerID string) (*ChatWindow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[peerID]
	return w, ok
}

// State returns a copy of the merged state, tombstones included.
func (m *WindowSessionManager) State() entity.WindowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// nextRevLocked must be called with m.mu held.
func (m *WindowSessionManager) nextRevLocked() uint64 {
	if rev := m.state.MaxRev(); rev > m.clock {
		m.clock = rev
	}
	m.clock++
	return m.clock
}

func (m *WindowSessionManager) flagsLocked(channel string) entity.FlagMap {
	switch channel {
	case entity.ChannelOpenWindows:
		return m.state.Open
	case entity.ChannelMinimized:
		return m.state.Minimized
	}
	return nil
}

// persist saves the local flags of each channel and broadcasts them.
// Must be called with m.opMu held. Failures only cost durability, so they
// are logged.
func (m *WindowSessionManager) persist(ctx context.Context, channels ...string) {
	absorbed := false
	for _, channel := range channels {
		if m.save(ctx, channel) {
			absorbed = true
		}

		m.mu.Lock()
		snapshot := m.flagsLocked(channel).Clone()
		m.mu.Unlock()

		env := broadcast.Envelope{
			SessionID: m.tab.SessionID,
			Channel:   channel,
			Origin:    m.tab.TabID,
			Flags:     snapshot,
		}
		if err := m.bus.Publish(ctx, env); err != nil {
			logger.LogBestEffort("broadcast "+channel, m.tab.SessionID, err)
		}
	}
	if absorbed {
		m.syncWindows()
	}
}

// save folds the local flags into the stored ones and writes the result
// back. It reports whether the stored flags changed the local state.
func (m *WindowSessionManager) save(ctx context.Context, channel string) bool {
	stored, err := m.store.Load(ctx, m.tab.SessionID, channel)
	if err != nil {
		logger.LogBestEffort("load "+channel, m.tab.SessionID, err)
		return false
	}
	if stored == nil {
		stored = entity.FlagMap{}
	}

	m.mu.Lock()
	local := m.flagsLocked(channel)
	stored.Merge(local)
	absorbed := len(local.Merge(stored)) > 0
	if rev := stored.MaxRev(); rev > m.clock {
		m.clock = rev
	}
	stored.Prune(entity.TombstoneHorizon)
	local.Prune(entity.TombstoneHorizon)
	m.mu.Unlock()

	if err := m.store.Save(ctx, m.tab.SessionID, channel, stored); err != nil {
		logger.LogBestEffort("save "+channel, m.tab.SessionID, err)
	}
	return absorbed
}

// syncWindows makes the live windows match the merged state. Must be
// called with m.opMu held.
func (m *WindowSessionManager) syncWindows() {
	m.mu.Lock()
	desired := m.state.Windows()
	var stale []*ChatWindow
	for peerID, w := range m.windows {
		if _, ok := desired[peerID]; !ok {
			stale = append(stale, w)
			delete(m.windows, peerID)
		}
	}
	var update []*ChatWindow
	var missing []entity.WindowView
	for peerID, view := range desired {
		if w, ok := m.windows[peerID]; ok {
			if w.Minimized() != view.Minimized {
				update = append(update, w)
			}
			continue
		}
		missing = append(missing, view)
	}
	ctx := m.ctx
	m.mu.Unlock()

	for _, w := range stale {
		w.Close()
	}
	for _, w := range update {
		m.mu.Lock()
		minimized := m.state.IsMinimized(w.PeerID())
		m.mu.Unlock()
		if err := w.SetMinimized(ctx, minimized); err != nil {
			logger.Warn("WindowManager: reconcile for %s failed: %v", w.PeerID(), err)
		}
	}
	for _, view := range missing {
		profile, err := m.profiles.Get(ctx, view.PeerID)
		if err != nil {
			logger.Warn("WindowManager: no profile for restored window %s: %v", view.PeerID, err)
			continue
		}
		if err := m.ensureWindow(profile, view.Minimized); err != nil {
			logger.Error("WindowManager: restored window for %s failed to start: %v", view.PeerID, err)
		}
	}
}

// ensureWindow starts the window for profile if this tab has none yet and
// sets its minimized state. Must be called with m.opMu held.
func (m *WindowSessionManager) ensureWindow(profile *entity.PeerProfile, minimized bool) error {
	m.mu.Lock()
	existing, ok := m.windows[profile.UserID]
	ctx := m.ctx
	m.mu.Unlock()

	if ok {
		return existing.SetMinimized(ctx, minimized)
	}

	w := NewChatWindow(m.tab.UserID, profile, m.messages, m.limiter)
	if err := w.SetMinimized(ctx, minimized); err != nil {
		return err
	}
	w.OnChange(func() {
		m.notifyThread(w.View())
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.windows[profile.UserID] = w
	m.mu.Unlock()
	return nil
}

func (m *WindowSessionManager) notifyChange() {
	m.mu.Lock()
	listeners := m.listeners
	m.mu.Unlock()
	notify(listeners)
}

func (m *WindowSessionManager) notifyThread(view ThreadView) {
	m.mu.Lock()
	listeners := m.threadListeners
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(view)
	}
}
