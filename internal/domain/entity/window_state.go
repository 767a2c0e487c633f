package entity

// Logical keys of the two session-scoped maps mirrored across tabs.
const (
	ChannelOpenWindows = "openWindows"
	ChannelMinimized   = "minimized"
)

// Flag is one boolean of the window session state together with the
// write that produced it. Rev is a Lamport clock shared by the tabs of a
// session and Origin identifies the writing tab.
type Flag struct {
	Value  bool   `json:"value"`
	Rev    uint64 `json:"rev"`
	Origin string `json:"origin"`
}

// Newer reports whether f should replace other when merging.
func (f Flag) Newer(other Flag) bool {
	if f.Rev != other.Rev {
		return f.Rev > other.Rev
	}
	return f.Origin > other.Origin
}

// FlagMap maps peer id to a flag. A closed window stays as a false flag so
// a stale "open" from another tab cannot resurrect it, until Prune drops
// it once enough newer writes have happened.
type FlagMap map[string]Flag

func (m FlagMap) Clone() FlagMap {
	out := make(FlagMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MaxRev returns the highest revision present.
func (m FlagMap) MaxRev() uint64 {
	var max uint64
	for _, v := range m {
		if v.Rev > max {
			max = v.Rev
		}
	}
	return max
}

// Merge folds remote into m, keeping the newer write per peer, and
// returns the peers whose flag changed.
func (m FlagMap) Merge(remote FlagMap) []string {
	var changed []string
	for peerID, incoming := range remote {
		current, ok := m[peerID]
		if ok && !incoming.Newer(current) {
			continue
		}
		m[peerID] = incoming
		changed = append(changed, peerID)
	}
	return changed
}

// TombstoneHorizon is how many revisions a false flag outlives before
// Prune may drop it.
const TombstoneHorizon = 64

// Prune drops false flags more than horizon revisions older than the
// newest flag and returns the peers dropped.
func (m FlagMap) Prune(horizon uint64) []string {
	max := m.MaxRev()
	if max <= horizon {
		return nil
	}
	var pruned []string
	for peerID, f := range m {
		if !f.Value && f.Rev < max-horizon {
			delete(m, peerID)
			pruned = append(pruned, peerID)
		}
	}
	return pruned
}

// WindowView is the state of one open chat window.
type WindowView struct {
	PeerID    string `json:"peer_id"`
	Open      bool   `json:"open"`
	Minimized bool   `json:"minimized"`
}

// WindowState is the per-session window state: which peers have a window
// and which of those are minimized.
type WindowState struct {
	Open      FlagMap `json:"open_windows"`
	Minimized FlagMap `json:"minimized"`
}

func NewWindowState() WindowState {
	return WindowState{Open: FlagMap{}, Minimized: FlagMap{}}
}

func (s WindowState) Clone() WindowState {
	return WindowState{Open: s.Open.Clone(), Minimized: s.Minimized.Clone()}
}

// Windows lists the windows that currently exist, keyed by peer.
func (s WindowState) Windows() map[string]WindowView {
	out := make(map[string]WindowView)
	for peerID, flag := range s.Open {
		if !flag.Value {
			continue
		}
		out[peerID] = WindowView{
			PeerID:    peerID,
			Open:      true,
			Minimized: s.Minimized[peerID].Value,
		}
	}
	return out
}

func (s WindowState) IsOpen(peerID string) bool {
	return s.Open[peerID].Value
}

func (s WindowState) IsMinimized(peerID string) bool {
	return s.Open[peerID].Value && s.Minimized[peerID].Value
}

func (s WindowState) MaxRev() uint64 {
	a, b := s.Open.MaxRev(), s.Minimized.MaxRev()
	if a > b {
		return a
	}
	return b
}
