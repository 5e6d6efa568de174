package types

// Service names exchanged between the host document and an embedded
// widget frame. These are the complete wire vocabulary of the channel;
// both sides register handlers under these exact names.
const (
	ServiceInitSession    = "init_session"    // widget→host: "" or "force"
	ServiceSendSession    = "send_session"    // host→widget: SessionInfo
	ServiceUpdateProgress = "update_progress" // widget→host: ProgressUpdate
	ServiceUpdateSession  = "update_session"  // widget→host: SessionInfo
	ServiceUpdateLayout   = "update_layout"   // widget→host: LayoutInfo
)

// InitForce is the init_session payload that retriggers the session
// handshake regardless of prior state. Both peers may race to
// initialize after connect, so the receiving end must be idempotent.
const InitForce = "force"

// SessionInfo is the authoritative progress record shared between host
// and widget for one user's interaction with one widget instance. The
// host persists the server-side copy; each side holds a transient
// in-memory one. Progress and Score are always in [0,100].
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Progress  int    `json:"progress"`
	Score     int    `json:"score"`
	UserData  string `json:"user_data"`
}

// ProgressUpdate is the subset of SessionInfo sent on frequent
// interaction events such as each quiz question answered.
type ProgressUpdate struct {
	Progress int `json:"progress"`
	Score    int `json:"score"`
}

// LayoutInfo carries the widget's desired on-screen size in pixels.
// The host applies only height adjustments, and only when they grow
// the frame. Height uses a pointer so an absent field is
// distinguishable from zero.
type LayoutInfo struct {
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
}

// ScoreUpdate is the persistence request the host controller issues
// when a gated progress update passes the completed/ignore checks.
// DocID and TrunkID identify the containing document revision and its
// lineage; both are opaque keys to this layer. Absolute makes the
// update overwrite the document score instead of averaging into it.
type ScoreUpdate struct {
	WidgetID string `json:"widget_id"`
	DocID    string `json:"doc_id"`
	TrunkID  string `json:"trunk_id"`
	Progress int    `json:"progress"`
	Score    int    `json:"score"`
	Absolute bool   `json:"absolute"`
}

// SessionUpdate is the persistence request for a full update_session
// call. UserData is persisted unconditionally; Progress/Score are
// subject to the same gating as ScoreUpdate and are applied only when
// ApplyScore is set, so a gated update can still carry user data
// without regressing the stored score.
type SessionUpdate struct {
	WidgetID   string `json:"widget_id"`
	DocID      string `json:"doc_id"`
	TrunkID    string `json:"trunk_id"`
	SessionID  string `json:"session_id"`
	Progress   int    `json:"progress"`
	Score      int    `json:"score"`
	UserData   string `json:"user_data"`
	Absolute   bool   `json:"absolute"`
	ApplyScore bool   `json:"apply_score"`
}
