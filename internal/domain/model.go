package domain

import "time"

// Core engine models. API payload shapes live in the HTTP adapter; keep these
// decoupled where helpful.

// Channel identifies the surface a content unit came from.
type Channel string

const (
	ChannelCall  Channel = "call"
	ChannelSMS   Channel = "sms"
	ChannelURL   Channel = "url"
	ChannelEmail Channel = "email"
	ChannelFeed  Channel = "feed"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelCall, ChannelSMS, ChannelURL, ChannelEmail, ChannelFeed}

func (c Channel) Valid() bool {
	switch c {
	case ChannelCall, ChannelSMS, ChannelURL, ChannelEmail, ChannelFeed:
		return true
	}
	return false
}

// MatchKind selects how a signature pattern is tested against content.
type MatchKind string

const (
	MatchKeyword MatchKind = "keyword"
	MatchPhrase  MatchKind = "phrase"
	MatchRegex   MatchKind = "regex"
	MatchSender  MatchKind = "sender-pattern"
)

func (k MatchKind) Valid() bool {
	switch k {
	case MatchKeyword, MatchPhrase, MatchRegex, MatchSender:
		return true
	}
	return false
}

// Category is the threat category a signature belongs to.
type Category string

const (
	CategoryPhishing       Category = "phishing"
	CategoryFraud          Category = "fraud"
	CategoryHarassment     Category = "harassment"
	CategoryExtremism      Category = "extremism"
	CategoryImpersonation  Category = "impersonation"
	CategoryLoanHarassment Category = "loan_harassment"
)

// Signature is a single weighted detection rule. Inactive signatures never
// contribute to new scoring; historical detections referencing them stay as
// written.
type Signature struct {
	ID        string
	Category  Category
	Kind      MatchKind
	Pattern   string
	Language  string // empty = wildcard
	Region    string // empty = wildcard
	Weight    float64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Content is one normalized unit submitted for scoring.
// (SessionID, Sequence) is the idempotency key for session traffic; one-shot
// checks carry an empty SessionID.
type Content struct {
	Channel   Channel
	SessionID string
	Sequence  int64
	Text      string // normalized (lowercased, control chars stripped)
	Original  string // as received, kept for audit
	Language  string
	Region    string
	Metadata  map[string]string
	Timestamp time.Time

	// Degraded marks a unit whose extraction failed; it is scored with zero
	// signal so session sequences stay complete.
	Degraded bool

	// Synthetic marks a placeholder written by the sweeper for a sequence
	// gap that never resolved.
	Synthetic bool
}

// Meta returns a metadata value or "".
func (c Content) Meta(key string) string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[key]
}

// Band is the discrete severity level derived from a score.
type Band string

const (
	BandNone     Band = "none"
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

var bandRank = map[Band]int{
	BandNone:     0,
	BandLow:      1,
	BandMedium:   2,
	BandHigh:     3,
	BandCritical: 4,
}

// Rank orders bands for comparison; unknown bands rank below None.
func (b Band) Rank() int {
	if r, ok := bandRank[b]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether b is the same or a more severe band than other.
func (b Band) AtLeast(other Band) bool { return b.Rank() >= other.Rank() }

// Action is the recommended response for a band.
type Action string

const (
	ActionContinue       Action = "continue"
	ActionMonitor        Action = "monitor"
	ActionWarn           Action = "warn"
	ActionWarnOfferBlock Action = "warn_offer_block"
	ActionRecommendBlock Action = "recommend_block"
	ActionBlock          Action = "block"
)

// SessionState is the lifecycle state of a scoring session.
type SessionState string

const (
	SessionOpen      SessionState = "open"
	SessionScoring   SessionState = "scoring"
	SessionEscalated SessionState = "escalated"
	SessionClosed    SessionState = "closed"
)

// Session accumulates score across the content units of one live interaction.
// CumulativeScore is capped at 100 and never decreases while the session is
// open. MaxBand records the most severe band ever reached and drives the
// hysteresis floor.
type Session struct {
	ID              string
	Channel         Channel
	State           SessionState
	CumulativeScore float64
	CurrentBand     Band
	MaxBand         Band
	OpenedAt        time.Time
	LastSeenAt      time.Time
	ClosedAt        *time.Time
}

// MatchResult is one signature hit inside a detection event. Tagged for the
// ledger's jsonb column and alert payloads.
type MatchResult struct {
	SignatureID string    `json:"signature_id"`
	Category    Category  `json:"category"`
	Kind        MatchKind `json:"kind"`
	Weight      float64   `json:"weight"`
	Points      float64   `json:"points"`
}

// DetectionEvent is the immutable record of one scoring step. Owned by the
// ledger; never mutated after creation.
type DetectionEvent struct {
	ID              string
	Channel         Channel
	SessionID       string
	Sequence        int64
	Score           float64
	CumulativeScore float64
	Matches         []MatchResult
	Band            Band
	Action          Action
	Recommendation  string
	Degraded        bool
	Synthetic       bool // gap filler written by the sweeper
	CreatedAt       time.Time
}

// SignatureStatistic carries per-signature match counters, read by operators
// to retire noisy signatures.
type SignatureStatistic struct {
	SignatureID     string
	OccurrenceCount int64
	LastSeenAt      time.Time
}

// ChannelStatistic carries per-channel scan counters.
type ChannelStatistic struct {
	Channel      Channel
	Scored       int64
	Threats      int64 // band >= high
	Blocks       int64 // block recommended
	LastScoredAt time.Time
	LastThreatAt *time.Time
}

// Alert is the payload handed to the notification collaborator on a band
// transition. It carries no raw content beyond what the channel already did.
type Alert struct {
	SessionID string
	Channel   Channel
	Band      Band
	PrevBand  Band
	Action    Action
	Matches   []MatchResult
	Timestamp time.Time
}
