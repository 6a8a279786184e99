// Package gate decides which inbound messages reach the language model.
//
// A message passes through three ordered levels. Each returns a Decision;
// the pipeline stops at the first ALLOW or BLOCK and continues only on
// ANALYZE.
//
//	BASIC     structural checks, no I/O
//	CONTEXT   reply-chain provenance, at most one lookup
//	ADVANCED  resource governor and content policy
package gate

// Result is the outcome of one level.
type Result int

const (
	// Analyze passes the message to the next level.
	Analyze Result = iota
	// Allow sends the message to the model now.
	Allow
	// Block drops the message.
	Block
)

func (r Result) String() string {
	switch r {
	case Allow:
		return "allow"
	case Block:
		return "block"
	default:
		return "analyze"
	}
}

// Level names the stage that produced a Decision.
type Level int

const (
	LevelBasic Level = iota + 1
	LevelContext
	LevelAdvanced
)

func (l Level) String() string {
	switch l {
	case LevelBasic:
		return "basic"
	case LevelContext:
		return "context"
	case LevelAdvanced:
		return "advanced"
	default:
		return "unknown"
	}
}

// Decision is the verdict of a level or of the whole pipeline.
type Decision struct {
	Result Result
	Reason string
	Level  Level
	// Content is the user-directed text with mention markers stripped. It is
	// set on pipeline ALLOW decisions only.
	Content string
}

// Allowed reports whether the decision is ALLOW.
func (d Decision) Allowed() bool { return d.Result == Allow }

func allow(l Level, reason string) Decision { return Decision{Result: Allow, Level: l, Reason: reason} }
func block(l Level, reason string) Decision { return Decision{Result: Block, Level: l, Reason: reason} }
func analyze(l Level, reason string) Decision { return Decision{Result: Analyze, Level: l, Reason: reason} }

// Reasons produced by the gate. Governor reasons are passed through verbatim.
const (
	ReasonBotMessage      = "bot message"
	ReasonCommand         = "command invocation"
	ReasonNotAddressed    = "not addressed to companion"
	ReasonCommandPattern  = "structured command pattern"
	ReasonReplyToOther    = "reply to non-companion message"
	ReasonReplyToAI       = "reply to AI conversation"
	ReasonReplyToCommand  = "reply to command response"
	ReasonUnidentifiedBot = "unidentified bot message"
	ReasonLookupFailed    = "reference lookup failed"
	ReasonEmptyContent    = "empty message"
	ReasonContentTooLong  = "message too long"
	ReasonBlockedContent  = "blocked content"
	ReasonPassed          = "passed all checks"
)
