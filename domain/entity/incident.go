package entity

import (
	"fmt"
	"strings"
	"time"
)

type Status int

const (
	StatusOpen          Status = 10
	StatusInvestigating Status = 20
	StatusMitigating    Status = 30
	StatusMitigated     Status = 40
	StatusPostMortem    Status = 50
	StatusClosed        Status = 60
)

var statusLabels = map[Status]string{
	StatusOpen:          "open",
	StatusInvestigating: "investigating",
	StatusMitigating:    "mitigating",
	StatusMitigated:     "mitigated",
	StatusPostMortem:    "post_mortem",
	StatusClosed:        "closed",
}

// Statuses はワークフロー順のステータス一覧
func Statuses() []Status {
	return []Status{
		StatusOpen,
		StatusInvestigating,
		StatusMitigating,
		StatusMitigated,
		StatusPostMortem,
		StatusClosed,
	}
}

func (s Status) String() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) Before(o Status) bool {
	return s < o
}

func ParseStatus(v string) (Status, error) {
	for s, l := range statusLabels {
		if strings.EqualFold(l, strings.TrimSpace(v)) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status: %q", v)
}

type ClosureReason string

const (
	ClosureReasonResolved      ClosureReason = "resolved"
	ClosureReasonDuplicate     ClosureReason = "duplicate"
	ClosureReasonFalsePositive ClosureReason = "false_positive"
	ClosureReasonSuperseded    ClosureReason = "superseded"
	ClosureReasonExternal      ClosureReason = "external"
	ClosureReasonCancelled     ClosureReason = "cancelled"
)

var closureReasonLabels = map[ClosureReason]string{
	ClosureReasonResolved:      "解決済み",
	ClosureReasonDuplicate:     "重複",
	ClosureReasonFalsePositive: "誤検知",
	ClosureReasonSuperseded:    "別インシデントに統合",
	ClosureReasonExternal:      "外部要因",
	ClosureReasonCancelled:     "取り消し",
}

func (r ClosureReason) Valid() bool {
	_, ok := closureReasonLabels[r]
	return ok
}

func (r ClosureReason) Label() string {
	return closureReasonLabels[r]
}

// EarlyClosureReasons は緩和前にクローズする際に選べる理由
// resolvedは通常のクローズ用なので含まない
func EarlyClosureReasons() []ClosureReason {
	return []ClosureReason{
		ClosureReasonDuplicate,
		ClosureReasonFalsePositive,
		ClosureReasonSuperseded,
		ClosureReasonExternal,
		ClosureReasonCancelled,
	}
}

type Incident struct {
	ID            int           `json:"id" dynamo:"id,hash"`
	Title         string        `json:"title" dynamo:"title"`
	Description   string        `json:"description" dynamo:"description"`
	Status        Status        `json:"status" dynamo:"status"`
	Priority      int           `json:"priority" dynamo:"priority"`
	Environment   string        `json:"environment" dynamo:"environment"`
	CategoryID    int           `json:"category_id" dynamo:"category_id"`
	CreatedBy     User          `json:"created_by" dynamo:"created_by"`
	CreatedAt     time.Time     `json:"created_at" dynamo:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" dynamo:"updated_at"`
	MitigatedAt   *time.Time    `json:"mitigated_at" dynamo:"mitigated_at,omitempty"`
	ClosedAt      *time.Time    `json:"closed_at" dynamo:"closed_at,omitempty"`
	ClosureReason ClosureReason `json:"closure_reason" dynamo:"closure_reason,omitempty"`
	Ignore        bool          `json:"ignore" dynamo:"ignore"`
	Private       bool          `json:"private" dynamo:"private"`
	Version       int           `json:"version" dynamo:"version"`
}

func (i *Incident) IsClosed() bool {
	return i.Status == StatusClosed
}

// Slug はチャンネル名などに使う識別子
func (i *Incident) Slug() string {
	return fmt.Sprintf("%d", i.ID)
}
