package classification

import (
	"fmt"
	"regexp"

	"github.com/dustin/go-humanize"

	"github.com/qontrek/civos/pkg/contracts"
)

// Trigger word lists. They are matched case-insensitively on word boundaries
// against "<actionType> <userInput>".
const (
	HoldPattern          = `\b(pay|payment|contract|sign|delete|remove)\b`
	ConfirmPattern       = `\b(generate|create|send|quote|message)\b`
	InformationalPattern = `\b(what|how|tell me|explain|info|help|\?)\b`
)

// Fixed confidences per decision.
const (
	HoldConfidence          = 0.95
	ConfirmConfidence       = 0.76
	InformationalConfidence = 1.0
	DefaultConfidence       = 0.5
)

// Reasons produced by the decision table.
const (
	ReasonHoldKeyword   = "Payment/contract action detected"
	ReasonConfirm       = "Generate/send action requires confirmation"
	ReasonInformational = "Information query - auto execute"
	ReasonDefault       = "Default classification"
	reasonHighValue     = "High value: MYR %s exceeds threshold"
)

var (
	holdRe          = regexp.MustCompile("(?i)" + HoldPattern)
	confirmRe       = regexp.MustCompile("(?i)" + ConfirmPattern)
	informationalRe = regexp.MustCompile("(?i)" + InformationalPattern)
)

// decision is one row of the table: when match returns true the row's tier wins.
type decision struct {
	name       string
	tier       contracts.ClassificationType
	confidence float64
	match      func(text string, spend float64, th contracts.SpendThresholds) (reason string, ok bool)
}

// decisionTable is evaluated top to bottom, most restrictive first.
var decisionTable = []decision{
	{
		name:       "hold",
		tier:       contracts.TypeC,
		confidence: HoldConfidence,
		match: func(text string, spend float64, th contracts.SpendThresholds) (string, bool) {
			if spend > th.Hold {
				return fmt.Sprintf(reasonHighValue, humanize.Commaf(spend)), true
			}
			if holdRe.MatchString(text) {
				return ReasonHoldKeyword, true
			}
			return "", false
		},
	},
	{
		name:       "confirm",
		tier:       contracts.TypeB,
		confidence: ConfirmConfidence,
		match: func(text string, spend float64, th contracts.SpendThresholds) (string, bool) {
			if confirmRe.MatchString(text) || spend > th.Confirm {
				return ReasonConfirm, true
			}
			return "", false
		},
	},
	{
		name:       "informational",
		tier:       contracts.TypeA,
		confidence: InformationalConfidence,
		match: func(text string, spend float64, _ contracts.SpendThresholds) (string, bool) {
			if informationalRe.MatchString(text) || spend == 0 {
				return ReasonInformational, true
			}
			return "", false
		},
	},
}
