package executor

import (
	"github.com/AltairaLabs/mcpchat/internal/orchestrator/config"
)

// ToolApproval overrides the approval policy for one tool
type ToolApproval struct {
	RequireApproval bool
	AllowEdit       bool
}

// ApprovalPolicy decides which tool calls need a human approval
type ApprovalPolicy struct {
	RequireByDefault bool
	AllowEditDefault bool
	Tools            map[string]ToolApproval
}

// PolicyFromConfig builds the policy from application configuration
func PolicyFromConfig(cfg *config.Config) ApprovalPolicy {
	tools := make(map[string]ToolApproval)
	for name, t := range cfg.ToolApprovals() {
		tools[name] = ToolApproval{RequireApproval: t.RequireApproval, AllowEdit: t.AllowEdit}
	}
	return ApprovalPolicy{
		RequireByDefault: cfg.Approval.RequireByDefault,
		AllowEditDefault: cfg.Approval.AllowEditDefault,
		Tools:            tools,
	}
}

// For returns whether tool needs approval and whether the approver may edit its arguments.
// The canvas tool never needs approval.
func (p ApprovalPolicy) For(tool string) (require, allowEdit bool) {
	if tool == config.CanvasToolName {
		return false, false
	}
	if t, ok := p.Tools[tool]; ok {
		return t.RequireApproval, t.AllowEdit
	}
	return p.RequireByDefault, p.AllowEditDefault
}
