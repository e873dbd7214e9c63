// Package permission decides whether an identity may perform a named
// action against a target scope, based on the permission grants
// aggregated during trust resolution.
package permission

// Permission keys referenced by the action table and by declaration
// permission flags.
const (
	KeyModerate           = "can_moderate"
	KeyDelegateModerators = "can_delegate_moderators"
	KeyPublish            = "can_publish"
	KeyIssueDeclarations  = "can_issue_declarations"
	KeyCountersign        = "can_countersign"
	KeyAssignTrust        = "can_assign_trust"
	KeyCreateChannels     = "can_create_channels"
)

// Requirement is what an action demands: every listed permission key
// enabled on a matching grant, plus a minimum trust level.
type Requirement struct {
	Keys          []string
	MinTrustLevel int
}

// actionTable is the fixed mapping from action names to requirements.
// Unknown actions are rejected, never defaulted.
var actionTable = map[string]Requirement{
	"moderation.mute-user":    {Keys: []string{KeyModerate}, MinTrustLevel: 5},
	"moderation.delete-post":  {Keys: []string{KeyModerate, KeyDelegateModerators}, MinTrustLevel: 7},
	"moderation.ban-user":     {Keys: []string{KeyModerate, KeyDelegateModerators}, MinTrustLevel: 8},
	"content.publish":         {Keys: []string{KeyPublish}, MinTrustLevel: 4},
	"content.curate":          {Keys: []string{KeyPublish, KeyModerate}, MinTrustLevel: 6},
	"channel.create":          {Keys: []string{KeyCreateChannels}, MinTrustLevel: 5},
	"trust.issue-declaration": {Keys: []string{KeyIssueDeclarations}, MinTrustLevel: 11},
	"trust.countersign":       {Keys: []string{KeyCountersign}, MinTrustLevel: 8},
	"trust.assign":            {Keys: []string{KeyAssignTrust}, MinTrustLevel: 20},
}

// Lookup resolves an action name to its requirement.
func Lookup(action string) (Requirement, bool) {
	req, ok := actionTable[action]
	return req, ok
}

// Actions lists the known action names, for CLI help and validation.
func Actions() []string {
	out := make([]string, 0, len(actionTable))
	for name := range actionTable {
		out = append(out, name)
	}
	return out
}
