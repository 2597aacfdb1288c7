package workflow

import (
	"strings"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

// Role is the portal role of the acting user. It is always passed explicitly.
type Role string

const (
	RoleNominee       Role = "nominee"
	RoleREU           Role = "reu"
	RoleSCDTeamLeader Role = "scd_team_leader"
	RoleAdmin         Role = "admin"
	RoleEvaluator     Role = "evaluator"
)

// roleAliases folds legacy role spellings onto canonical roles.
var roleAliases = map[string]Role{
	"scd":             RoleSCDTeamLeader,
	"scd-team-leader": RoleSCDTeamLeader,
	"scdteamleader":   RoleSCDTeamLeader,
	"regional":        RoleREU,
}

// NormalizeRole converts a raw role claim into a canonical Role. Unknown roles come back empty.
func NormalizeRole(raw string) Role {
	value := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := roleAliases[value]; ok {
		return alias
	}
	switch role := Role(value); role {
	case RoleNominee, RoleREU, RoleSCDTeamLeader, RoleAdmin, RoleEvaluator:
		return role
	}
	return ""
}

// Capability is a discrete permission checked by services.
type Capability string

const (
	CapUploadDocuments    Capability = "documents.upload"
	CapSubmitStage        Capability = "stages.submit"
	CapViewAllNominees    Capability = "nominees.view_all"
	CapViewLaterStages    Capability = "stages.view_later"
	CapMarkRegionalPass   Capability = "stages.regional_pass"
	CapSetDocumentVerdict Capability = "verdicts.document"
	CapSetStageVerdict    Capability = "verdicts.stage"
	CapUnlockStage        Capability = "stages.unlock"
	CapEditCatalog        Capability = "catalog.edit"
	CapViewAuditLog       Capability = "auditlogs.view"
)

// capabilityRoles maps each capability to the roles permitted to use it.
// Evaluator unlocks are granted per deployment through UnlockPolicy, not here.
var capabilityRoles = map[Capability][]Role{
	CapUploadDocuments:    {RoleNominee},
	CapSubmitStage:        {RoleNominee},
	CapViewAllNominees:    {RoleREU, RoleSCDTeamLeader, RoleAdmin, RoleEvaluator},
	CapViewLaterStages:    {RoleNominee, RoleSCDTeamLeader, RoleAdmin, RoleEvaluator},
	CapMarkRegionalPass:   {RoleREU},
	CapSetDocumentVerdict: {RoleSCDTeamLeader, RoleAdmin, RoleEvaluator},
	CapSetStageVerdict:    {RoleSCDTeamLeader, RoleAdmin},
	CapUnlockStage:        {RoleSCDTeamLeader, RoleAdmin},
	CapEditCatalog:        {RoleAdmin},
	CapViewAuditLog:       {RoleSCDTeamLeader, RoleAdmin, RoleEvaluator},
}

// HasCapability reports whether the role grants the capability.
func HasCapability(role Role, capability Capability) bool {
	for _, allowed := range capabilityRoles[capability] {
		if allowed == role {
			return true
		}
	}
	return false
}

// IsStaff reports whether the role belongs to the evaluation side.
func IsStaff(role Role) bool {
	return HasCapability(role, CapViewAllNominees)
}

// VerdictScope distinguishes per-document from per-stage verdicts.
type VerdictScope string

const (
	VerdictScopeDocument VerdictScope = "document"
	VerdictScopeStage    VerdictScope = "stage"
)

// UnlockPolicy carries deployment-specific unlock authority for the evaluator role.
type UnlockPolicy struct {
	EvaluatorStages []domain.Stage
}

// CanUnlockStage reports whether the role may toggle the unlock flag of the stage. Only stages 2 and 3
// carry unlock flags.
func CanUnlockStage(role Role, stage domain.Stage, policy UnlockPolicy) bool {
	if stage != domain.Stage2 && stage != domain.Stage3 {
		return false
	}
	if HasCapability(role, CapUnlockStage) {
		return true
	}
	if role != RoleEvaluator {
		return false
	}
	for _, allowed := range policy.EvaluatorStages {
		if allowed == stage {
			return true
		}
	}
	return false
}

// CanSetVerdict reports whether the role may record verdicts at the given scope.
func CanSetVerdict(role Role, scope VerdictScope) bool {
	switch scope {
	case VerdictScopeDocument:
		return HasCapability(role, CapSetDocumentVerdict)
	case VerdictScopeStage:
		return HasCapability(role, CapSetStageVerdict)
	default:
		return false
	}
}

// CanViewStage reports whether the role may see the documents of a stage.
func CanViewStage(role Role, stage domain.Stage) bool {
	if !stage.Valid() {
		return false
	}
	if stage == domain.Stage1 {
		return role == RoleNominee || IsStaff(role)
	}
	return HasCapability(role, CapViewLaterStages)
}

// CanMarkRegionalPass reports whether the role may mark stage 1 as regionally passed.
func CanMarkRegionalPass(role Role) bool {
	return HasCapability(role, CapMarkRegionalPass)
}

// CanUpload reports whether the role may upload documents into slots.
func CanUpload(role Role) bool {
	return HasCapability(role, CapUploadDocuments)
}

// CanSubmitStage reports whether the role may finalise a stage submission.
func CanSubmitStage(role Role) bool {
	return HasCapability(role, CapSubmitStage)
}

// CanEditCatalog reports whether the role may replace requirement catalogs.
func CanEditCatalog(role Role) bool {
	return HasCapability(role, CapEditCatalog)
}
