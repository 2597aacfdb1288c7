package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

func TestCapabilityMatrix(t *testing.T) {
	t.Parallel()

	policy := UnlockPolicy{EvaluatorStages: []domain.Stage{domain.Stage2}}

	cases := []struct {
		role         Role
		unlock2      bool
		unlock3      bool
		docVerdict   bool
		stageVerdict bool
		regionalPass bool
		upload       bool
		viewStage2   bool
		editCatalog  bool
	}{
		{RoleNominee, false, false, false, false, false, true, true, false},
		{RoleREU, false, false, false, false, true, false, false, false},
		{RoleSCDTeamLeader, true, true, true, true, false, false, true, false},
		{RoleAdmin, true, true, true, true, false, false, true, true},
		{RoleEvaluator, true, false, true, false, false, false, true, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.role), func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.unlock2, CanUnlockStage(tc.role, domain.Stage2, policy))
			require.Equal(t, tc.unlock3, CanUnlockStage(tc.role, domain.Stage3, policy))
			require.False(t, CanUnlockStage(tc.role, domain.Stage1, policy))
			require.Equal(t, tc.docVerdict, CanSetVerdict(tc.role, VerdictScopeDocument))
			require.Equal(t, tc.stageVerdict, CanSetVerdict(tc.role, VerdictScopeStage))
			require.Equal(t, tc.regionalPass, CanMarkRegionalPass(tc.role))
			require.Equal(t, tc.upload, CanUpload(tc.role))
			require.Equal(t, tc.viewStage2, CanViewStage(tc.role, domain.Stage2))
			require.True(t, CanViewStage(tc.role, domain.Stage1))
			require.Equal(t, tc.editCatalog, CanEditCatalog(tc.role))
		})
	}
}

func TestEvaluatorUnlockDependsOnPolicy(t *testing.T) {
	t.Parallel()

	require.False(t, CanUnlockStage(RoleEvaluator, domain.Stage2, UnlockPolicy{}))
	require.True(t, CanUnlockStage(RoleEvaluator, domain.Stage3, UnlockPolicy{EvaluatorStages: []domain.Stage{domain.Stage3}}))
}

func TestNormalizeRole(t *testing.T) {
	t.Parallel()

	require.Equal(t, RoleSCDTeamLeader, NormalizeRole("scd"))
	require.Equal(t, RoleSCDTeamLeader, NormalizeRole(" SCD_Team_Leader "))
	require.Equal(t, RoleREU, NormalizeRole("REU"))
	require.Equal(t, Role(""), NormalizeRole("superuser"))
}

func TestFilePolicyByContext(t *testing.T) {
	t.Parallel()

	portal1 := FilePolicyFor(UploadContextPortal, domain.Stage1)
	require.Nil(t, portal1.Check("scan.png", "image/png"))
	require.Nil(t, portal1.Check("scan.JPG", ""))
	require.Nil(t, portal1.Check("policy.pdf", "application/pdf"))
	require.NotNil(t, portal1.Check("policy.docx", ""))

	portal3 := FilePolicyFor(UploadContextPortal, domain.Stage3)
	notice := portal3.Check("best-practice.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	require.NotNil(t, notice)
	require.Equal(t, NoticeFileTypeRejected, notice.Code)
	require.Contains(t, notice.Message, "PDF only")
	require.NotNil(t, portal3.Check("photo.png", "image/png"))

	resubmission := FilePolicyFor(UploadContextResubmission, domain.Stage1)
	require.NotNil(t, resubmission.Check("scan.png", "image/png"))
	require.Nil(t, resubmission.Check("scan.pdf", "application/pdf; charset=binary"))
	require.NotNil(t, resubmission.Check("renamed.pdf", "image/png"))
}

func TestProgressRange(t *testing.T) {
	t.Parallel()

	portal := ProgressRangeFor(UploadContextPortal)
	require.Equal(t, 5, portal.Clamp(0))
	require.Equal(t, 40, portal.Clamp(40))
	require.Equal(t, 95, portal.Clamp(100))

	resubmission := ProgressRangeFor(UploadContextResubmission)
	require.Equal(t, 10, resubmission.Clamp(3))
	require.Equal(t, 99, resubmission.Clamp(100))
}

func TestConsentGateResetsOnOpen(t *testing.T) {
	t.Parallel()

	var gate ConsentGate
	gate.Open(domain.Stage1)
	require.False(t, gate.Ready())

	gate.Accept(domain.Stage1, Consent{DataPrivacy: true})
	require.False(t, gate.Ready())
	gate.Accept(domain.Stage1, Consent{DataPrivacy: true, AuthorityToSubmit: true})
	require.True(t, gate.Ready())

	gate.Open(domain.Stage2)
	require.False(t, gate.Ready())
	require.Equal(t, Consent{}, gate.Consent)
}

func TestCheckSubmission(t *testing.T) {
	t.Parallel()

	full := Consent{DataPrivacy: true, AuthorityToSubmit: true}
	lenient := SubmissionPolicy{}
	strict := SubmissionPolicy{MinProgress: map[domain.Stage]int{domain.Stage3: 100}}

	notice := CheckSubmission(SubmissionInput{Stage: 1, Unlocked: true, Progress: 0, Consent: full}, lenient)
	require.NotNil(t, notice)
	require.Equal(t, NoticeSubmissionIncomplete, notice.Code)
	require.Equal(t, NoticeWarning, notice.Level)

	require.Nil(t, CheckSubmission(SubmissionInput{Stage: 1, Unlocked: true, Progress: 25, Consent: full}, lenient))

	notice = CheckSubmission(SubmissionInput{Stage: 1, Unlocked: true, Progress: 25, Consent: Consent{DataPrivacy: true}}, lenient)
	require.NotNil(t, notice)
	require.Equal(t, NoticeConsentRequired, notice.Code)

	notice = CheckSubmission(SubmissionInput{Stage: 3, Unlocked: true, Progress: 50, Consent: full}, strict)
	require.NotNil(t, notice)
	require.Equal(t, NoticeSubmissionIncomplete, notice.Code)
	require.Nil(t, CheckSubmission(SubmissionInput{Stage: 3, Unlocked: true, Progress: 100, Consent: full}, strict))

	notice = CheckSubmission(SubmissionInput{Stage: 2, Unlocked: false, Progress: 100, Consent: full}, lenient)
	require.NotNil(t, notice)
	require.Equal(t, NoticeStageNotReached, notice.Code)
}

func TestAdvanceStatusIsForwardOnly(t *testing.T) {
	t.Parallel()

	require.Equal(t, domain.NomineeStatusInProgress, AdvanceStatus(domain.NomineeStatusPending, domain.NomineeStatusInProgress))
	require.Equal(t, domain.NomineeStatusUnderReview, AdvanceStatus(domain.NomineeStatusUnderReview, domain.NomineeStatusInProgress))
	require.Equal(t, domain.NomineeStatusCompleted, AdvanceStatus(domain.NomineeStatusSubmitted, domain.NomineeStatusCompleted))
	require.Equal(t, domain.NomineeStatusInProgress, AdvanceStatus("", domain.NomineeStatusInProgress))
}

func TestCatalogFallback(t *testing.T) {
	t.Parallel()

	catalogs, err := DefaultCatalogs()
	require.NoError(t, err)
	require.Len(t, catalogs, 4)

	category, catalog := ResolveCatalog(catalogs, "Micro Enterprise")
	require.Equal(t, domain.CategoryMicro, category)
	require.Len(t, catalog.Stage1, 4)

	category, catalog = ResolveCatalog(catalogs, "unheard-of")
	require.Equal(t, domain.CategoryIndustry, category)
	require.Equal(t, catalogs[domain.CategoryIndustry], catalog)

	category, _ = ResolveCatalog(catalogs, "private")
	require.Equal(t, domain.CategoryIndustry, category)

	category, _ = ResolveCatalog(catalogs, "GOVERNMENT AGENCY")
	require.Equal(t, domain.CategoryGovernment, category)
}

func TestParseCatalogsRejectsUnknownCategory(t *testing.T) {
	t.Parallel()

	_, err := ParseCatalogs([]byte("categories:\n  martian:\n    stage1: []\n"))
	require.Error(t, err)

	catalogs, err := ParseCatalogs([]byte("categories:\n  individual:\n    stage1:\n      - {label: CV}\n"))
	require.NoError(t, err)
	require.Len(t, catalogs[domain.CategoryIndividual].Stage1, 1)
	require.Empty(t, catalogs[domain.CategoryIndividual].Stage2)
}

func TestBuildViewHidesStagesForREU(t *testing.T) {
	t.Parallel()

	nominee := domain.Nominee{ID: "n", Round2Unlocked: true, Documents: []domain.DocumentRecord{{SlotID: "r1-0"}}}
	view := BuildView(nominee, domain.CategoryIndustry, testCatalog(), RoleREU, SubmissionPolicy{})
	require.Len(t, view.Stages, 1)
	require.Len(t, view.Slots, 4)
	require.Equal(t, 25, view.Stages[0].Progress)

	view = BuildView(nominee, domain.CategoryIndustry, testCatalog(), RoleAdmin, SubmissionPolicy{})
	require.Len(t, view.Stages, 3)
	require.Len(t, view.Slots, 7)
	require.True(t, view.Stages[1].Unlocked)
	require.False(t, view.Stages[2].Unlocked)
}
