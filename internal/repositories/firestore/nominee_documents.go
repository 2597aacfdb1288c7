package firestore

import (
	"strconv"
	"time"

	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

type nomineeDocument struct {
	ID               string                             `firestore:"-"`
	RegistrationCode string                             `firestore:"registrationCode"`
	DisplayName      string                             `firestore:"displayName"`
	Category         string                             `firestore:"category"`
	Region           string                             `firestore:"region"`
	OwnerUID         string                             `firestore:"ownerUid"`
	Round2Unlocked   bool                               `firestore:"round2Unlocked"`
	Round3Unlocked   bool                               `firestore:"round3Unlocked"`
	Status           string                             `firestore:"status"`
	Documents        []documentRecordDocument           `firestore:"documents"`
	StageVerdicts    map[string]string                  `firestore:"stageVerdicts"`
	StageSubmissions map[string]stageSubmissionDocument `firestore:"stageSubmissions"`
	RegionalPass     *regionalPassDocument              `firestore:"regionalPass,omitempty"`
	ActivatedAt      *time.Time                         `firestore:"activatedAt,omitempty"`
	CreatedAt        time.Time                          `firestore:"createdAt"`
	UpdatedAt        time.Time                          `firestore:"updatedAt"`
}

// SetID receives the document id from the decoder.
func (d *nomineeDocument) SetID(id string) { d.ID = id }

type documentRecordDocument struct {
	Name    string    `firestore:"name"`
	Type    string    `firestore:"type"`
	URL     string    `firestore:"url"`
	Date    time.Time `firestore:"date"`
	SlotID  string    `firestore:"slotId"`
	Remarks string    `firestore:"remarks,omitempty"`
	Verdict string    `firestore:"verdict,omitempty"`
}

type stageSubmissionDocument struct {
	SubmittedAt time.Time `firestore:"submittedAt"`
	SubmittedBy string    `firestore:"submittedBy"`
	Progress    int       `firestore:"progress"`
}

type regionalPassDocument struct {
	MarkedBy string    `firestore:"markedBy"`
	MarkedAt time.Time `firestore:"markedAt"`
}

func (d nomineeDocument) documents() []domain.DocumentRecord {
	out := make([]domain.DocumentRecord, 0, len(d.Documents))
	for _, rec := range d.Documents {
		out = append(out, domain.DocumentRecord{
			Name:    rec.Name,
			Type:    rec.Type,
			URL:     rec.URL,
			Date:    rec.Date,
			SlotID:  rec.SlotID,
			Remarks: rec.Remarks,
			Verdict: domain.Verdict(rec.Verdict),
		})
	}
	return out
}

func fromDomainDocuments(records []domain.DocumentRecord) []documentRecordDocument {
	out := make([]documentRecordDocument, 0, len(records))
	for _, rec := range records {
		out = append(out, documentRecordDocument{
			Name:    rec.Name,
			Type:    rec.Type,
			URL:     rec.URL,
			Date:    rec.Date,
			SlotID:  rec.SlotID,
			Remarks: rec.Remarks,
			Verdict: string(rec.Verdict),
		})
	}
	return out
}

func (d nomineeDocument) toDomain() domain.Nominee {
	nominee := domain.Nominee{
		ID:               d.ID,
		RegistrationCode: d.RegistrationCode,
		DisplayName:      d.DisplayName,
		Category:         domain.Category(d.Category),
		Region:           d.Region,
		OwnerUID:         d.OwnerUID,
		Round2Unlocked:   d.Round2Unlocked,
		Round3Unlocked:   d.Round3Unlocked,
		Status:           domain.NomineeStatus(d.Status),
		Documents:        d.documents(),
		StageVerdicts:    make(map[domain.Stage]domain.StageVerdict, len(d.StageVerdicts)),
		StageSubmissions: make(map[domain.Stage]domain.StageSubmission, len(d.StageSubmissions)),
		ActivatedAt:      d.ActivatedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if nominee.Status == "" {
		nominee.Status = domain.NomineeStatusPending
	}
	for key, verdict := range d.StageVerdicts {
		if stage, ok := parseStageKey(key); ok && verdict != "" {
			nominee.StageVerdicts[stage] = domain.StageVerdict(verdict)
		}
	}
	for key, sub := range d.StageSubmissions {
		if stage, ok := parseStageKey(key); ok {
			nominee.StageSubmissions[stage] = domain.StageSubmission{
				SubmittedAt: sub.SubmittedAt,
				SubmittedBy: sub.SubmittedBy,
				Progress:    sub.Progress,
			}
		}
	}
	if d.RegionalPass != nil {
		nominee.RegionalPass = &domain.RegionalPass{MarkedBy: d.RegionalPass.MarkedBy, MarkedAt: d.RegionalPass.MarkedAt}
	}
	return nominee
}

func parseStageKey(key string) (domain.Stage, bool) {
	n, err := strconv.Atoi(key)
	if err != nil {
		return 0, false
	}
	stage := domain.Stage(n)
	return stage, stage.Valid()
}
