package workflow

import (
	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

// Consent holds the two acknowledgements required before a stage is submitted.
type Consent struct {
	DataPrivacy       bool
	AuthorityToSubmit bool
}

// Complete reports whether both acknowledgements were given.
func (c Consent) Complete() bool {
	return c.DataPrivacy && c.AuthorityToSubmit
}

// ConsentGate is the checkpoint shown before a stage submission.
type ConsentGate struct {
	Stage   domain.Stage
	Consent Consent
}

// Open prepares the gate for a stage. Both consents are cleared so a previous stage's
// acknowledgement never carries forward.
func (g *ConsentGate) Open(stage domain.Stage) {
	g.Stage = stage
	g.Consent = Consent{}
}

// Accept records the acknowledgements for the stage the gate is open for.
func (g *ConsentGate) Accept(stage domain.Stage, consent Consent) {
	if g.Stage != stage {
		g.Open(stage)
	}
	g.Consent = consent
}

// Ready reports whether the submission may proceed.
func (g ConsentGate) Ready() bool {
	return g.Stage.Valid() && g.Consent.Complete()
}
