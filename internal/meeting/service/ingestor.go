package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/clock"
	"github.com/smallbiznis/dealcadence/internal/meeting/domain"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	"github.com/smallbiznis/dealcadence/internal/observability/metrics"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"github.com/smallbiznis/dealcadence/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type IngestorParams struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            domain.Repository
	OpportunityRepo opportunitydomain.Repository
	Recalculator    nextcalldomain.Recalculator
	Metrics         *metrics.Metrics `optional:"true"`
}

type Ingestor struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            domain.Repository
	opportunityRepo opportunitydomain.Repository
	recalculator    nextcalldomain.Recalculator
	metrics         *metrics.Metrics
}

func NewIngestor(p IngestorParams) domain.Ingestor {
	return &Ingestor{
		db:              p.DB,
		log:             p.Log.Named("meeting.ingestor"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		opportunityRepo: p.OpportunityRepo,
		recalculator:    p.Recalculator,
		metrics:         p.Metrics,
	}
}

func (s *Ingestor) RecordCallRecording(ctx context.Context, req domain.RecordCallRecordingRequest) (domain.IngestResult[domain.CallRecording], error) {
	var result domain.IngestResult[domain.CallRecording]

	in, err := s.validate(req.OpportunityID, req.Provider, req.ExternalCallID, req.MeetingDate, req.Status)
	if err != nil {
		return result, err
	}
	opportunity, err := s.loadOpportunity(ctx, in.opportunityID)
	if err != nil {
		return result, err
	}

	prior, err := s.repo.FindCallRecording(ctx, s.db, opportunity.OrgID, in.provider, in.externalID)
	if err != nil {
		return result, err
	}

	now := s.clock.Now().UTC()
	recording := domain.CallRecording{
		ID:             s.genID.Generate(),
		OrgID:          opportunity.OrgID,
		OpportunityID:  opportunity.ID,
		Provider:       in.provider,
		ExternalCallID: in.externalID,
		MeetingDate:    in.meetingDate,
		Status:         in.status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.UpsertCallRecording(ctx, s.db, &recording); err != nil {
		return result, err
	}
	stored, err := s.repo.FindCallRecording(ctx, s.db, opportunity.OrgID, in.provider, in.externalID)
	if err != nil {
		return result, err
	}
	if stored != nil {
		recording = *stored
	}
	s.metrics.RecordMeetingIngested(ctx, string(domain.SourceCallRecording), in.provider)

	change := sessionChange{opportunityID: opportunity.ID, status: in.status}
	if prior != nil {
		change.priorOpportunityID = prior.OpportunityID
		change.priorStatus = prior.Status
	}
	result.Record = recording
	result.Recalculated = s.afterIngest(ctx, change, domain.SourceCallRecording, in.externalID)
	return result, nil
}

func (s *Ingestor) RecordNotesSession(ctx context.Context, req domain.RecordNotesSessionRequest) (domain.IngestResult[domain.NotesSession], error) {
	var result domain.IngestResult[domain.NotesSession]

	in, err := s.validate(req.OpportunityID, req.Provider, req.ExternalSessionID, req.MeetingDate, req.Status)
	if err != nil {
		return result, err
	}
	opportunity, err := s.loadOpportunity(ctx, in.opportunityID)
	if err != nil {
		return result, err
	}

	prior, err := s.repo.FindNotesSession(ctx, s.db, opportunity.OrgID, in.provider, in.externalID)
	if err != nil {
		return result, err
	}

	now := s.clock.Now().UTC()
	session := domain.NotesSession{
		ID:                s.genID.Generate(),
		OrgID:             opportunity.OrgID,
		OpportunityID:     opportunity.ID,
		Provider:          in.provider,
		ExternalSessionID: in.externalID,
		MeetingDate:       in.meetingDate,
		Status:            in.status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.UpsertNotesSession(ctx, s.db, &session); err != nil {
		return result, err
	}
	stored, err := s.repo.FindNotesSession(ctx, s.db, opportunity.OrgID, in.provider, in.externalID)
	if err != nil {
		return result, err
	}
	if stored != nil {
		session = *stored
	}
	s.metrics.RecordMeetingIngested(ctx, string(domain.SourceNotes), in.provider)

	change := sessionChange{opportunityID: opportunity.ID, status: in.status}
	if prior != nil {
		change.priorOpportunityID = prior.OpportunityID
		change.priorStatus = prior.Status
	}
	result.Record = session
	result.Recalculated = s.afterIngest(ctx, change, domain.SourceNotes, in.externalID)
	return result, nil
}

// sessionChange describes one upsert of a session row. The prior fields are
// zero when the session was first seen.
type sessionChange struct {
	opportunityID      snowflake.ID
	status             domain.SessionStatus
	priorOpportunityID snowflake.ID
	priorStatus        domain.SessionStatus
}

// affected lists the opportunities whose meeting set changed. A session
// counts as a meeting only while completed, so a change that never touches
// a completed state leaves every schedule as it was.
func (c sessionChange) affected() []snowflake.ID {
	if c.status != domain.SessionCompleted && c.priorStatus != domain.SessionCompleted {
		return nil
	}
	ids := []snowflake.ID{c.opportunityID}
	if c.priorOpportunityID != 0 && c.priorOpportunityID != c.opportunityID && c.priorStatus == domain.SessionCompleted {
		ids = append(ids, c.priorOpportunityID)
	}
	return ids
}

// afterIngest recalculates every opportunity the change affected. The
// session row is already stored, so a failed recalculation is logged and
// left to the scheduler's stale sweep. It reports whether at least one
// recalculation ran and none failed.
func (s *Ingestor) afterIngest(ctx context.Context, change sessionChange, source domain.Source, externalID string) bool {
	ids := change.affected()
	if len(ids) == 0 {
		return false
	}
	ctx = nextcalldomain.WithTrigger(ctx, nextcalldomain.TriggerMeeting)
	ok := true
	for _, id := range ids {
		if _, err := s.recalculator.Recalculate(ctx, id); err != nil {
			s.log.Warn("recalculate after ingest failed",
				zap.String("opportunity_id", id.String()),
				zap.String("source", string(source)),
				zap.String("external_id", externalID),
				zap.Error(err),
			)
			ok = false
		}
	}
	return ok
}

type ingestInput struct {
	opportunityID snowflake.ID
	provider      string
	externalID    string
	meetingDate   time.Time
	status        domain.SessionStatus
}

func (s *Ingestor) validate(opportunityID, provider, externalID string, meetingDate time.Time, status string) (ingestInput, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(opportunityID))
	if err != nil || id == 0 {
		return ingestInput{}, domain.ErrInvalidID
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return ingestInput{}, domain.ErrInvalidProvider
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ingestInput{}, domain.ErrInvalidExternalID
	}
	if meetingDate.IsZero() {
		return ingestInput{}, domain.ErrInvalidDate
	}
	st := domain.SessionStatus(strings.ToLower(strings.TrimSpace(status)))
	if st == "" {
		st = domain.SessionCompleted
	}
	if !st.Valid() {
		return ingestInput{}, domain.ErrInvalidStatus
	}
	return ingestInput{
		opportunityID: id,
		provider:      provider,
		externalID:    externalID,
		meetingDate:   meetingDate.UTC(),
		status:        st,
	}, nil
}

func (s *Ingestor) loadOpportunity(ctx context.Context, id snowflake.ID) (*opportunitydomain.Opportunity, error) {
	opportunity, err := s.opportunityRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if opportunity == nil {
		return nil, opportunitydomain.ErrNotFound
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok && opportunity.OrgID != orgID {
		return nil, opportunitydomain.ErrNotFound
	}
	return opportunity, nil
}
