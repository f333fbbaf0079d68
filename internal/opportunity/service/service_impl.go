package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/clock"
	"github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"github.com/smallbiznis/dealcadence/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("opportunity.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOpportunityRequest) (domain.Opportunity, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Opportunity{}, domain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Opportunity{}, domain.ErrInvalidName
	}
	owner := strings.TrimSpace(req.OwnerUserID)
	if owner == "" {
		return domain.Opportunity{}, domain.ErrInvalidOwner
	}
	stage := domain.Stage(strings.TrimSpace(req.Stage))
	if stage == "" {
		stage = domain.StageProspecting
	}
	if !stage.Valid() {
		return domain.Opportunity{}, domain.ErrInvalidStage
	}

	now := s.clock.Now().UTC()
	opportunity := domain.Opportunity{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		OwnerUserID: owner,
		Name:        name,
		Stage:       stage,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, &opportunity); err != nil {
		return domain.Opportunity{}, err
	}

	s.log.Info("opportunity created",
		zap.String("opportunity_id", opportunity.ID.String()),
		zap.String("org_id", orgID.String()),
	)
	return opportunity, nil
}

// GetByID hides opportunities of other organizations when the caller is
// scoped to one.
func (s *Service) GetByID(ctx context.Context, id string) (domain.Opportunity, error) {
	opportunityID, err := ParseID(id)
	if err != nil {
		return domain.Opportunity{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, opportunityID)
	if err != nil {
		return domain.Opportunity{}, err
	}
	if item == nil {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok && item.OrgID != orgID {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	return *item, nil
}

func ParseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
