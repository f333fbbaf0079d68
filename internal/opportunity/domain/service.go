package domain

import (
	"context"
	"errors"
)

type CreateOpportunityRequest struct {
	Name        string
	OwnerUserID string
	Stage       string
}

type Service interface {
	Create(ctx context.Context, req CreateOpportunityRequest) (Opportunity, error)
	GetByID(ctx context.Context, id string) (Opportunity, error)
}

var (
	ErrNotFound            = errors.New("not_found")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidOwner        = errors.New("invalid_owner")
	ErrInvalidStage        = errors.New("invalid_stage")
)
