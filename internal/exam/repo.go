package exam

import "context"

type ListOpts struct {
	SectionID string
	SubjectID string
	Status    Status
	Limit     int
	Offset    int
}

type Store interface {
	CreateBlueprint(ctx context.Context, bp Blueprint) error
	GetBlueprint(ctx context.Context, id string) (Blueprint, error)
	ListBlueprints(ctx context.Context, opts ListOpts) ([]Blueprint, error)

	// UpdateStatus moves id from -> to atomically; it reports false when the
	// stored status was no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)

	// ReplaceLinks swaps the blueprint's question links; it fails unless the
	// blueprint is still in draft when the write happens.
	ReplaceLinks(ctx context.Context, blueprintID string, links []Link) error
	ListLinks(ctx context.Context, blueprintID string) ([]Link, error)

	CountAttempts(ctx context.Context, blueprintID string) (int, error)
}
