package menu

import "context"

type Repository interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}
